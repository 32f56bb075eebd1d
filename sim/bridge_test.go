package sim

import (
	"testing"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(t *testing.T, sample string) *State {
	t.Helper()
	m, smp := sampleMachine(t, sample)
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	return s
}

func intArray(t *testing.T, s *State, vals ...uint64) memory.Handle {
	t.Helper()
	h, err := s.NewArray(program.Int, bv.Const(uint64(len(vals)), 32))
	require.NoError(t, err)
	for k, x := range vals {
		ok, err := s.ArrayStore(h, bv.Const(uint64(k), 32), bv.Const(x, 32))
		require.NoError(t, err)
		require.True(t, ok)
	}
	return h
}

func elem(t *testing.T, s *State, h memory.Handle, k uint64) uint64 {
	t.Helper()
	v, ok, err := s.ArrayLoad(h, bv.Const(k, 32))
	require.NoError(t, err)
	require.True(t, ok)
	u, err := s.Solver().EvalOne(v)
	require.NoError(t, err)
	return u.Uint64()
}

func TestNewArrayLength(t *testing.T) {
	s := entry(t, "arrays")
	_, err := s.NewArray(program.Int, bv.Const(0xffffffff, 32))
	assert.ErrorIs(t, err, symerrors.ErrInvalidLength)

	n := bv.Sym("n", 32)
	h, err := s.NewArray(program.Byte, n)
	require.NoError(t, err)
	got, err := s.ArrayLength(h)
	require.NoError(t, err)
	assert.Same(t, n, got)
	hi, err := s.Solver().Max(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fffffff), hi.Uint64())
}

func TestArrayRegions(t *testing.T) {
	s := entry(t, "arrays")
	h := intArray(t, s, 10, 11, 12, 13)

	vals, ok, err := s.GetArrayRegion(h, bv.Const(1, 32), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, vals, 2)
	assert.Equal(t, "0xb#32", vals[0].String())

	ok, err = s.SetArrayRegion(h, bv.Const(2, 32), []*bv.Expr{bv.Const(7, 32), bv.Const(8, 32)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), elem(t, s, h, 2))
	assert.Equal(t, uint64(8), elem(t, s, h, 3))

	// a window past the end is skipped with a warning
	_, ok, err = s.GetArrayRegion(h, bv.Const(3, 32), 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.SetArrayRegion(h, bv.Const(0xffffffff, 32), []*bv.Expr{bv.Const(1, 32)})
	require.NoError(t, err)
	assert.False(t, ok)
	diags := s.Diagnostics()
	require.Len(t, diags, 2)
	assert.ErrorIs(t, diags[1].Err, symerrors.ErrIndexOutOfRange)
	assert.Equal(t, uint64(10), elem(t, s, h, 0))
}

func TestRegionOnSymbolicLength(t *testing.T) {
	s := entry(t, "arrays")
	n := bv.Sym("n", 32)
	s.AddConstraints(bv.Ule(n, bv.Const(255, 32)))
	h, err := s.NewArray(program.Int, n)
	require.NoError(t, err)

	// no feasible length holds [250, 260)
	_, ok, err := s.GetArrayRegion(h, bv.Const(250, 32), 10)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, s.Diagnostics(), 1)
	lo, err := s.Solver().Min(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo.Uint64())

	// [3, 5) fits some lengths, so the path keeps only those
	vals, ok, err := s.GetArrayRegion(h, bv.Const(3, 32), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, vals, 2)
	lo, err = s.Solver().Min(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), lo.Uint64())
	assert.Len(t, s.Diagnostics(), 1)
}

func TestSymbolicIndexFanout(t *testing.T) {
	s := entry(t, "arrays")
	h, err := s.NewArray(program.Int, bv.Const(1000, 32))
	require.NoError(t, err)
	_, _, err = s.ArrayLoad(h, bv.Sym("k", 32))
	assert.ErrorIs(t, err, symerrors.ErrSymbolicIndexWidth)
}

func TestBorrowCommitAndAbort(t *testing.T) {
	s := entry(t, "arrays")
	h := intArray(t, s, 1, 2, 3)

	b, err := s.GetArrayElements(h)
	require.NoError(t, err)
	require.Len(t, b.Elems, 3)
	b.Elems[0] = bv.Const(9, 32)
	require.NoError(t, b.Abort())
	assert.Equal(t, uint64(1), elem(t, s, h, 0))

	b, err = s.GetArrayElements(h)
	require.NoError(t, err)
	b.Elems[0] = bv.Const(9, 32)
	require.NoError(t, b.Commit())
	assert.Equal(t, uint64(9), elem(t, s, h, 0))
	assert.Empty(t, s.Diagnostics())

	// releasing again is only a warning
	require.NoError(t, s.ReleaseArrayElements(h, ReleaseCommitFree))
	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0].Err, symerrors.ErrUnborrowed)
}

func TestReleaseCommitKeepsBorrow(t *testing.T) {
	s := entry(t, "arrays")
	h := intArray(t, s, 1, 2)
	b, err := s.GetArrayElements(h)
	require.NoError(t, err)
	b.Elems[1] = bv.Const(5, 32)
	require.NoError(t, s.ReleaseArrayElements(h, ReleaseCommit))
	assert.Equal(t, uint64(5), elem(t, s, h, 1))
	b.Elems[1] = bv.Const(6, 32)
	require.NoError(t, s.ReleaseArrayElements(h, ReleaseCommitFree))
	assert.Equal(t, uint64(6), elem(t, s, h, 1))
	assert.Empty(t, s.Diagnostics())
}

func TestBorrowsForkWithState(t *testing.T) {
	s := entry(t, "arrays")
	h := intArray(t, s, 1)
	b, err := s.GetArrayElements(h)
	require.NoError(t, err)
	c := s.Clone()
	b.Elems[0] = bv.Const(4, 32)
	require.NoError(t, b.Commit())
	require.NoError(t, c.ReleaseArrayElements(h, ReleaseCommitFree))
	assert.Equal(t, uint64(4), elem(t, s, h, 0))
	assert.Equal(t, uint64(1), elem(t, c, h, 0))
}

func TestForeignCallFrames(t *testing.T) {
	s := entry(t, "arrays")
	m := s.Machine()
	h := intArray(t, s, 1, 2, 3)
	meth, ok := m.Loader().Method("Test.length")
	require.True(t, ok)

	_, err := s.EnterForeignCall(meth, nil, nil, "")
	assert.ErrorIs(t, err, symerrors.ErrBadSignature)

	resume := BytecodeAddr{Method: "Test.main", Block: 0, Stmt: 4}
	cf, err := s.EnterForeignCall(meth, []*bv.Expr{bv.Const(uint64(h), 32)}, resume, "len")
	require.NoError(t, err)
	assert.True(t, s.IsNative())
	assert.Equal(t, resume, cf.Resume)
	require.Len(t, s.CallFrames(), 1)

	rdi, err := s.RegFile().Load("rdi")
	require.NoError(t, err)
	assert.Equal(t, m.JNIEnvAddr(), mustUint(t, rdi))
	rdx, err := s.RegFile().Load("rdx")
	require.NoError(t, err)
	assert.Equal(t, uint64(h), mustUint(t, rdx))
	rsp, err := s.RegFile().Load("rsp")
	require.NoError(t, err)
	assert.Equal(t, m.ReturnHook(), mustUint(t, s.Flat().Load(mustUint(t, rsp), 8)))

	require.NoError(t, s.RegFile().Store("rax", bv.Const(0xdead00000003, 64)))
	_, err = s.LeaveForeignCall()
	require.NoError(t, err)
	assert.False(t, s.IsNative())
	assert.Equal(t, resume, s.Addr())
	assert.Equal(t, uint64(3), local(t, s, "len"))

	_, err = s.LeaveForeignCall()
	assert.ErrorIs(t, err, symerrors.ErrNoCallFrame)
}

func mustUint(t *testing.T, e *bv.Expr) uint64 {
	t.Helper()
	v, ok := e.Uint64()
	require.True(t, ok, "%s is not constant", e)
	return v
}

func TestSetIP(t *testing.T) {
	s := entry(t, "arrays")
	m := s.Machine()
	addr, ok := m.Loader().Symbol(program.JNISymbol("Test.length"))
	require.True(t, ok)

	frames := len(s.Frames())
	require.NoError(t, s.SetIP(NativeAddr(addr)))
	require.NoError(t, s.SetIP(NativeAddr(addr)))
	assert.Equal(t, ArchAMD64, s.Arch())
	assert.Equal(t, memory.KindRegisterBytes, s.Registers().Kind())

	back := BytecodeAddr{Method: "Test.main", Block: 0, Stmt: 1}
	require.NoError(t, s.SetIP(back))
	require.NoError(t, s.SetIP(back))
	assert.Equal(t, ArchBytecode, s.Arch())
	assert.Equal(t, frames, len(s.Frames()))
	assert.Equal(t, memory.KindObjectHeap, s.Memory().Kind())

	err := s.SetIP(NativeAddr(0x10))
	assert.ErrorIs(t, err, symerrors.ErrAddressResolution)
	err = s.SetIP(BytecodeAddr{Method: "Test.main", Block: 9})
	assert.ErrorIs(t, err, symerrors.ErrAddressResolution)
	err = s.SetIP(MethodEntry("Test.length"))
	assert.ErrorIs(t, err, symerrors.ErrAddressResolution)
	assert.Equal(t, back, s.Addr())
}

func TestCloneIsolation(t *testing.T) {
	s := entry(t, "arrays")
	h := intArray(t, s, 1, 2)
	c := s.Clone()
	assert.NotEqual(t, s.ID(), c.ID())
	assert.Equal(t, s.ID(), c.Parent())

	_, err := c.ArrayStore(h, bv.Const(0, 32), bv.Const(42, 32))
	require.NoError(t, err)
	require.NoError(t, c.RegFile().Store("rax", bv.Const(1, 64)))
	require.NoError(t, c.Locals().Store("x", bv.Const(1, 32)))
	c.AddConstraints(bv.Eq(bv.Sym("q", 8), bv.Const(3, 8)))

	assert.Equal(t, uint64(1), elem(t, s, h, 0))
	assert.Equal(t, uint64(42), elem(t, c, h, 0))
	_, ok := s.Local("x")
	assert.False(t, ok)
	assert.Empty(t, s.Constraints())
	assert.Len(t, c.Constraints(), 1)
	rax, err := s.RegFile().Load("rax")
	require.NoError(t, err)
	assert.False(t, rax.IsConst())
}
