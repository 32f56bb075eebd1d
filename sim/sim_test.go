package sim

import (
	"context"
	"testing"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/config"
	"github.com/colorfulnotion/jnisym/lanes"
	"github.com/colorfulnotion/jnisym/samples"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMachine(t *testing.T, name string) (*Machine, samples.Sample) {
	t.Helper()
	return configuredMachine(t, name, config.Default())
}

func configuredMachine(t *testing.T, name string, cfg config.Config) (*Machine, samples.Sample) {
	t.Helper()
	smp, ok := samples.Lookup(name)
	require.True(t, ok, name)
	p, err := smp.Program()
	require.NoError(t, err)
	return NewMachine(p, cfg), smp
}

// firstError steps every path until one fails and returns that error.
func firstError(t *testing.T, s *State) error {
	t.Helper()
	active := []*State{s}
	for n := 0; len(active) > 0; n++ {
		require.Less(t, n, 20000, "runaway exploration")
		cur := active[len(active)-1]
		active = active[:len(active)-1]
		if cur.Done() {
			continue
		}
		next, err := cur.Step(context.Background())
		if err != nil {
			return err
		}
		active = append(active, next...)
	}
	return nil
}

// finish steps every path to its end and returns the finished states.
// Pruned paths are dropped.
func finish(t *testing.T, s *State) []*State {
	t.Helper()
	active := []*State{s}
	var dead []*State
	for n := 0; len(active) > 0; n++ {
		require.Less(t, n, 20000, "runaway exploration")
		cur := active[len(active)-1]
		active = active[:len(active)-1]
		if cur.Done() {
			dead = append(dead, cur)
			continue
		}
		next, err := cur.Step(context.Background())
		require.NoError(t, err, "at %s", cur.Addr())
		active = append(active, next...)
	}
	return dead
}

func runSample(t *testing.T, name string) []*State {
	t.Helper()
	m, smp := sampleMachine(t, name)
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	return finish(t, s)
}

func local(t *testing.T, s *State, name string) uint64 {
	t.Helper()
	v, ok := s.Local(name)
	require.True(t, ok, "local %s", name)
	u, err := s.Solver().EvalOne(v)
	require.NoError(t, err, "local %s", name)
	return u.Uint64()
}

func verdict(t *testing.T, s *State) byte {
	t.Helper()
	b, ok := s.Stdout().Byte(0)
	require.True(t, ok)
	u, err := s.Solver().EvalOne(b)
	require.NoError(t, err)
	return byte(u.Uint64())
}

func split(t *testing.T, dead []*State) (win, lose []*State) {
	for _, s := range dead {
		if verdict(t, s) == 'W' {
			win = append(win, s)
		} else {
			lose = append(lose, s)
		}
	}
	return win, lose
}

func TestGetVersion(t *testing.T) {
	dead := runSample(t, "getversion")
	require.Len(t, dead, 1)
	assert.Equal(t, uint64(0x10008), local(t, dead[0], "v"))
	assert.Equal(t, ArchBytecode, dead[0].Arch())
	assert.Empty(t, dead[0].CallFrames())
}

func TestPrimitiveRoundTrip(t *testing.T) {
	dead := runSample(t, "primitives")
	require.Len(t, dead, 1)
	s := dead[0]
	cases := []struct {
		local string
		want  uint64
	}{
		{"a", 1},
		{"b", 0xffffff80},
		{"c", 0x0000ffff},
		{"d", 0xffff8000},
		{"e", 0x80000000},
		{"f", 0xffffffffffffffff},
		{"inc", 0xffffff80},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, local(t, s, tc.local), tc.local)
	}
	f, _ := s.Local("f")
	assert.Equal(t, uint(64), f.Width())
}

func TestArraysFromNative(t *testing.T) {
	dead := runSample(t, "arrays")
	require.Len(t, dead, 1)
	assert.Equal(t, uint64(5), local(t, dead[0], "n"))
	assert.Equal(t, uint64(7), local(t, dead[0], "m"))
}

func TestReverseThroughBorrow(t *testing.T) {
	dead := runSample(t, "reverse")
	require.Len(t, dead, 1)
	s := dead[0]
	for k, name := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, uint64(4-k), local(t, s, name), name)
	}
	assert.Empty(t, s.Diagnostics())
}

func TestBorrowLeak(t *testing.T) {
	dead := runSample(t, "leak")
	require.Len(t, dead, 1)
	diags := dead[0].Diagnostics()
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0].Err, symerrors.ErrBorrowLeak)
}

func TestLeakInTailCall(t *testing.T) {
	dead := runSample(t, "tailleak")
	require.Len(t, dead, 1)
	s := dead[0]
	assert.True(t, s.Done())
	assert.Equal(t, ArchBytecode, s.Arch())
	assert.Empty(t, s.CallFrames())
	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0].Err, symerrors.ErrBorrowLeak)
	_, ok := s.Local("arr")
	assert.True(t, ok)
}

func TestElementFamilies(t *testing.T) {
	dead := runSample(t, "elements")
	require.Len(t, dead, 1)
	s := dead[0]
	for _, tc := range []struct {
		local string
		want  uint64
	}{
		// aborted: the increments never reach the array
		{"z1", 1},
		{"b5", 0x7f},
		{"c9", 0xffff},
		{"s6", 0x7fff},
		{"i7", 0x7fffffff},
		{"l8", 0x7fffffffffffffff},
		// committed: each element wrapped around
		{"z2", 1},
		{"b10", 0xffffff80},
		{"c14", 0},
		{"s11", 0xffff8000},
		{"i12", 0x80000000},
		{"l13", 0x8000000000000000},
	} {
		assert.Equal(t, tc.want, local(t, s, tc.local), tc.local)
	}
	assert.Empty(t, s.Diagnostics())
}

func TestNativeArrayLength(t *testing.T) {
	dead := runSample(t, "lengths")
	require.Len(t, dead, 1)
	s := dead[0]
	assert.Equal(t, uint64(10), local(t, s, "i3"))
	n, ok := s.Local("i4")
	require.True(t, ok)
	lo, err := s.Solver().Min(n)
	require.NoError(t, err)
	hi, err := s.Solver().Max(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo.Uint64())
	assert.Equal(t, uint64(255), hi.Uint64())
}

func TestSymbolicBorrow(t *testing.T) {
	s, idx := winningInput(t, "symborrow")
	v, err := s.Solver().EvalOne(idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(223), v.Uint64())
	n, ok := s.Stdin().Byte(1)
	require.True(t, ok)
	lo, err := s.Solver().Min(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(224), lo.Uint64())
}

func TestInfeasibleLengthIsPruned(t *testing.T) {
	dead := runSample(t, "badlength")
	require.Len(t, dead, 1)
	assert.Equal(t, byte('W'), verdict(t, dead[0]))
}

func TestStackLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Native.StackSize = 0x10
	m, smp := configuredMachine(t, "reverse", cfg)
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	assert.ErrorIs(t, firstError(t, s), symerrors.ErrStackOverflow)

	// the default stack is deep enough
	assert.NotEmpty(t, runSample(t, "reverse"))
}

func TestEvalLimitCapsAddressCandidates(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.EvalLimit = 10
	m, smp := configuredMachine(t, "symborrow", cfg)
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	assert.ErrorIs(t, firstError(t, s), symerrors.ErrSymbolicIndexWidth)
}

func TestNativeBranchCrackme(t *testing.T) {
	dead := runSample(t, "crackme")
	require.Len(t, dead, 2)
	win, lose := split(t, dead)
	require.Len(t, win, 1)
	require.Len(t, lose, 1)
	in, ok := win[0].Stdin().Byte(0)
	require.True(t, ok)
	v, err := win[0].Solver().EvalOne(in)
	require.NoError(t, err)
	assert.Equal(t, uint64('A'), v.Uint64())
	ok, err = lose[0].Solver().Solution(in, uint256.NewInt('A'))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegionSum(t *testing.T) {
	dead := runSample(t, "regionsum")
	win, lose := split(t, dead)
	require.Len(t, win, 1)
	require.NotEmpty(t, lose)
	idx, err := win[0].Solver().EvalOne(bv.Sym("arg_idx", 32))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), idx.Uint64())
}

func TestSetOneSymbolicIndex(t *testing.T) {
	dead := runSample(t, "setone")
	win, lose := split(t, dead)
	require.Len(t, win, 1)
	require.Len(t, lose, 1)
	idx := bv.Sym("arg_idx", 32)
	v, err := win[0].Solver().EvalOne(idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.Uint64())
	vals, err := lose[0].Solver().EvalExact(idx, 2)
	require.NoError(t, err)
	got := []uint64{vals[0].Uint64(), vals[1].Uint64()}
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func winningInput(t *testing.T, name string) (*State, *bv.Expr) {
	t.Helper()
	win, _ := split(t, runSample(t, name))
	require.Len(t, win, 1)
	in, ok := win[0].Stdin().Byte(0)
	require.True(t, ok)
	return win[0], in
}

func TestSymbolicArrayLength(t *testing.T) {
	s, in := winningInput(t, "symlen")
	v, err := s.Solver().EvalOne(in)
	require.NoError(t, err)
	assert.Equal(t, uint64('F'), v.Uint64())
}

func TestSymbolicArrayWrite(t *testing.T) {
	s, in := winningInput(t, "symwrite")
	idx, err := s.Solver().EvalOne(in)
	require.NoError(t, err)
	assert.Equal(t, uint64('I'), idx.Uint64())
	val, ok := s.Stdin().Byte(1)
	require.True(t, ok)
	v, err := s.Solver().EvalOne(val)
	require.NoError(t, err)
	assert.Equal(t, uint64('5'), v.Uint64())
}

func TestSymbolicArrayRead(t *testing.T) {
	s, in := winningInput(t, "symread")
	vals, err := s.Solver().EvalExact(in, 2)
	require.NoError(t, err)
	got := []uint64{vals[0].Uint64(), vals[1].Uint64()}
	assert.ElementsMatch(t, []uint64{'A', 'C'}, got)
	_, err = s.Solver().EvalExact(in, 1)
	assert.ErrorIs(t, err, symerrors.ErrTooManySolutions)
}

func TestOutOfBoundsReads(t *testing.T) {
	dead := runSample(t, "bounds")
	require.Len(t, dead, 1)
	s := dead[0]
	for _, name := range []string{"i1", "i4"} {
		_, ok := s.Local(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"i2", "i3", "i5"} {
		_, ok := s.Local(name)
		assert.False(t, ok, name)
	}
	diags := s.Diagnostics()
	require.Len(t, diags, 3)
	for _, d := range diags {
		assert.ErrorIs(t, d.Err, symerrors.ErrIndexOutOfRange)
	}
	n, ok := s.Local("c")
	require.True(t, ok)
	lo, err := s.Solver().Min(n)
	require.NoError(t, err)
	hi, err := s.Solver().Max(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), lo.Uint64())
	assert.Equal(t, uint64(255), hi.Uint64())
}

func nativeState(t *testing.T, name string) *State {
	t.Helper()
	m, smp := sampleMachine(t, name)
	addr, ok := m.Loader().Symbol(smp.Entry)
	require.True(t, ok)
	s, err := m.BlankState(NativeAddr(addr))
	require.NoError(t, err)
	return s
}

func TestVectorOpcodes(t *testing.T) {
	a := bv.MustHex("0x0f0e0d0c0b0a09080706050403020100", 128).Value()
	b := bv.MustHex("0x8000010203040506070809fa0b0c0d0e", 128).Value()
	for _, tc := range []struct {
		sample string
		want   *uint256.Int
	}{
		{"pshufb", lanes.PermuteValue(a, b)},
		{"pmulhw", lanes.MulHiS16Value(a, b)},
	} {
		t.Run(tc.sample, func(t *testing.T) {
			s := nativeState(t, tc.sample)
			require.NoError(t, s.RegFile().Store("xmm1", bv.ConstInt(a, 128)))
			require.NoError(t, s.RegFile().Store("xmm2", bv.ConstInt(b, 128)))
			next, err := s.Step(context.Background())
			require.NoError(t, err)
			require.Len(t, next, 1)
			got, err := next[0].RegFile().Load("xmm1")
			require.NoError(t, err)
			require.True(t, got.IsConst())
			assert.Equal(t, tc.want.Hex(), got.Value().Hex())

			// hlt ends the path
			final, err := next[0].Step(context.Background())
			require.NoError(t, err)
			require.Len(t, final, 1)
			assert.True(t, final[0].Done())
			after, err := final[0].Step(context.Background())
			require.NoError(t, err)
			assert.Empty(t, after)
		})
	}
}

func TestSymbolicShuffle(t *testing.T) {
	s := nativeState(t, "pshufb")
	src := bv.Sym("src", 128)
	require.NoError(t, s.RegFile().Store("xmm1", src))
	require.NoError(t, s.RegFile().Store("xmm2", bv.MustHex("0x000102030405060708090a0b0c0d0e0f", 128)))
	next, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, next, 1)
	out, err := next[0].RegFile().Load("xmm1")
	require.NoError(t, err)
	target := bv.MustHex("0x00112233445566778899aabbccddeeff", 128)
	v, err := next[0].Solver().EvalOne(src, bv.Eq(out, target))
	require.NoError(t, err)
	assert.Equal(t, "0xffeeddccbbaa99887766554433221100", v.Hex())
}

func TestShuffleWithSymbolicSelector(t *testing.T) {
	s := nativeState(t, "pshufb")
	src := bv.Sym("src", 128)
	sel := bv.Sym("sel", 128)
	require.NoError(t, s.RegFile().Store("xmm1", src))
	require.NoError(t, s.RegFile().Store("xmm2", sel))
	next, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, next, 1)
	out, err := next[0].RegFile().Load("xmm1")
	require.NoError(t, err)
	assert.False(t, out.IsConst())
	f := next[0].Solver()

	reverse := bv.Eq(sel, bv.MustHex("0x000102030405060708090a0b0c0d0e0f", 128))
	target := bv.Eq(out, bv.MustHex("0x00112233445566778899aabbccddeeff", 128))
	v, err := f.EvalOne(src, reverse, target)
	require.NoError(t, err)
	assert.Equal(t, "0xffeeddccbbaa99887766554433221100", v.Hex())

	// a selector byte with its top bit set zeroes the lane whatever the source
	lane, err := f.EvalOne(bv.Extract(7, 0, out), bv.Eq(bv.Extract(7, 0, sel), bv.Const(0x80, 8)))
	require.NoError(t, err)
	assert.Zero(t, lane.Uint64())

	// otherwise the low nibble picks the source byte
	pick := bv.Eq(bv.Extract(7, 0, sel), bv.Const(0x03, 8))
	same, err := f.Valid(bv.Or(bv.Not(pick), bv.Eq(bv.Extract(7, 0, out), bv.Extract(31, 24, src))))
	require.NoError(t, err)
	assert.True(t, same)
}

func TestStepLeavesStateUntouched(t *testing.T) {
	m, smp := sampleMachine(t, "crackme")
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	before := s.Addr()
	next, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, before, s.Addr())
	_, ok := s.Local("c")
	assert.False(t, ok)
	_, ok = next[0].Local("c")
	assert.True(t, ok)
	assert.Equal(t, 1, next[0].Steps())
	assert.Equal(t, s.ID(), next[0].Parent())
}

func TestStepCancelled(t *testing.T) {
	m, smp := sampleMachine(t, "crackme")
	s, err := m.EntryState(smp.Entry)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
