package solver

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64s(vals []*uint256.Int) []uint64 {
	out := make([]uint64, len(vals))
	for i, v := range vals {
		out[i] = v.Uint64()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestSatisfiable(t *testing.T) {
	f := NewFrontend(NewBackend())
	x := bv.Sym("x", 8)
	f.Add(bv.Ult(x, bv.Const(10, 8)))
	ok, err := f.Satisfiable()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Satisfiable(bv.Ugt(x, bv.Const(20, 8)))
	require.NoError(t, err)
	assert.False(t, ok)

	f.Add(bv.False())
	ok, err = f.Satisfiable()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalOneUnique(t *testing.T) {
	f := NewFrontend(NewBackend())
	x := bv.Sym("x", 32)
	f.Add(bv.Eq(bv.Add(x, bv.Const(5, 32)), bv.Const(12, 32)))
	v, err := f.EvalOne(x)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Uint64())

	g := NewFrontend(f.Backend())
	_, err = g.EvalOne(x)
	assert.ErrorIs(t, err, symerrors.ErrNotUnique)
}

func TestEvalExactBound(t *testing.T) {
	f := NewFrontend(NewBackend())
	x := bv.Sym("c", 8)
	f.Add(bv.Or(bv.Eq(x, bv.Const('A', 8)), bv.Eq(x, bv.Const('C', 8))))

	vals, err := f.EvalExact(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{'A', 'C'}, u64s(vals))

	_, err = f.EvalExact(x, 1)
	assert.ErrorIs(t, err, symerrors.ErrTooManySolutions)

	_, err = f.EvalExact(x, 3, bv.Eq(x, bv.Const('B', 8)))
	assert.ErrorIs(t, err, symerrors.ErrUnsatisfiable)
}

func TestMinMax(t *testing.T) {
	f := NewFrontend(NewBackend())
	n := bv.ZeroExt(bv.Sym("stdin_0", 8), 32)
	f.Add(bv.Ugt(n, bv.Const(100, 32)))

	lo, err := f.Min(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), lo.Uint64())

	hi, err := f.Max(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), hi.Uint64())

	hi, err = f.Max(n, bv.Ult(n, bv.Const(200, 32)))
	require.NoError(t, err)
	assert.Equal(t, uint64(199), hi.Uint64())
}

func TestMaxFullWidth(t *testing.T) {
	f := NewFrontend(NewBackend())
	x := bv.Sym("wide", 256)
	hi, err := f.Max(x)
	require.NoError(t, err)
	assert.True(t, hi.Eq(bv.Mask(256)))
}

func TestQueryConeSkipsUnrelatedFormulas(t *testing.T) {
	be := NewBackend()
	for i := 0; i < 20; i++ {
		a := bv.Sym(fmt.Sprintf("a%d", i), 64)
		_, err := be.b.lit(bv.Eq(bv.Mul(a, a), bv.Const(uint64(i+1)*0x10001, 64)))
		require.NoError(t, err)
	}
	total := len(be.b.clauses)

	y := bv.Sym("y", 8)
	f := NewFrontend(be)
	f.Add(bv.Eq(y, bv.Const(3, 8)))
	v, err := f.EvalOne(y)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v.Uint64())

	lit, err := be.b.lit(bv.Eq(y, bv.Const(3, 8)))
	require.NoError(t, err)
	cnf, _ := be.b.cone([]int{lit})
	assert.Less(t, len(cnf), 64)
	assert.Greater(t, total, 100*len(cnf))
}

func TestDivisionInsideCone(t *testing.T) {
	be := NewBackend()
	f := NewFrontend(be)
	x := bv.Sym("n", 8)
	f.Add(bv.Eq(x, bv.Const(47, 8)))
	q, err := f.EvalOne(bv.UDiv(x, bv.Const(5, 8)))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), q.Uint64())
	r, err := f.EvalOne(bv.URem(x, bv.Const(5, 8)))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Uint64())
}

func TestBranchIsolation(t *testing.T) {
	f := NewFrontend(NewBackend())
	x := bv.Sym("x", 8)
	f.Add(bv.Ult(x, bv.Const(4, 8)))

	left := f.Branch()
	right := f.Branch()
	left.Add(bv.Eq(x, bv.Const(1, 8)))
	right.Add(bv.Eq(x, bv.Const(2, 8)))

	assert.Len(t, f.Constraints(), 1)
	l, err := left.EvalOne(x)
	require.NoError(t, err)
	r, err := right.EvalOne(x)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l.Uint64())
	assert.Equal(t, uint64(2), r.Uint64())
}

// Every operator agrees with constant folding once the inputs are pinned.
func TestBlastMatchesFolding(t *testing.T) {
	be := NewBackend()
	a := bv.Sym("a", 16)
	b := bv.Sym("b", 16)
	exprs := map[string]*bv.Expr{
		"add":  bv.Add(a, b),
		"sub":  bv.Sub(a, b),
		"mul":  bv.Mul(a, b),
		"udiv": bv.UDiv(a, b),
		"urem": bv.URem(a, b),
		"sdiv": bv.SDiv(a, b),
		"srem": bv.SRem(a, b),
		"shl":  bv.Shl(a, b),
		"lshr": bv.LShr(a, b),
		"ashr": bv.AShr(a, b),
		"and":  bv.And(a, b),
		"xor":  bv.Xor(a, b),
		"neg":  bv.Neg(a),
		"ult":  bv.ZeroExt(bv.Ult(a, b), 16),
		"slt":  bv.ZeroExt(bv.Slt(a, b), 16),
		"sle":  bv.ZeroExt(bv.Sle(a, b), 16),
		"ext":  bv.Extract(15, 0, bv.SignExt(bv.Extract(7, 0, a), 32)),
		"cat":  bv.Concat(bv.Extract(7, 0, b), bv.Extract(15, 8, a)),
		"ite":  bv.Ite(bv.Eq(a, b), a, bv.Not(b)),
	}
	inputs := [][2]uint64{{0, 0}, {1, 0}, {0x8000, 3}, {0xfff9, 2}, {1234, 17}, {7, 0xffff}, {0x7fff, 0x8000}, {5, 5}}
	for name, e := range exprs {
		for _, in := range inputs {
			env := map[string]*bv.Expr{"a": bv.Const(in[0], 16), "b": bv.Const(in[1], 16)}
			want := bv.Substitute(e, env)
			require.True(t, want.IsConst(), name)

			f := NewFrontend(be)
			f.Add(bv.Eq(a, env["a"]), bv.Eq(b, env["b"]))
			got, err := f.EvalOne(e)
			require.NoError(t, err, name)
			assert.Equal(t, want.Value().Uint64(), got.Uint64(), "%s(%#x, %#x)", name, in[0], in[1])
		}
	}
}

func TestConcurrentQueries(t *testing.T) {
	be := NewBackend()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := NewFrontend(be)
			x := bv.Sym("x", 8)
			f.Add(bv.Eq(bv.Mul(x, bv.Const(3, 8)), bv.Const(uint64(3*i), 8)))
			v, err := f.EvalOne(x)
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, uint64(i), v.Uint64())
			}
		}(i)
	}
	wg.Wait()
	q, _ := be.Stats()
	assert.NotZero(t, q)
}
