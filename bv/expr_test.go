package bv

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(t *testing.T, e *Expr) uint64 {
	t.Helper()
	v, ok := e.Uint64()
	require.True(t, ok, "expected constant, got %s", e)
	return v
}

func TestConstantFolding(t *testing.T) {
	cases := []struct {
		name string
		e    *Expr
		want uint64
	}{
		{"add wraps", Add(Const(0xff, 8), Const(2, 8)), 1},
		{"sub wraps", Sub(Const(0, 8), Const(1, 8)), 0xff},
		{"mul", Mul(Const(7, 16), Const(9, 16)), 63},
		{"udiv", UDiv(Const(100, 32), Const(7, 32)), 14},
		{"udiv by zero", UDiv(Const(5, 8), Const(0, 8)), 0xff},
		{"urem by zero", URem(Const(5, 8), Const(0, 8)), 5},
		{"sdiv", SDiv(Const(0xfffffff9, 32), Const(2, 32)), 0xfffffffd},
		{"srem", SRem(Const(0xfffffff9, 32), Const(2, 32)), 0xffffffff},
		{"shl", Shl(Const(1, 8), Const(7, 8)), 0x80},
		{"shl overflow", Shl(Const(1, 8), Const(9, 8)), 0},
		{"lshr", LShr(Const(0x80, 8), Const(7, 8)), 1},
		{"ashr", AShr(Const(0x80, 8), Const(7, 8)), 0xff},
		{"ashr overflow", AShr(Const(0x80, 8), Const(200, 8)), 0xff},
		{"extract", Extract(15, 8, Const(0xabcd, 16)), 0xab},
		{"concat", Concat(Const(0xab, 8), Const(0xcd, 8)), 0xabcd},
		{"zext", ZeroExt(Const(0x80, 8), 32), 0x80},
		{"sext", SignExt(Const(0x80, 8), 32), 0xffffff80},
		{"not", Not(Const(0x0f, 8)), 0xf0},
		{"neg", Neg(Const(1, 16)), 0xffff},
		{"slt", Slt(Const(0xff, 8), Const(1, 8)), 1},
		{"ult", Ult(Const(0xff, 8), Const(1, 8)), 0},
		{"sle", Sle(Const(3, 8), Const(3, 8)), 1},
		{"ite", Ite(True(), Const(1, 8), Const(2, 8)), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, val(t, tc.e))
		})
	}
}

func TestWideConstants(t *testing.T) {
	a := MustHex("0x3c899a56814ee9b84c7b5d8394c85881", 128)
	hi := Extract(127, 64, a)
	lo := Extract(63, 0, a)
	assert.Equal(t, uint64(0x3c899a56814ee9b8), val(t, hi))
	assert.Equal(t, uint64(0x4c7b5d8394c85881), val(t, lo))
	assert.True(t, Concat(hi, lo).Value().Eq(a.Value()))

	full := Const(0, 256)
	assert.True(t, Not(full).Value().Eq(Mask(256)))
}

func TestIdentitySimplification(t *testing.T) {
	x := Sym("x", 32)
	assert.Same(t, x, Add(x, Const(0, 32)))
	assert.Same(t, x, And(x, Const(0xffffffff, 32)))
	assert.Same(t, x, Not(Not(x)))
	assert.True(t, Eq(x, x).IsTrue())
	assert.True(t, isZero(Xor(x, x)))
	assert.True(t, isZero(Mul(x, Const(0, 32))))
}

func TestConcatOfSlicesRebuildsSource(t *testing.T) {
	x := Sym("x", 64)
	var parts []*Expr
	for i := 7; i >= 0; i-- {
		parts = append(parts, Extract(uint(i*8+7), uint(i*8), x))
	}
	assert.Same(t, x, Concat(parts...))

	// a middle slice stays an extract
	mid := Concat(Extract(31, 24, x), Extract(23, 16, x))
	require.Equal(t, OpExtract, mid.Op())
	hi, lo := mid.Bounds()
	assert.Equal(t, uint(31), hi)
	assert.Equal(t, uint(16), lo)
}

func TestExtractThroughExtensions(t *testing.T) {
	x := Sym("x", 8)
	assert.Same(t, x, Extract(7, 0, ZeroExt(x, 32)))
	assert.True(t, isZero(Extract(31, 8, ZeroExt(x, 32))))
	assert.Same(t, x, Extract(7, 0, SignExt(x, 32)))
	assert.Same(t, x, Extract(15, 8, Concat(x, Sym("y", 8))))
}

func TestWidthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Add(Sym("a", 8), Sym("b", 16)) })
	assert.Panics(t, func() { Extract(8, 0, Sym("a", 8)) })
	assert.Panics(t, func() { Sym("wide", 257) })
	assert.Panics(t, func() { Ite(Sym("c", 8), Const(1, 8), Const(0, 8)) })
}

func TestSubstituteAndEval(t *testing.T) {
	x := Sym("x", 32)
	y := Sym("y", 32)
	e := Add(Mul(x, Const(3, 32)), y)

	part := Substitute(e, map[string]*Expr{"x": Const(5, 32)})
	assert.False(t, part.IsConst())
	assert.ElementsMatch(t, []string{"y"}, Symbols(part))

	v, ok := Eval(e, map[string]*uint256.Int{"x": uint256.NewInt(5), "y": uint256.NewInt(1)})
	require.True(t, ok)
	assert.Equal(t, uint64(16), v.Uint64())

	_, ok = Eval(e, map[string]*uint256.Int{"x": uint256.NewInt(5)})
	assert.False(t, ok)
}

func TestSignedValue(t *testing.T) {
	v, ok := Const(0xff, 8).Int64()
	require.True(t, ok)
	assert.Equal(t, int64(-1), v)
	v, ok = Const(0x7f, 8).Int64()
	require.True(t, ok)
	assert.Equal(t, int64(127), v)
}

func TestString(t *testing.T) {
	e := Add(Sym("x", 8), Const(1, 8))
	assert.Equal(t, "(bvadd x 0x1#8)", e.String())
}
