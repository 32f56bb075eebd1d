package lanes

import (
	"testing"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/solver"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hex128(t *testing.T, s string) *uint256.Int {
	t.Helper()
	e, err := bv.ConstHex(s, VectorBits)
	require.NoError(t, err)
	return e.Value()
}

func TestPermuteConcrete(t *testing.T) {
	src := hex128(t, "0x3c899a56814ee9b84c7b5d8394c85881")
	sel := hex128(t, "0xa55c66a2cdef1cbcd72b42078d1b7f8b")
	want := hex128(t, "0x00567b00000056000081c84c00813c00")
	assert.Equal(t, want.Hex(), PermuteValue(src, sel).Hex())
}

func TestPermuteSolvesForSource(t *testing.T) {
	sel := hex128(t, "0xa55c66a2cdef1cbcd72b42078d1b7f8b")
	want := hex128(t, "0x00567b00000056000081c84c00813c00")

	f := solver.NewFrontend(solver.NewBackend())
	src := bv.Sym("src", VectorBits)
	f.Add(bv.Eq(Permute(src, bv.ConstInt(sel, VectorBits)), bv.ConstInt(want, VectorBits)))

	got, err := f.Any(src)
	require.NoError(t, err)
	assert.Equal(t, want.Hex(), PermuteValue(got, sel).Hex())

	// the selector reads byte 12 twice, so that byte is pinned
	b12, err := f.EvalOne(bv.Extract(103, 96, src))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x56), b12.Uint64())
}

func TestPermuteReverseIsInvertible(t *testing.T) {
	sel := hex128(t, "0x000102030405060708090a0b0c0d0e0f")
	want := hex128(t, "0x00112233445566778899aabbccddeeff")

	f := solver.NewFrontend(solver.NewBackend())
	src := bv.Sym("src", VectorBits)
	f.Add(bv.Eq(Permute(src, bv.ConstInt(sel, VectorBits)), bv.ConstInt(want, VectorBits)))
	got, err := f.EvalOne(src)
	require.NoError(t, err)
	assert.Equal(t, "0xffeeddccbbaa99887766554433221100", got.Hex())
}

func TestMulHiS16Concrete(t *testing.T) {
	a := hex128(t, "0x3aca92553c2526d4f20987aeab250255")
	b := hex128(t, "0x1aebcb281463274ec3ce6473619a8541")
	want := hex128(t, "0x062e16a304ca05f60348d0c9dfa5fee1")
	assert.Equal(t, want.Hex(), MulHiS16Value(a, b).Hex())
}

func TestMulHiS16Symbolic(t *testing.T) {
	a := hex128(t, "0x3aca92553c2526d4f20987aeab250255")
	b := hex128(t, "0x1aebcb281463274ec3ce6473619a8541")
	want := hex128(t, "0x062e16a304ca05f60348d0c9dfa5fee1")

	f := solver.NewFrontend(solver.NewBackend())
	x := bv.Sym("x", VectorBits)
	f.Add(bv.Eq(x, bv.ConstInt(a, VectorBits)))
	got, err := f.EvalOne(MulHiS16(x, bv.ConstInt(b, VectorBits)))
	require.NoError(t, err)
	assert.Equal(t, want.Hex(), got.Hex())
}

func TestLaneOps(t *testing.T) {
	a := hex128(t, "0x000000010000000200000003000000ff")
	b := hex128(t, "0x00000001000000050000000300000001")
	cases := []struct {
		op   string
		want string
	}{
		{"PADDD", "0x00000002000000070000000600000100"},
		{"PADDB", "0x00000002000000070000000600000000"},
		{"PSUBD", "0x00000000fffffffd00000000000000fe"},
		{"PCMPEQD", "0xffffffff00000000ffffffff00000000"},
		{"PMINUB", "0x00000001000000020000000300000001"},
		{"PMAXUB", "0x000000010000000500000003000000ff"},
		{"PXOR", "0x000000000000000700000000000000fe"},
		{"PANDN", "0x00000000000000050000000000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			op, ok := Lookup(tc.op)
			require.True(t, ok)
			assert.Equal(t, hex128(t, tc.want).Hex(), Eval(op, a, b).Hex())
		})
	}
}

func TestSplitJoin(t *testing.T) {
	v := bv.Sym("v", VectorBits)
	for _, w := range []uint{8, 16, 32, 64} {
		assert.Same(t, v, Join(Split(v, w)))
	}
	assert.Panics(t, func() { Split(v, 24) })
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("VPSHUFB")
	assert.False(t, ok)
	assert.Contains(t, Mnemonics(), "PSHUFB")
}
