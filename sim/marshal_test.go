package sim

import (
	"math"
	"testing"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot(t *testing.T) {
	cases := []struct {
		name  string
		got   *bv.Expr
		want  uint64
		width uint
	}{
		{"boolean", Slot(program.Boolean, 5), 1, 32},
		{"byte", Slot(program.Byte, int8(math.MinInt8)), 0xffffff80, 32},
		{"byte wraps", Slot(program.Byte, 0x17f), 0x7f, 32},
		{"char", Slot(program.Char, uint16(0xffff)), 0xffff, 32},
		{"short", Slot(program.Short, int16(math.MinInt16)), 0xffff8000, 32},
		{"int", Slot(program.Int, int32(-1)), 0xffffffff, 32},
		{"long", Slot(program.Long, int64(-2)), 0xfffffffffffffffe, 64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.width, tc.got.Width())
			assert.Equal(t, tc.want, mustUint(t, tc.got))
		})
	}
}

func TestMarshalArg(t *testing.T) {
	cases := []struct {
		typ  program.Type
		in   *bv.Expr
		want uint64
	}{
		{program.Boolean, bv.Const(2, 32), 1},
		{program.Boolean, bv.Const(0, 32), 0},
		{program.Byte, bv.Const(0xffffff80, 32), 0xffffffffffffff80},
		{program.Char, bv.Const(0xffffffff, 32), 0xffff},
		{program.Short, bv.Const(0x8000, 32), 0xffffffffffff8000},
		{program.Int, bv.Const(0x80000000, 32), 0xffffffff80000000},
		{program.Long, bv.Const(math.MaxUint64, 64), math.MaxUint64},
		{program.Ref, bv.Const(0x80000001, 32), 0x80000001},
	}
	for _, tc := range cases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			got, err := MarshalArg(tc.typ, tc.in)
			require.NoError(t, err)
			assert.Equal(t, uint(64), got.Width())
			assert.Equal(t, tc.want, mustUint(t, got))
		})
	}

	_, err := MarshalArg(program.Int, bv.Const(1, 64))
	assert.ErrorIs(t, err, symerrors.ErrTypeMismatch)
	_, err = MarshalArg(program.Long, bv.Const(1, 32))
	assert.ErrorIs(t, err, symerrors.ErrTypeMismatch)
}

func TestUnmarshalReturn(t *testing.T) {
	raw := bv.Const(0xdeadbeef_00018280, 64)
	cases := []struct {
		typ  program.Type
		want uint64
	}{
		{program.Boolean, 1},
		{program.Byte, 0xffffff80},
		{program.Char, 0x8280},
		{program.Short, 0xffff8280},
		{program.Int, 0x00018280},
		{program.Ref, 0x00018280},
		{program.Long, 0xdeadbeef_00018280},
	}
	for _, tc := range cases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, mustUint(t, UnmarshalReturn(tc.typ, raw)))
		})
	}
	assert.Nil(t, UnmarshalReturn(program.Void, raw))
	// only the low byte of a boolean counts
	assert.Equal(t, uint64(0), mustUint(t, UnmarshalReturn(program.Boolean, bv.Const(0x100, 64))))
}

func TestSymbolicMarshalRoundTrip(t *testing.T) {
	s := entry(t, "getversion")
	x := bv.Sym("x", 32)
	for _, typ := range []program.Type{program.Byte, program.Char, program.Short, program.Int} {
		arg, err := MarshalArg(typ, x)
		require.NoError(t, err)
		back := UnmarshalReturn(typ, arg)
		// the round trip is the identity on canonical slot values
		canonical := widen(typ, bv.Resize(x, typ.Bits()))
		valid, err := s.Solver().Valid(bv.Eq(back, canonical))
		require.NoError(t, err)
		assert.True(t, valid, typ.String())
	}
}
