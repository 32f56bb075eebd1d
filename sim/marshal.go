package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
	"golang.org/x/exp/constraints"
)

// Slot builds the canonical bytecode slot value of a Go integer: sub-int
// types are narrowed to their Java width, then widened to 32 bits.
func Slot[T constraints.Integer](t program.Type, v T) *bv.Expr {
	raw := uint64(v)
	switch t {
	case program.Boolean:
		if v != 0 {
			return bv.Const(1, 32)
		}
		return bv.Const(0, 32)
	case program.Long:
		return bv.Const(raw, 64)
	}
	narrow := bv.Const(raw, t.Bits())
	if t.Signed() {
		return bv.SignExt(narrow, t.SlotBits())
	}
	return bv.ZeroExt(narrow, t.SlotBits())
}

// MarshalArg converts a slot value into the 64-bit native argument for t.
func MarshalArg(t program.Type, v *bv.Expr) (*bv.Expr, error) {
	if v.Width() != t.SlotBits() {
		return nil, fmt.Errorf("%s argument of %d bits: %w", t, v.Width(), symerrors.ErrTypeMismatch)
	}
	switch t {
	case program.Boolean:
		return bv.ZeroExt(bv.Ite(bv.NonZero(v), bv.Const(1, 8), bv.Const(0, 8)), 64), nil
	case program.Byte:
		return bv.SignExt(bv.Extract(7, 0, v), 64), nil
	case program.Char:
		return bv.ZeroExt(bv.Extract(15, 0, v), 64), nil
	case program.Short:
		return bv.SignExt(bv.Extract(15, 0, v), 64), nil
	case program.Int:
		return bv.SignExt(v, 64), nil
	case program.Long:
		return v, nil
	case program.Ref:
		return bv.ZeroExt(v, 64), nil
	}
	return nil, fmt.Errorf("%s argument: %w", t, symerrors.ErrBadSignature)
}

// UnmarshalReturn narrows rax to the declared return type and widens the
// result back to a slot. Void returns nil.
func UnmarshalReturn(t program.Type, raw *bv.Expr) *bv.Expr {
	raw = bv.Resize(raw, 64)
	switch t {
	case program.Boolean:
		return bv.Ite(bv.NonZero(bv.Extract(7, 0, raw)), bv.Const(1, 32), bv.Const(0, 32))
	case program.Byte:
		return bv.SignExt(bv.Extract(7, 0, raw), 32)
	case program.Char:
		return bv.ZeroExt(bv.Extract(15, 0, raw), 32)
	case program.Short:
		return bv.SignExt(bv.Extract(15, 0, raw), 32)
	case program.Int, program.Ref:
		return bv.Extract(31, 0, raw)
	case program.Long:
		return raw
	}
	return nil
}

// widen turns a natural-width array element into a slot value.
func widen(t program.Type, v *bv.Expr) *bv.Expr {
	if t.Signed() {
		return bv.SignExt(v, t.SlotBits())
	}
	return bv.ZeroExt(v, t.SlotBits())
}

// narrow turns a slot value into a natural-width array element.
func narrow(t program.Type, v *bv.Expr) *bv.Expr {
	if t == program.Boolean {
		return bv.Ite(bv.NonZero(v), bv.Const(1, 8), bv.Const(0, 8))
	}
	return bv.Resize(v, t.Bits())
}
