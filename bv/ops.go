package bv

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
)

func node(op Op, w uint, args ...*Expr) *Expr {
	checkWidth(w)
	return &Expr{op: op, width: w, args: args}
}

func allOnes(e *Expr) bool {
	return e.op == OpConst && e.val.Eq(Mask(e.width))
}

func isZero(e *Expr) bool {
	return e.op == OpConst && e.val.IsZero()
}

func isOne(e *Expr) bool {
	return e.op == OpConst && e.val.Eq(uint256.NewInt(1))
}

func Not(a *Expr) *Expr {
	if a.op == OpConst {
		return newConst(new(uint256.Int).Not(&a.val), a.width)
	}
	if a.op == OpNot {
		return a.args[0]
	}
	return node(OpNot, a.width, a)
}

func Neg(a *Expr) *Expr {
	if a.op == OpConst {
		return newConst(new(uint256.Int).Neg(&a.val), a.width)
	}
	return node(OpNeg, a.width, a)
}

func And(a, b *Expr) *Expr {
	sameWidth(OpAnd, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).And(&a.val, &b.val), a.width)
	case isZero(a) || allOnes(b):
		return a
	case isZero(b) || allOnes(a):
		return b
	case a == b:
		return a
	}
	return node(OpAnd, a.width, a, b)
}

func Or(a, b *Expr) *Expr {
	sameWidth(OpOr, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).Or(&a.val, &b.val), a.width)
	case isZero(a) || allOnes(b):
		return b
	case isZero(b) || allOnes(a):
		return a
	case a == b:
		return a
	}
	return node(OpOr, a.width, a, b)
}

func Xor(a, b *Expr) *Expr {
	sameWidth(OpXor, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).Xor(&a.val, &b.val), a.width)
	case isZero(a):
		return b
	case isZero(b):
		return a
	case a == b:
		return newConst(new(uint256.Int), a.width)
	}
	return node(OpXor, a.width, a, b)
}

func Add(a, b *Expr) *Expr {
	sameWidth(OpAdd, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).Add(&a.val, &b.val), a.width)
	case isZero(a):
		return b
	case isZero(b):
		return a
	}
	return node(OpAdd, a.width, a, b)
}

func Sub(a, b *Expr) *Expr {
	sameWidth(OpSub, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).Sub(&a.val, &b.val), a.width)
	case isZero(b):
		return a
	case a == b:
		return newConst(new(uint256.Int), a.width)
	}
	return node(OpSub, a.width, a, b)
}

func Mul(a, b *Expr) *Expr {
	sameWidth(OpMul, a, b)
	switch {
	case a.op == OpConst && b.op == OpConst:
		return newConst(new(uint256.Int).Mul(&a.val, &b.val), a.width)
	case isZero(a) || isOne(b):
		return a
	case isZero(b) || isOne(a):
		return b
	}
	return node(OpMul, a.width, a, b)
}

// UDiv is unsigned division; dividing by zero yields all ones.
func UDiv(a, b *Expr) *Expr {
	sameWidth(OpUDiv, a, b)
	if a.op == OpConst && b.op == OpConst {
		if b.val.IsZero() {
			return newConst(Mask(a.width), a.width)
		}
		return newConst(new(uint256.Int).Div(&a.val, &b.val), a.width)
	}
	if isOne(b) {
		return a
	}
	return node(OpUDiv, a.width, a, b)
}

// URem is unsigned remainder; the remainder by zero is the dividend.
func URem(a, b *Expr) *Expr {
	sameWidth(OpURem, a, b)
	if a.op == OpConst && b.op == OpConst {
		if b.val.IsZero() {
			return a
		}
		return newConst(new(uint256.Int).Mod(&a.val, &b.val), a.width)
	}
	if isOne(b) {
		return newConst(new(uint256.Int), a.width)
	}
	return node(OpURem, a.width, a, b)
}

func signBit(a *Expr) *Expr {
	return Extract(a.width-1, a.width-1, a)
}

func abs(a *Expr) *Expr {
	return Ite(signBit(a), Neg(a), a)
}

// SDiv truncates toward zero like Java and C.
func SDiv(a, b *Expr) *Expr {
	sameWidth(OpUDiv, a, b)
	q := UDiv(abs(a), abs(b))
	return Ite(Xor(signBit(a), signBit(b)), Neg(q), q)
}

// SRem takes the sign of the dividend.
func SRem(a, b *Expr) *Expr {
	sameWidth(OpURem, a, b)
	r := URem(abs(a), abs(b))
	return Ite(signBit(a), Neg(r), r)
}

func shiftAmount(b *Expr, w uint) (uint, bool) {
	if b.op != OpConst {
		return 0, false
	}
	if !b.val.IsUint64() || b.val.Uint64() >= uint64(w) {
		return w, true
	}
	return uint(b.val.Uint64()), true
}

// Shl shifts left; amounts at or above the width give zero.
func Shl(a, b *Expr) *Expr {
	sameWidth(OpShl, a, b)
	if n, ok := shiftAmount(b, a.width); ok {
		if n == 0 {
			return a
		}
		if a.op == OpConst {
			if n >= a.width {
				return newConst(new(uint256.Int), a.width)
			}
			return newConst(new(uint256.Int).Lsh(&a.val, n), a.width)
		}
	}
	return node(OpShl, a.width, a, b)
}

// LShr is the logical right shift.
func LShr(a, b *Expr) *Expr {
	sameWidth(OpLShr, a, b)
	if n, ok := shiftAmount(b, a.width); ok {
		if n == 0 {
			return a
		}
		if a.op == OpConst {
			if n >= a.width {
				return newConst(new(uint256.Int), a.width)
			}
			return newConst(new(uint256.Int).Rsh(&a.val, n), a.width)
		}
		if n < a.width {
			return ZeroExt(Extract(a.width-1, n, a), a.width)
		}
	}
	return node(OpLShr, a.width, a, b)
}

// AShr is the arithmetic right shift.
func AShr(a, b *Expr) *Expr {
	sameWidth(OpAShr, a, b)
	if n, ok := shiftAmount(b, a.width); ok {
		if n == 0 {
			return a
		}
		if a.op == OpConst {
			if n >= a.width {
				n = 255
			}
			wide := signExtend256(&a.val, a.width)
			return newConst(wide.SRsh(wide, n), a.width)
		}
		if n < a.width {
			return SignExt(Extract(a.width-1, n, a), a.width)
		}
	}
	return node(OpAShr, a.width, a, b)
}

// Extract takes bits hi..lo inclusive.
func Extract(hi, lo uint, a *Expr) *Expr {
	if hi < lo || hi >= a.width {
		panic(fmt.Errorf("%w: extract [%d:%d] of %d bits", symerrors.ErrWidthMismatch, hi, lo, a.width))
	}
	w := hi - lo + 1
	if lo == 0 && w == a.width {
		return a
	}
	switch a.op {
	case OpConst:
		return newConst(new(uint256.Int).Rsh(&a.val, lo), w)
	case OpExtract:
		return Extract(hi+a.lo, lo+a.lo, a.args[0])
	case OpConcat:
		// args are most significant first
		off := a.width
		for _, p := range a.args {
			off -= p.width
			if lo >= off && hi < off+p.width {
				return Extract(hi-off, lo-off, p)
			}
		}
	case OpZeroExt:
		inner := a.args[0]
		if hi < inner.width {
			return Extract(hi, lo, inner)
		}
		if lo >= inner.width {
			return newConst(new(uint256.Int), w)
		}
	case OpSignExt:
		inner := a.args[0]
		if hi < inner.width {
			return Extract(hi, lo, inner)
		}
	}
	e := node(OpExtract, w, a)
	e.hi, e.lo = hi, lo
	return e
}

// Concat joins parts with the first argument in the most significant bits.
// Adjacent slices of the same vector are merged back together.
func Concat(parts ...*Expr) *Expr {
	if len(parts) == 0 {
		panic(fmt.Errorf("%w: empty concat", symerrors.ErrWidthMismatch))
	}
	var merged []*Expr
	for _, p := range parts {
		if p.op == OpConcat {
			merged = append(merged, p.args...)
			continue
		}
		merged = append(merged, p)
	}
	out := merged[:0:0]
	for _, p := range merged {
		if n := len(out); n > 0 {
			if j := join(out[n-1], p); j != nil {
				out[n-1] = j
				continue
			}
		}
		out = append(out, p)
	}
	if len(out) == 1 {
		return out[0]
	}
	var w uint
	for _, p := range out {
		w += p.width
	}
	return node(OpConcat, w, out...)
}

// join fuses hi:lo pairs that sit next to each other.
func join(hi, lo *Expr) *Expr {
	if hi.op == OpConst && lo.op == OpConst {
		v := new(uint256.Int).Lsh(&hi.val, lo.width)
		return newConst(v.Or(v, &lo.val), hi.width+lo.width)
	}
	if hi.op == OpExtract && lo.op == OpExtract && hi.args[0] == lo.args[0] && hi.lo == lo.hi+1 {
		return Extract(hi.hi, lo.lo, hi.args[0])
	}
	return nil
}

// ZeroExt widens a to w bits.
func ZeroExt(a *Expr, w uint) *Expr {
	if w < a.width {
		panic(fmt.Errorf("%w: zero_extend %d to %d", symerrors.ErrWidthMismatch, a.width, w))
	}
	if w == a.width {
		return a
	}
	if a.op == OpConst {
		return newConst(&a.val, w)
	}
	return node(OpZeroExt, w, a)
}

// SignExt widens a to w bits replicating its top bit.
func SignExt(a *Expr, w uint) *Expr {
	if w < a.width {
		panic(fmt.Errorf("%w: sign_extend %d to %d", symerrors.ErrWidthMismatch, a.width, w))
	}
	if w == a.width {
		return a
	}
	if a.op == OpConst {
		return newConst(signExtend256(&a.val, a.width), w)
	}
	return node(OpSignExt, w, a)
}

// Resize truncates or zero-extends a to w bits.
func Resize(a *Expr, w uint) *Expr {
	if w < a.width {
		return Extract(w-1, 0, a)
	}
	return ZeroExt(a, w)
}

// Ite selects t when the 1-bit condition c is set.
func Ite(c, t, f *Expr) *Expr {
	if c.width != 1 {
		panic(fmt.Errorf("%w: ite condition of %d bits", symerrors.ErrWidthMismatch, c.width))
	}
	sameWidth(OpIte, t, f)
	switch {
	case c.IsTrue():
		return t
	case c.IsFalse():
		return f
	case t == f:
		return t
	case t.op == OpConst && f.op == OpConst && t.val.Eq(&f.val):
		return t
	}
	if t.width == 1 && t.IsTrue() && f.IsFalse() {
		return c
	}
	return node(OpIte, t.width, c, t, f)
}

func Eq(a, b *Expr) *Expr {
	sameWidth(OpEq, a, b)
	if a.op == OpConst && b.op == OpConst {
		return Bool(a.val.Eq(&b.val))
	}
	if a == b {
		return True()
	}
	return node(OpEq, 1, a, b)
}

func Ne(a, b *Expr) *Expr { return Not(Eq(a, b)) }

func Ult(a, b *Expr) *Expr {
	sameWidth(OpUlt, a, b)
	if a.op == OpConst && b.op == OpConst {
		return Bool(a.val.Lt(&b.val))
	}
	if a == b || isZero(b) {
		return False()
	}
	return node(OpUlt, 1, a, b)
}

func Ule(a, b *Expr) *Expr {
	sameWidth(OpUle, a, b)
	if a.op == OpConst && b.op == OpConst {
		return Bool(!a.val.Gt(&b.val))
	}
	if a == b || isZero(a) || allOnes(b) {
		return True()
	}
	return node(OpUle, 1, a, b)
}

func Slt(a, b *Expr) *Expr {
	sameWidth(OpSlt, a, b)
	if a.op == OpConst && b.op == OpConst {
		return Bool(signExtend256(&a.val, a.width).Slt(signExtend256(&b.val, b.width)))
	}
	if a == b {
		return False()
	}
	return node(OpSlt, 1, a, b)
}

func Sle(a, b *Expr) *Expr {
	sameWidth(OpSle, a, b)
	if a.op == OpConst && b.op == OpConst {
		return Bool(!signExtend256(&a.val, a.width).Sgt(signExtend256(&b.val, b.width)))
	}
	if a == b {
		return True()
	}
	return node(OpSle, 1, a, b)
}

func Ugt(a, b *Expr) *Expr { return Ult(b, a) }
func Uge(a, b *Expr) *Expr { return Ule(b, a) }
func Sgt(a, b *Expr) *Expr { return Slt(b, a) }
func Sge(a, b *Expr) *Expr { return Sle(b, a) }

// All is the conjunction of 1-bit conditions; empty is true.
func All(cs ...*Expr) *Expr {
	out := True()
	for _, c := range cs {
		out = And(out, c)
	}
	return out
}

// Any is the disjunction of 1-bit conditions; empty is false.
func Any(cs ...*Expr) *Expr {
	out := False()
	for _, c := range cs {
		out = Or(out, c)
	}
	return out
}

// NonZero turns a vector into a 1-bit truth value.
func NonZero(a *Expr) *Expr {
	if a.width == 1 {
		return a
	}
	return Ne(a, newConst(new(uint256.Int), a.width))
}
