// Package bv holds the bit-vector formulas that flow through registers,
// memory and path constraints. Booleans are 1-bit vectors.
package bv

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
)

// MaxWidth is the widest vector a formula can carry.
const MaxWidth = 256

type Op uint8

const (
	OpConst Op = iota
	OpSym
	OpNot
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpURem
	OpShl
	OpLShr
	OpAShr
	OpConcat
	OpExtract
	OpZeroExt
	OpSignExt
	OpIte
	OpEq
	OpUlt
	OpUle
	OpSlt
	OpSle
)

var opNames = map[Op]string{
	OpConst:   "const",
	OpSym:     "sym",
	OpNot:     "bvnot",
	OpNeg:     "bvneg",
	OpAnd:     "bvand",
	OpOr:      "bvor",
	OpXor:     "bvxor",
	OpAdd:     "bvadd",
	OpSub:     "bvsub",
	OpMul:     "bvmul",
	OpUDiv:    "bvudiv",
	OpURem:    "bvurem",
	OpShl:     "bvshl",
	OpLShr:    "bvlshr",
	OpAShr:    "bvashr",
	OpConcat:  "concat",
	OpExtract: "extract",
	OpZeroExt: "zero_extend",
	OpSignExt: "sign_extend",
	OpIte:     "ite",
	OpEq:      "=",
	OpUlt:     "bvult",
	OpUle:     "bvule",
	OpSlt:     "bvslt",
	OpSle:     "bvsle",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// Expr is an immutable node. Constructors fold constants, so an expression
// built only from constants is always an OpConst node.
type Expr struct {
	op     Op
	width  uint
	args   []*Expr
	val    uint256.Int
	name   string
	hi, lo uint
}

func (e *Expr) Op() Op         { return e.op }
func (e *Expr) Width() uint    { return e.width }
func (e *Expr) Args() []*Expr  { return e.args }
func (e *Expr) Name() string   { return e.name }
func (e *Expr) IsConst() bool  { return e.op == OpConst }
func (e *Expr) IsSymbol() bool { return e.op == OpSym }

// Bounds returns the bit range of an OpExtract node.
func (e *Expr) Bounds() (hi, lo uint) { return e.hi, e.lo }

// Value returns a copy of the constant value; nil for non-constants.
func (e *Expr) Value() *uint256.Int {
	if e.op != OpConst {
		return nil
	}
	return new(uint256.Int).Set(&e.val)
}

// Uint64 returns the constant value when it fits in 64 bits.
func (e *Expr) Uint64() (uint64, bool) {
	if e.op != OpConst || !e.val.IsUint64() {
		return 0, false
	}
	return e.val.Uint64(), true
}

// Int64 returns the constant interpreted as a signed value of its width.
func (e *Expr) Int64() (int64, bool) {
	if e.op != OpConst || e.width > 64 {
		return 0, false
	}
	v := e.val.Uint64()
	if e.width < 64 && v&(1<<(e.width-1)) != 0 {
		v |= ^uint64(0) << e.width
	}
	return int64(v), true
}

func (e *Expr) IsTrue() bool  { return e.op == OpConst && e.width == 1 && !e.val.IsZero() }
func (e *Expr) IsFalse() bool { return e.op == OpConst && e.width == 1 && e.val.IsZero() }

func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	switch e.op {
	case OpConst:
		fmt.Fprintf(sb, "%s#%d", e.val.Hex(), e.width)
	case OpSym:
		sb.WriteString(e.name)
	case OpExtract:
		fmt.Fprintf(sb, "(extract[%d:%d] ", e.hi, e.lo)
		e.args[0].write(sb)
		sb.WriteByte(')')
	case OpZeroExt, OpSignExt:
		fmt.Fprintf(sb, "(%s[%d] ", e.op, e.width)
		e.args[0].write(sb)
		sb.WriteByte(')')
	default:
		sb.WriteByte('(')
		sb.WriteString(e.op.String())
		for _, a := range e.args {
			sb.WriteByte(' ')
			a.write(sb)
		}
		sb.WriteByte(')')
	}
}

func checkWidth(w uint) {
	if w == 0 || w > MaxWidth {
		panic(fmt.Errorf("%w: %d", symerrors.ErrUnsupportedWidth, w))
	}
}

func sameWidth(op Op, a, b *Expr) {
	if a.width != b.width {
		panic(fmt.Errorf("%w: %s %d vs %d", symerrors.ErrWidthMismatch, op, a.width, b.width))
	}
}

// Mask returns 2^w - 1.
func Mask(w uint) *uint256.Int {
	m := new(uint256.Int)
	if w >= 256 {
		return m.Not(m)
	}
	m.Lsh(uint256.NewInt(1), w)
	return m.Sub(m, uint256.NewInt(1))
}

func bit(v *uint256.Int, i uint) bool {
	return (v[i/64]>>(i%64))&1 == 1
}

// signExtend256 widens a w-bit value to the full 256-bit two's complement.
func signExtend256(v *uint256.Int, w uint) *uint256.Int {
	r := new(uint256.Int).Set(v)
	if w < 256 && bit(v, w-1) {
		r.Or(r, new(uint256.Int).Not(Mask(w)))
	}
	return r
}

func newConst(v *uint256.Int, w uint) *Expr {
	checkWidth(w)
	e := &Expr{op: OpConst, width: w}
	e.val.And(v, Mask(w))
	return e
}

// Const builds a constant of the given width, truncating v.
func Const(v uint64, w uint) *Expr {
	return newConst(uint256.NewInt(v), w)
}

// ConstInt builds a constant from a wide value, truncating it to w bits.
func ConstInt(v *uint256.Int, w uint) *Expr {
	return newConst(v, w)
}

// ConstHex parses a hex literal (with or without 0x) into a constant.
func ConstHex(s string, w uint) (*Expr, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bv: bad hex literal %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("bv: literal %q wider than %d bits", s, MaxWidth)
	}
	return newConst(v, w), nil
}

// MustHex is ConstHex for literals known to be valid.
func MustHex(s string, w uint) *Expr {
	e, err := ConstHex(s, w)
	if err != nil {
		panic(err)
	}
	return e
}

func Bool(b bool) *Expr {
	if b {
		return Const(1, 1)
	}
	return Const(0, 1)
}

func True() *Expr  { return Bool(true) }
func False() *Expr { return Bool(false) }

// Sym names an unconstrained input. Symbols with equal names and widths are
// the same variable to the solver.
func Sym(name string, w uint) *Expr {
	checkWidth(w)
	return &Expr{op: OpSym, width: w, name: name}
}

// Symbols returns the distinct symbol names occurring in e.
func Symbols(e *Expr) []string {
	seen := make(map[*Expr]bool)
	names := make(map[string]bool)
	var out []string
	var walk func(*Expr)
	walk = func(x *Expr) {
		if seen[x] {
			return
		}
		seen[x] = true
		if x.op == OpSym && !names[x.name] {
			names[x.name] = true
			out = append(out, x.name)
		}
		for _, a := range x.args {
			walk(a)
		}
	}
	walk(e)
	return out
}

// Size counts the nodes of e, shared nodes once.
func Size(e *Expr) int {
	seen := make(map[*Expr]bool)
	var walk func(*Expr)
	walk = func(x *Expr) {
		if seen[x] {
			return
		}
		seen[x] = true
		for _, a := range x.args {
			walk(a)
		}
	}
	walk(e)
	return len(seen)
}
