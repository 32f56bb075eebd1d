// Package lanes gives SIMD opcodes their lane-wise meaning. Each operation
// is a single function over bv formulas; applying it to constants folds to
// the bit-exact concrete result, and applying it to symbols yields a formula
// the solver can invert.
package lanes

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
)

// VectorBits is the width of an xmm register.
const VectorBits = 128

// Binary is a two-operand vector operation.
type Binary func(a, b *bv.Expr) *bv.Expr

// Split cuts v into lanes of the given width, lane 0 first.
func Split(v *bv.Expr, laneBits uint) []*bv.Expr {
	if laneBits == 0 || v.Width()%laneBits != 0 {
		panic(fmt.Errorf("%w: %d-bit vector in %d-bit lanes", symerrors.ErrWidthMismatch, v.Width(), laneBits))
	}
	n := v.Width() / laneBits
	out := make([]*bv.Expr, n)
	for i := uint(0); i < n; i++ {
		out[i] = bv.Extract(i*laneBits+laneBits-1, i*laneBits, v)
	}
	return out
}

// Join is the inverse of Split.
func Join(lanes []*bv.Expr) *bv.Expr {
	parts := make([]*bv.Expr, len(lanes))
	for i, l := range lanes {
		parts[len(lanes)-1-i] = l
	}
	return bv.Concat(parts...)
}

func zip(a, b *bv.Expr, laneBits uint, f func(x, y *bv.Expr) *bv.Expr) *bv.Expr {
	xs, ys := Split(a, laneBits), Split(b, laneBits)
	out := make([]*bv.Expr, len(xs))
	for i := range xs {
		out[i] = f(xs[i], ys[i])
	}
	return Join(out)
}

// Permute is pshufb: output byte i is source byte sel[i]&0x0f, or zero
// when bit 7 of sel[i] is set.
func Permute(src, sel *bv.Expr) *bv.Expr {
	srcLanes := Split(src, 8)
	selLanes := Split(sel, 8)
	zero := bv.Const(0, 8)
	out := make([]*bv.Expr, len(selLanes))
	for i, s := range selLanes {
		idx := bv.Extract(3, 0, s)
		picked := srcLanes[len(srcLanes)-1]
		for j := len(srcLanes) - 2; j >= 0; j-- {
			picked = bv.Ite(bv.Eq(idx, bv.Const(uint64(j), 4)), srcLanes[j], picked)
		}
		out[i] = bv.Ite(bv.Extract(7, 7, s), zero, picked)
	}
	log.Trace(log.LaneMonitoring, "permute", "symbolic", !src.IsConst() || !sel.IsConst())
	return Join(out)
}

// MulHiS16 is pmulhw: the upper half of each signed 16x16 product.
func MulHiS16(a, b *bv.Expr) *bv.Expr {
	return zip(a, b, 16, func(x, y *bv.Expr) *bv.Expr {
		p := bv.Mul(bv.SignExt(x, 32), bv.SignExt(y, 32))
		return bv.Extract(31, 16, p)
	})
}

// MulHiU16 is pmulhuw.
func MulHiU16(a, b *bv.Expr) *bv.Expr {
	return zip(a, b, 16, func(x, y *bv.Expr) *bv.Expr {
		p := bv.Mul(bv.ZeroExt(x, 32), bv.ZeroExt(y, 32))
		return bv.Extract(31, 16, p)
	})
}

// MulLo16 is pmullw.
func MulLo16(a, b *bv.Expr) *bv.Expr {
	return zip(a, b, 16, bv.Mul)
}

func AddLanes(laneBits uint) Binary {
	return func(a, b *bv.Expr) *bv.Expr { return zip(a, b, laneBits, bv.Add) }
}

func SubLanes(laneBits uint) Binary {
	return func(a, b *bv.Expr) *bv.Expr { return zip(a, b, laneBits, bv.Sub) }
}

// CmpEqLanes sets a lane to all ones where the operands match.
func CmpEqLanes(laneBits uint) Binary {
	return func(a, b *bv.Expr) *bv.Expr {
		return zip(a, b, laneBits, func(x, y *bv.Expr) *bv.Expr {
			return bv.Ite(bv.Eq(x, y), bv.Not(bv.Const(0, laneBits)), bv.Const(0, laneBits))
		})
	}
}

// MinU8 is pminub.
func MinU8(a, b *bv.Expr) *bv.Expr {
	return zip(a, b, 8, func(x, y *bv.Expr) *bv.Expr { return bv.Ite(bv.Ult(x, y), x, y) })
}

// MaxU8 is pmaxub.
func MaxU8(a, b *bv.Expr) *bv.Expr {
	return zip(a, b, 8, func(x, y *bv.Expr) *bv.Expr { return bv.Ite(bv.Ult(x, y), y, x) })
}

// AndNot is pandn: (^a) & b.
func AndNot(a, b *bv.Expr) *bv.Expr {
	return bv.And(bv.Not(a), b)
}

var table = map[string]Binary{
	"PSHUFB":  Permute,
	"PMULHW":  MulHiS16,
	"PMULHUW": MulHiU16,
	"PMULLW":  MulLo16,
	"PADDB":   AddLanes(8),
	"PADDW":   AddLanes(16),
	"PADDD":   AddLanes(32),
	"PADDQ":   AddLanes(64),
	"PSUBB":   SubLanes(8),
	"PSUBW":   SubLanes(16),
	"PSUBD":   SubLanes(32),
	"PSUBQ":   SubLanes(64),
	"PCMPEQB": CmpEqLanes(8),
	"PCMPEQW": CmpEqLanes(16),
	"PCMPEQD": CmpEqLanes(32),
	"PMINUB":  MinU8,
	"PMAXUB":  MaxU8,
	"PAND":    bv.And,
	"POR":     bv.Or,
	"PXOR":    bv.Xor,
	"PANDN":   AndNot,
}

// Lookup finds the operation behind an upper-case mnemonic. The destination
// register is the first operand, as in the instruction encoding.
func Lookup(mnemonic string) (Binary, bool) {
	f, ok := table[mnemonic]
	return f, ok
}

// Mnemonics lists every supported opcode.
func Mnemonics() []string {
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	return out
}

// Eval applies a vector op to two concrete 128-bit values.
func Eval(op Binary, a, b *uint256.Int) *uint256.Int {
	return op(bv.ConstInt(a, VectorBits), bv.ConstInt(b, VectorBits)).Value()
}

// PermuteValue is the concrete pshufb.
func PermuteValue(src, sel *uint256.Int) *uint256.Int { return Eval(Permute, src, sel) }

// MulHiS16Value is the concrete pmulhw.
func MulHiS16Value(a, b *uint256.Int) *uint256.Int { return Eval(MulHiS16, a, b) }
