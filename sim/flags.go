package sim

import (
	"strings"

	"github.com/colorfulnotion/jnisym/bv"
)

// flags holds the arithmetic flags as 1-bit formulas, computed eagerly by
// each flag-writing instruction. Flags never written read as clear.
type flags struct {
	zf, sf, cf, of *bv.Expr
}

func orFalse(e *bv.Expr) *bv.Expr {
	if e == nil {
		return bv.False()
	}
	return e
}

func msb(v *bv.Expr) *bv.Expr {
	w := v.Width()
	return bv.Extract(w-1, w-1, v)
}

func (f *flags) result(res *bv.Expr) {
	f.zf = bv.Eq(res, bv.Const(0, res.Width()))
	f.sf = msb(res)
}

func (f *flags) logic(res *bv.Expr) {
	f.result(res)
	f.cf, f.of = bv.False(), bv.False()
}

func (f *flags) add(a, b, res *bv.Expr) {
	f.result(res)
	f.cf = bv.Ult(res, a)
	f.of = msb(bv.And(bv.Xor(a, res), bv.Xor(b, res)))
}

func (f *flags) sub(a, b, res *bv.Expr) {
	f.result(res)
	f.cf = bv.Ult(a, b)
	f.of = msb(bv.And(bv.Xor(a, b), bv.Xor(a, res)))
}

// incdec leaves the carry flag alone.
func (f *flags) incdec(a, b, res *bv.Expr, inc bool) {
	cf := f.cf
	if inc {
		f.add(a, b, res)
	} else {
		f.sub(a, b, res)
	}
	f.cf = cf
}

// mul sets carry and overflow when the signed product does not fit.
func (f *flags) mul(a, b, res *bv.Expr) {
	w := a.Width()
	full := bv.Mul(bv.SignExt(a, 2*w), bv.SignExt(b, 2*w))
	lost := bv.Ne(full, bv.SignExt(res, 2*w))
	f.result(res)
	f.cf, f.of = lost, lost
}

// cond evaluates a condition code suffix such as "E", "NE", "L" or "BE".
func (f *flags) cond(cc string) (*bv.Expr, bool) {
	zf, sf, cf, of := orFalse(f.zf), orFalse(f.sf), orFalse(f.cf), orFalse(f.of)
	switch cc {
	case "E", "Z":
		return zf, true
	case "NE", "NZ":
		return bv.Not(zf), true
	case "B", "C", "NAE":
		return cf, true
	case "AE", "NB", "NC":
		return bv.Not(cf), true
	case "BE", "NA":
		return bv.Or(cf, zf), true
	case "A", "NBE":
		return bv.Not(bv.Or(cf, zf)), true
	case "S":
		return sf, true
	case "NS":
		return bv.Not(sf), true
	case "O":
		return of, true
	case "NO":
		return bv.Not(of), true
	case "L", "NGE":
		return bv.Ne(sf, of), true
	case "GE", "NL":
		return bv.Eq(sf, of), true
	case "LE", "NG":
		return bv.Or(zf, bv.Ne(sf, of)), true
	case "G", "NLE":
		return bv.And(bv.Not(zf), bv.Eq(sf, of)), true
	}
	return nil, false
}

// condSuffix strips a Jcc, SETcc or CMOVcc mnemonic down to its condition.
func condSuffix(mnemonic string) (prefix, cc string) {
	for _, p := range []string{"CMOV", "SET", "J"} {
		if strings.HasPrefix(mnemonic, p) {
			return p, mnemonic[len(p):]
		}
	}
	return "", ""
}
