package bv

import "github.com/holiman/uint256"

// Substitute replaces symbols by name and re-folds the result. Symbols
// missing from env are left in place.
func Substitute(e *Expr, env map[string]*Expr) *Expr {
	memo := make(map[*Expr]*Expr)
	var walk func(*Expr) *Expr
	walk = func(x *Expr) *Expr {
		if r, ok := memo[x]; ok {
			return r
		}
		var r *Expr
		switch x.op {
		case OpConst:
			r = x
		case OpSym:
			r = x
			if v, ok := env[x.name]; ok && v.width == x.width {
				r = v
			}
		default:
			args := make([]*Expr, len(x.args))
			changed := false
			for i, a := range x.args {
				args[i] = walk(a)
				changed = changed || args[i] != a
			}
			r = x
			if changed {
				r = rebuild(x, args)
			}
		}
		memo[x] = r
		return r
	}
	return walk(e)
}

// Eval computes e under a full assignment of its symbols.
func Eval(e *Expr, env map[string]*uint256.Int) (*uint256.Int, bool) {
	consts := make(map[string]*Expr, len(env))
	seen := make(map[*Expr]bool)
	var bind func(*Expr) bool
	bind = func(x *Expr) bool {
		if seen[x] {
			return true
		}
		seen[x] = true
		if x.op == OpSym {
			v, ok := env[x.name]
			if !ok {
				return false
			}
			consts[x.name] = ConstInt(v, x.width)
		}
		for _, a := range x.args {
			if !bind(a) {
				return false
			}
		}
		return true
	}
	if !bind(e) {
		return nil, false
	}
	r := Substitute(e, consts)
	if r.op != OpConst {
		return nil, false
	}
	return r.Value(), true
}

func rebuild(x *Expr, a []*Expr) *Expr {
	switch x.op {
	case OpNot:
		return Not(a[0])
	case OpNeg:
		return Neg(a[0])
	case OpAnd:
		return And(a[0], a[1])
	case OpOr:
		return Or(a[0], a[1])
	case OpXor:
		return Xor(a[0], a[1])
	case OpAdd:
		return Add(a[0], a[1])
	case OpSub:
		return Sub(a[0], a[1])
	case OpMul:
		return Mul(a[0], a[1])
	case OpUDiv:
		return UDiv(a[0], a[1])
	case OpURem:
		return URem(a[0], a[1])
	case OpShl:
		return Shl(a[0], a[1])
	case OpLShr:
		return LShr(a[0], a[1])
	case OpAShr:
		return AShr(a[0], a[1])
	case OpConcat:
		return Concat(a...)
	case OpExtract:
		return Extract(x.hi, x.lo, a[0])
	case OpZeroExt:
		return ZeroExt(a[0], x.width)
	case OpSignExt:
		return SignExt(a[0], x.width)
	case OpIte:
		return Ite(a[0], a[1], a[2])
	case OpEq:
		return Eq(a[0], a[1])
	case OpUlt:
		return Ult(a[0], a[1])
	case OpUle:
		return Ule(a[0], a[1])
	case OpSlt:
		return Slt(a[0], a[1])
	case OpSle:
		return Sle(a[0], a[1])
	}
	return x
}
