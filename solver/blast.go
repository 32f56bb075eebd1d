package solver

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// blaster lowers formulas to CNF with Tseitin gates. Literals are DIMACS
// style ints; bit vectors are little-endian literal slices. Every clause
// is owned by one variable, the gate it defines, so a query only needs
// the clauses reachable from its own literals.
type blaster struct {
	nvars   int
	clauses [][]int
	// defs[v] indexes the clauses owned by variable v.
	defs [][]int
	// ties points the quotient and remainder bits of a division at the
	// variable owning its side constraints.
	ties map[int]int
	tru  int
	syms map[symKey][]int
	memo map[*bv.Expr][]int
}

type symKey struct {
	name  string
	width uint
}

func newBlaster() *blaster {
	b := &blaster{
		defs: make([][]int, 1),
		ties: make(map[int]int),
		syms: make(map[symKey][]int),
		memo: make(map[*bv.Expr][]int),
	}
	b.tru = b.fresh()
	b.clause(b.tru)
	return b
}

func (b *blaster) fresh() int {
	b.nvars++
	b.defs = append(b.defs, nil)
	return b.nvars
}

// clause adds a clause owned by the variable of its first literal.
func (b *blaster) clause(lits ...int) {
	b.clauseFor(abs(lits[0]), lits...)
}

func (b *blaster) clauseFor(owner int, lits ...int) {
	b.defs[owner] = append(b.defs[owner], len(b.clauses))
	b.clauses = append(b.clauses, lits)
}

func abs(l int) int {
	if l < 0 {
		return -l
	}
	return l
}

// cone returns the clauses defining roots, with variables renumbered
// densely from 1, and the renumbering it used.
func (b *blaster) cone(roots []int) ([][]int, map[int]int) {
	dense := make(map[int]int)
	stack := append([]int{b.tru}, roots...)
	var owned []int
	for len(stack) > 0 {
		v := abs(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		if _, ok := dense[v]; ok {
			continue
		}
		dense[v] = len(dense) + 1
		if a, ok := b.ties[v]; ok {
			stack = append(stack, a)
		}
		for _, ci := range b.defs[v] {
			owned = append(owned, ci)
			stack = append(stack, b.clauses[ci]...)
		}
	}
	cnf := make([][]int, len(owned))
	for i, ci := range owned {
		c := b.clauses[ci]
		out := make([]int, len(c))
		for j, l := range c {
			if l < 0 {
				out[j] = -dense[-l]
			} else {
				out[j] = dense[l]
			}
		}
		cnf[i] = out
	}
	return cnf, dense
}

func (b *blaster) konst(v bool) int {
	if v {
		return b.tru
	}
	return -b.tru
}

func (b *blaster) isConst(l int) (bool, bool) {
	switch l {
	case b.tru:
		return true, true
	case -b.tru:
		return false, true
	}
	return false, false
}

func (b *blaster) and(x, y int) int {
	if v, ok := b.isConst(x); ok {
		if !v {
			return -b.tru
		}
		return y
	}
	if v, ok := b.isConst(y); ok {
		if !v {
			return -b.tru
		}
		return x
	}
	if x == y {
		return x
	}
	if x == -y {
		return -b.tru
	}
	g := b.fresh()
	b.clause(-g, x)
	b.clause(-g, y)
	b.clause(g, -x, -y)
	return g
}

func (b *blaster) or(x, y int) int {
	return -b.and(-x, -y)
}

func (b *blaster) xor(x, y int) int {
	if v, ok := b.isConst(x); ok {
		if v {
			return -y
		}
		return y
	}
	if v, ok := b.isConst(y); ok {
		if v {
			return -x
		}
		return x
	}
	if x == y {
		return -b.tru
	}
	if x == -y {
		return b.tru
	}
	g := b.fresh()
	b.clause(-g, x, y)
	b.clause(-g, -x, -y)
	b.clause(g, -x, y)
	b.clause(g, x, -y)
	return g
}

// mux is s ? t : f.
func (b *blaster) mux(s, t, f int) int {
	if v, ok := b.isConst(s); ok {
		if v {
			return t
		}
		return f
	}
	if t == f {
		return t
	}
	g := b.fresh()
	b.clause(g, -s, -t)
	b.clause(-g, -s, t)
	b.clause(g, s, -f)
	b.clause(-g, s, f)
	return g
}

func (b *blaster) andAll(lits []int) int {
	out := b.tru
	for _, l := range lits {
		out = b.and(out, l)
	}
	return out
}

func (b *blaster) orAll(lits []int) int {
	out := -b.tru
	for _, l := range lits {
		out = b.or(out, l)
	}
	return out
}

func (b *blaster) constBits(v uint64, w int) []int {
	out := make([]int, w)
	for i := range out {
		out[i] = b.konst(i < 64 && (v>>uint(i))&1 == 1)
	}
	return out
}

func (b *blaster) add(x, y []int, carry int) []int {
	out := make([]int, len(x))
	for i := range x {
		t := b.xor(x[i], y[i])
		out[i] = b.xor(t, carry)
		carry = b.or(b.and(x[i], y[i]), b.and(carry, t))
	}
	return out
}

func (b *blaster) not(x []int) []int {
	out := make([]int, len(x))
	for i, l := range x {
		out[i] = -l
	}
	return out
}

func (b *blaster) neg(x []int) []int {
	return b.add(b.not(x), b.constBits(0, len(x)), b.tru)
}

func (b *blaster) sub(x, y []int) []int {
	return b.add(x, b.not(y), b.tru)
}

func (b *blaster) mul(x, y []int) []int {
	w := len(x)
	acc := b.constBits(0, w)
	for i := 0; i < w; i++ {
		if v, ok := b.isConst(y[i]); ok && !v {
			continue
		}
		partial := make([]int, w)
		for j := range partial {
			if j < i {
				partial[j] = -b.tru
			} else {
				partial[j] = b.and(x[j-i], y[i])
			}
		}
		acc = b.add(acc, partial, -b.tru)
	}
	return acc
}

func (b *blaster) eq(x, y []int) int {
	lits := make([]int, len(x))
	for i := range x {
		lits[i] = -b.xor(x[i], y[i])
	}
	return b.andAll(lits)
}

// ult scans from the least significant bit keeping "x < y so far".
func (b *blaster) ult(x, y []int) int {
	lt := -b.tru
	for i := range x {
		diff := b.xor(x[i], y[i])
		lt = b.mux(diff, y[i], lt)
	}
	return lt
}

func (b *blaster) slt(x, y []int) int {
	n := len(x) - 1
	xs := append(append([]int(nil), x[:n]...), -x[n])
	ys := append(append([]int(nil), y[:n]...), -y[n])
	return b.ult(xs, ys)
}

func (b *blaster) ite(c int, t, f []int) []int {
	out := make([]int, len(t))
	for i := range t {
		out[i] = b.mux(c, t[i], f[i])
	}
	return out
}

// shift is a barrel shifter; fill is the bit shifted in.
func (b *blaster) shift(x, amt []int, left bool, fill int) []int {
	w := len(x)
	cur := x
	over := -b.tru
	for k := 0; k < len(amt); k++ {
		step := 1 << uint(k)
		if k >= 30 || step >= w {
			over = b.or(over, amt[k])
			continue
		}
		next := make([]int, w)
		for i := 0; i < w; i++ {
			src := i + step
			if left {
				src = i - step
			}
			moved := fill
			if src >= 0 && src < w {
				moved = cur[src]
			}
			next[i] = b.mux(amt[k], moved, cur[i])
		}
		cur = next
	}
	out := make([]int, w)
	for i := range out {
		out[i] = b.mux(over, fill, cur[i])
	}
	return out
}

// divmod introduces the quotient and remainder as fresh vectors tied to
// a = q*b + r, r < b when b != 0, and q = ~0, r = a otherwise.
func (b *blaster) divmod(x, y []int) (q, r []int) {
	w := len(x)
	q = b.vars(w)
	r = b.vars(w)
	wide := func(v []int) []int {
		return append(append([]int(nil), v...), b.constBits(0, w)...)
	}
	prod := b.mul(wide(q), wide(y))
	sum := b.add(prod, wide(r), -b.tru)
	exact := b.eq(sum, wide(x))
	less := b.ult(r, y)
	nz := b.orAll(y)
	anchor := q[0]
	for _, v := range append(append([]int(nil), q[1:]...), r...) {
		b.ties[v] = anchor
	}
	b.clauseFor(anchor, -nz, exact)
	b.clauseFor(anchor, -nz, less)
	for i := 0; i < w; i++ {
		b.clauseFor(anchor, nz, q[i])
		b.clauseFor(anchor, nz, -r[i], x[i])
		b.clauseFor(anchor, nz, r[i], -x[i])
	}
	return q, r
}

func (b *blaster) vars(w int) []int {
	out := make([]int, w)
	for i := range out {
		out[i] = b.fresh()
	}
	return out
}

// bits returns the literal vector of e, blasting it on first sight.
func (b *blaster) bits(e *bv.Expr) []int {
	if out, ok := b.memo[e]; ok {
		return out
	}
	out := b.lower(e)
	b.memo[e] = out
	return out
}

// lit returns the single literal of a 1-bit formula.
func (b *blaster) lit(e *bv.Expr) (int, error) {
	if e.Width() != 1 {
		return 0, fmt.Errorf("%w: constraint of %d bits", symerrors.ErrWidthMismatch, e.Width())
	}
	return b.bits(e)[0], nil
}

func (b *blaster) lower(e *bv.Expr) []int {
	w := int(e.Width())
	args := e.Args()
	switch e.Op() {
	case bv.OpConst:
		v := e.Value()
		out := make([]int, w)
		for i := range out {
			out[i] = b.konst((v[i/64]>>(uint(i)%64))&1 == 1)
		}
		return out
	case bv.OpSym:
		key := symKey{e.Name(), e.Width()}
		if out, ok := b.syms[key]; ok {
			return out
		}
		out := b.vars(w)
		b.syms[key] = out
		return out
	case bv.OpNot:
		return b.not(b.bits(args[0]))
	case bv.OpNeg:
		return b.neg(b.bits(args[0]))
	case bv.OpAnd, bv.OpOr, bv.OpXor:
		x, y := b.bits(args[0]), b.bits(args[1])
		out := make([]int, w)
		for i := range out {
			switch e.Op() {
			case bv.OpAnd:
				out[i] = b.and(x[i], y[i])
			case bv.OpOr:
				out[i] = b.or(x[i], y[i])
			default:
				out[i] = b.xor(x[i], y[i])
			}
		}
		return out
	case bv.OpAdd:
		return b.add(b.bits(args[0]), b.bits(args[1]), -b.tru)
	case bv.OpSub:
		return b.sub(b.bits(args[0]), b.bits(args[1]))
	case bv.OpMul:
		return b.mul(b.bits(args[0]), b.bits(args[1]))
	case bv.OpUDiv:
		q, _ := b.divmod(b.bits(args[0]), b.bits(args[1]))
		return q
	case bv.OpURem:
		_, r := b.divmod(b.bits(args[0]), b.bits(args[1]))
		return r
	case bv.OpShl:
		return b.shift(b.bits(args[0]), b.bits(args[1]), true, -b.tru)
	case bv.OpLShr:
		return b.shift(b.bits(args[0]), b.bits(args[1]), false, -b.tru)
	case bv.OpAShr:
		x := b.bits(args[0])
		return b.shift(x, b.bits(args[1]), false, x[len(x)-1])
	case bv.OpConcat:
		out := make([]int, 0, w)
		for i := len(args) - 1; i >= 0; i-- {
			out = append(out, b.bits(args[i])...)
		}
		return out
	case bv.OpExtract:
		hi, lo := e.Bounds()
		return b.bits(args[0])[lo : hi+1]
	case bv.OpZeroExt:
		x := b.bits(args[0])
		return append(append([]int(nil), x...), b.constBits(0, w-len(x))...)
	case bv.OpSignExt:
		x := b.bits(args[0])
		out := append([]int(nil), x...)
		for len(out) < w {
			out = append(out, x[len(x)-1])
		}
		return out
	case bv.OpIte:
		return b.ite(b.bits(args[0])[0], b.bits(args[1]), b.bits(args[2]))
	case bv.OpEq:
		return []int{b.eq(b.bits(args[0]), b.bits(args[1]))}
	case bv.OpUlt:
		return []int{b.ult(b.bits(args[0]), b.bits(args[1]))}
	case bv.OpUle:
		return []int{-b.ult(b.bits(args[1]), b.bits(args[0]))}
	case bv.OpSlt:
		return []int{b.slt(b.bits(args[0]), b.bits(args[1]))}
	case bv.OpSle:
		return []int{-b.slt(b.bits(args[1]), b.bits(args[0]))}
	}
	panic(fmt.Sprintf("solver: cannot lower %s", e.Op()))
}
