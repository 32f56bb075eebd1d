// Package solver decides path constraints by bit-blasting bv formulas into
// CNF and handing them to a SAT search.
package solver

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
)

// Solver is the constraint interface a state queries.
type Solver interface {
	Add(cs ...*bv.Expr)
	Satisfiable(extra ...*bv.Expr) (bool, error)
	EvalOne(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error)
	EvalUpto(e *bv.Expr, n int, extra ...*bv.Expr) ([]*uint256.Int, error)
	EvalExact(e *bv.Expr, k int, extra ...*bv.Expr) ([]*uint256.Int, error)
	Min(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error)
	Max(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error)
	Solution(e *bv.Expr, v *uint256.Int) (bool, error)
}

// Frontend holds the ordered constraints of one state. Branch gives a
// child that shares the prefix; appends on either side never leak.
type Frontend struct {
	backend     *Backend
	constraints []*bv.Expr
	sat         *bool
}

var _ Solver = (*Frontend)(nil)

func NewFrontend(be *Backend) *Frontend {
	return &Frontend{backend: be}
}

func (f *Frontend) Backend() *Backend { return f.backend }

// Branch returns an independent copy for a forked state.
func (f *Frontend) Branch() *Frontend {
	n := len(f.constraints)
	return &Frontend{
		backend:     f.backend,
		constraints: f.constraints[:n:n],
		sat:         f.sat,
	}
}

// Constraints returns the ordered path constraints.
func (f *Frontend) Constraints() []*bv.Expr {
	n := len(f.constraints)
	return f.constraints[:n:n]
}

func (f *Frontend) Add(cs ...*bv.Expr) {
	for _, c := range cs {
		if c.IsTrue() {
			continue
		}
		f.constraints = append(f.constraints, c)
		if c.IsFalse() {
			no := false
			f.sat = &no
		} else if f.sat != nil && *f.sat {
			f.sat = nil
		}
	}
}

func (f *Frontend) with(extra []*bv.Expr) []*bv.Expr {
	if len(extra) == 0 {
		return f.constraints
	}
	out := make([]*bv.Expr, 0, len(f.constraints)+len(extra))
	out = append(out, f.constraints...)
	return append(out, extra...)
}

func (f *Frontend) Satisfiable(extra ...*bv.Expr) (bool, error) {
	if len(extra) == 0 && f.sat != nil {
		return *f.sat, nil
	}
	ok, _, err := f.backend.check(f.with(extra), nil)
	if err != nil {
		return false, err
	}
	if len(extra) == 0 {
		f.sat = &ok
	}
	return ok, nil
}

// Valid reports whether c holds on every model of the constraints.
func (f *Frontend) Valid(c *bv.Expr) (bool, error) {
	if c.IsTrue() {
		return true, nil
	}
	ok, err := f.Satisfiable(bv.Not(c))
	return !ok, err
}

func (f *Frontend) model(e *bv.Expr, cs []*bv.Expr) (*uint256.Int, bool, error) {
	ok, vals, err := f.backend.check(cs, []*bv.Expr{e})
	if err != nil || !ok {
		return nil, ok, err
	}
	return vals[0], true, nil
}

// EvalUpto returns at most n distinct feasible values of e.
func (f *Frontend) EvalUpto(e *bv.Expr, n int, extra ...*bv.Expr) ([]*uint256.Int, error) {
	if e.IsConst() {
		ok, err := f.Satisfiable(extra...)
		if err != nil || !ok {
			return nil, err
		}
		return []*uint256.Int{e.Value()}, nil
	}
	cs := f.with(extra)
	cs = cs[:len(cs):len(cs)]
	var out []*uint256.Int
	for len(out) < n {
		v, ok, err := f.model(e, cs)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, v)
		cs = append(cs, bv.Ne(e, bv.ConstInt(v, e.Width())))
	}
	return out, nil
}

// EvalExact returns every feasible value of e and fails when there are
// more than k of them.
func (f *Frontend) EvalExact(e *bv.Expr, k int, extra ...*bv.Expr) ([]*uint256.Int, error) {
	vals, err := f.EvalUpto(e, k+1, extra...)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, symerrors.ErrUnsatisfiable
	}
	if len(vals) > k {
		return nil, fmt.Errorf("%w: more than %d values for %s", symerrors.ErrTooManySolutions, k, e)
	}
	return vals, nil
}

// EvalOne returns the single feasible value of e.
func (f *Frontend) EvalOne(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error) {
	vals, err := f.EvalUpto(e, 2, extra...)
	if err != nil {
		return nil, err
	}
	switch len(vals) {
	case 0:
		return nil, symerrors.ErrUnsatisfiable
	case 1:
		return vals[0], nil
	}
	return nil, fmt.Errorf("%w: %s", symerrors.ErrNotUnique, e)
}

// Any returns some feasible value of e.
func (f *Frontend) Any(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error) {
	v, ok, err := f.model(e, f.with(extra))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, symerrors.ErrUnsatisfiable
	}
	return v, nil
}

// Min is the smallest unsigned feasible value of e.
func (f *Frontend) Min(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error) {
	cs := f.with(extra)
	cs = cs[:len(cs):len(cs)]
	hi, err := f.Any(e, extra...)
	if err != nil {
		return nil, err
	}
	lo := new(uint256.Int)
	one := uint256.NewInt(1)
	w := e.Width()
	for lo.Lt(hi) {
		mid := new(uint256.Int).Sub(hi, lo)
		mid.Rsh(mid, 1).Add(mid, lo)
		v, ok, err := f.model(e, append(cs, bv.Ule(e, bv.ConstInt(mid, w))))
		if err != nil {
			return nil, err
		}
		if ok {
			hi = v
		} else {
			lo = new(uint256.Int).Add(mid, one)
		}
	}
	return hi, nil
}

// Max is the largest unsigned feasible value of e.
func (f *Frontend) Max(e *bv.Expr, extra ...*bv.Expr) (*uint256.Int, error) {
	cs := f.with(extra)
	cs = cs[:len(cs):len(cs)]
	lo, err := f.Any(e, extra...)
	if err != nil {
		return nil, err
	}
	w := e.Width()
	hi := bv.Mask(w)
	one := uint256.NewInt(1)
	for lo.Lt(hi) {
		// mid rounds up so the search always moves
		d := new(uint256.Int).Sub(hi, lo)
		mid := new(uint256.Int).Rsh(d, 1)
		mid.Add(mid, d.And(d, one)).Add(mid, lo)
		v, ok, err := f.model(e, append(cs, bv.Uge(e, bv.ConstInt(mid, w))))
		if err != nil {
			return nil, err
		}
		if ok {
			lo = v
		} else {
			hi = new(uint256.Int).Sub(mid, one)
		}
	}
	return lo, nil
}

// Solution reports whether e can equal v.
func (f *Frontend) Solution(e *bv.Expr, v *uint256.Int) (bool, error) {
	return f.Satisfiable(bv.Eq(e, bv.ConstInt(v, e.Width())))
}
