package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// Step advances one bytecode statement or one native instruction and
// returns the successors. s itself is never modified. A step that ends
// the path returns the finished state, with Done set. There are no
// successors when s has already finished or when the step turns out to be
// infeasible, such as an array length that cannot be valid.
func (s *State) Step(ctx context.Context) ([]*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.addr == nil || s.done {
		return nil, nil
	}
	succ := s.Clone()
	succ.steps++
	var (
		out []*State
		err error
	)
	switch a := s.addr.(type) {
	case NativeAddr:
		out, err = succ.stepNative(uint64(a))
	case BytecodeAddr:
		out, err = succ.stepBytecode(a)
	default:
		err = symerrors.ErrAddressResolution
	}
	if err != nil {
		if errors.Is(err, symerrors.ErrInvalidLength) || errors.Is(err, symerrors.ErrUnsatisfiable) {
			log.Debug(log.StateMonitoring, "pruned", "state", s.id, "addr", s.addr, "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", s.addr, err)
	}
	return out, nil
}

// fork splits s on cond. The taken side carries cond and the other side
// its negation; a side that cannot be reached is nil. A side that is
// implied by the path gets no new constraint.
func (s *State) fork(cond *bv.Expr) (taken, other *State, err error) {
	if cond.IsTrue() {
		return s, nil, nil
	}
	if cond.IsFalse() {
		return nil, s, nil
	}
	canTake, err := s.solver.Satisfiable(cond)
	if err != nil {
		return nil, nil, err
	}
	canSkip, err := s.solver.Satisfiable(bv.Not(cond))
	if err != nil {
		return nil, nil, err
	}
	switch {
	case canTake && canSkip:
		taken = s.Clone()
		taken.solver.Add(cond)
		s.solver.Add(bv.Not(cond))
		log.Trace(log.StateMonitoring, "fork", "state", s.id, "taken", taken.id, "cond", cond)
		return taken, s, nil
	case canTake:
		return s, nil, nil
	case canSkip:
		return nil, s, nil
	}
	return nil, nil, symerrors.ErrUnsatisfiable
}

// jumpTo moves s to a native target, forking once per feasible value when
// the target is symbolic.
func (s *State) jumpTo(target *bv.Expr) ([]*State, error) {
	if v, ok := target.Uint64(); ok {
		if err := s.SetIP(NativeAddr(v)); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	}
	vals, err := s.addrCandidates(target)
	if err != nil {
		return nil, fmt.Errorf("jump target: %w", err)
	}
	out := make([]*State, 0, len(vals))
	for i, v := range vals {
		t := s
		if i < len(vals)-1 {
			t = s.Clone()
		}
		if len(vals) > 1 {
			t.solver.Add(bv.Eq(target, bv.Const(v, target.Width())))
		}
		if err := t.SetIP(NativeAddr(v)); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
