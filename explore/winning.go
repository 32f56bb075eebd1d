package explore

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/sim"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// Predicate is the condition under which a finished path counts as
// winning.
type Predicate func(s *sim.State) (*bv.Expr, error)

// StdoutHasPrefix holds when the first stdout bytes equal prefix. A path
// that printed fewer bytes never matches.
func StdoutHasPrefix(prefix ...byte) Predicate {
	return func(s *sim.State) (*bv.Expr, error) {
		cs := make([]*bv.Expr, 0, len(prefix))
		for i, c := range prefix {
			b, ok := s.Stdout().Byte(i)
			if !ok {
				return bv.False(), nil
			}
			cs = append(cs, bv.Eq(b, bv.Const(uint64(c), 8)))
		}
		return bv.All(cs...), nil
	}
}

// SelectWinning keeps the paths on which pred can hold and adds pred to
// the constraints of their tips. Paths where it cannot hold are left
// untouched.
func SelectWinning(paths []*Path, pred Predicate) ([]*Path, error) {
	var out []*Path
	for _, p := range paths {
		s := p.Tip
		c, err := pred(s)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", s.ID(), err)
		}
		ok, err := s.Satisfiable(c)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", s.ID(), err)
		}
		if !ok {
			log.Trace(log.ExploreMonitoring, "not winning", "state", s.ID())
			continue
		}
		if !c.IsTrue() {
			s.AddConstraints(c)
		}
		out = append(out, p)
	}
	return out, nil
}

// UniqueWinning is SelectWinning for callers that need exactly one path.
func UniqueWinning(paths []*Path, pred Predicate) (*Path, error) {
	win, err := SelectWinning(paths, pred)
	if err != nil {
		return nil, err
	}
	if len(win) != 1 {
		return nil, fmt.Errorf("%d winning paths among %d: %w", len(win), len(paths), symerrors.ErrAmbiguity)
	}
	return win[0], nil
}

// AdvanceUntilBranch runs s forward while it has exactly one successor and
// returns the state where the path finished. More than one successor is an
// ambiguity error; maxSteps of zero means unlimited.
func AdvanceUntilBranch(ctx context.Context, s *sim.State, maxSteps int) (*sim.State, error) {
	for n := 0; maxSteps <= 0 || n < maxSteps; n++ {
		if s.Done() {
			return s, nil
		}
		next, err := s.Step(ctx)
		if err != nil {
			return s, err
		}
		switch len(next) {
		case 0:
			return s, fmt.Errorf("path pruned at %s: %w", s.Addr(), symerrors.ErrUnsatisfiable)
		case 1:
			s = next[0]
		default:
			return s, fmt.Errorf("%d successors at %s: %w", len(next), s.Addr(), symerrors.ErrAmbiguity)
		}
	}
	if s.Done() {
		return s, nil
	}
	return s, fmt.Errorf("%d steps: %w", maxSteps, symerrors.ErrBudgetExhausted)
}
