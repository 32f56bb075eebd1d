package solver

import (
	"sync"
	"sync/atomic"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/symerrors"
	sat "github.com/crillab/gophersat/solver"
	"github.com/holiman/uint256"
)

// Backend is shared by every state of an exploration. It owns the
// bit-blasting cache; queries collect the clauses their literals depend on
// under the lock and run the SAT search outside it.
type Backend struct {
	mu sync.Mutex
	b  *blaster

	queries atomic.Uint64
	sats    atomic.Uint64
}

func NewBackend() *Backend {
	return &Backend{b: newBlaster()}
}

// Stats reports the number of queries and how many were satisfiable.
func (be *Backend) Stats() (queries, sat uint64) {
	return be.queries.Load(), be.sats.Load()
}

// check decides the conjunction of assertions and, when satisfiable,
// returns the model values of watch.
func (be *Backend) check(assertions []*bv.Expr, watch []*bv.Expr) (bool, []*uint256.Int, error) {
	be.queries.Add(1)

	be.mu.Lock()
	var units []int
	for _, a := range assertions {
		if a.IsTrue() {
			continue
		}
		if a.IsFalse() {
			be.mu.Unlock()
			return false, nil, nil
		}
		l, err := be.b.lit(a)
		if err != nil {
			be.mu.Unlock()
			return false, nil, err
		}
		if l == -be.b.tru {
			be.mu.Unlock()
			return false, nil, nil
		}
		if l != be.b.tru {
			units = append(units, l)
		}
	}
	roots := append([]int(nil), units...)
	watched := make([][]int, len(watch))
	for i, w := range watch {
		watched[i] = be.b.bits(w)
		roots = append(roots, watched[i]...)
	}
	cnf, dense := be.b.cone(roots)
	be.mu.Unlock()

	for _, u := range units {
		if u < 0 {
			cnf = append(cnf, []int{-dense[-u]})
		} else {
			cnf = append(cnf, []int{dense[u]})
		}
	}
	pb := sat.ParseSlice(cnf)
	s := sat.New(pb)
	switch s.Solve() {
	case sat.Sat:
	case sat.Unsat:
		log.Trace(log.SolverMonitoring, "unsat", "clauses", len(cnf), "assertions", len(assertions))
		return false, nil, nil
	default:
		return false, nil, symerrors.ErrSolverIndeterminate
	}
	be.sats.Add(1)
	model := s.Model()
	truth := func(l int) bool {
		v := dense[abs(l)]
		set := v > 0 && v-1 < len(model) && model[v-1]
		if l < 0 {
			return !set
		}
		return set
	}
	values := make([]*uint256.Int, len(watch))
	for i, bits := range watched {
		out := new(uint256.Int)
		for j, l := range bits {
			if truth(l) {
				out[j/64] |= 1 << (uint(j) % 64)
			}
		}
		values[i] = out
	}
	log.Trace(log.SolverMonitoring, "sat", "clauses", len(cnf), "assertions", len(assertions))
	return true, values, nil
}
