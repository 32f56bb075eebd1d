// Package explore drives execution states through sim.Step and sorts the
// resulting paths into buckets.
package explore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colorfulnotion/jnisym/config"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/sim"
	"github.com/colorfulnotion/jnisym/symerrors"
	"golang.org/x/sync/errgroup"
)

// Options bounds a run. Zero budgets mean unlimited.
type Options struct {
	Workers  int
	MaxSteps int
	// MaxPaths caps the number of live and finished paths together.
	MaxPaths int
	// Trace receives one JSON line per bucket move when set.
	Trace *log.EventWriter
}

// OptionsFrom copies the exploration settings of cfg.
func OptionsFrom(cfg config.Explore) Options {
	return Options{Workers: cfg.Workers, MaxSteps: cfg.MaxSteps, MaxPaths: cfg.MaxPaths}
}

// Manager owns the buckets of one exploration.
type Manager struct {
	opts Options

	mu        sync.Mutex
	active    []*Path
	deadended []*Path
	errored   []*Path
	pruned    int
	steps     int
	tree      pathTree
}

// NewManager starts an exploration from the given states.
func NewManager(opts Options, states ...*sim.State) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	m := &Manager{opts: opts}
	for _, s := range states {
		m.active = append(m.active, NewPath(s))
		m.tree.root(s)
	}
	return m
}

func (m *Manager) Active() []*Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Path(nil), m.active...)
}

func (m *Manager) Deadended() []*Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Path(nil), m.deadended...)
}

func (m *Manager) Errored() []*Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Path(nil), m.errored...)
}

// Pruned is the number of paths dropped because they became infeasible.
func (m *Manager) Pruned() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruned
}

// Steps is the number of state steps taken so far.
func (m *Manager) Steps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

func (m *Manager) paths() int {
	return len(m.active) + len(m.deadended) + len(m.errored)
}

type outcome struct {
	next []*sim.State
	err  error
	ran  bool
	took time.Duration
}

// Run steps active states until none is left. It returns
// ErrBudgetExhausted when a budget stops it first, or the context error on
// cancellation; the buckets hold whatever was reached either way.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := m.round(ctx)
		if err != nil || done {
			return err
		}
	}
}

// Round steps every active state once, honoring the step budget. It
// reports done when the active bucket is empty.
func (m *Manager) Round(ctx context.Context) (bool, error) {
	return m.round(ctx)
}

func (m *Manager) round(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if len(m.active) == 0 {
		m.mu.Unlock()
		return true, nil
	}
	batch := m.active
	if m.opts.MaxSteps > 0 {
		left := m.opts.MaxSteps - m.steps
		if left <= 0 {
			m.mu.Unlock()
			return false, m.exhausted("steps", m.opts.MaxSteps)
		}
		if left < len(batch) {
			batch = batch[:left]
		}
	}
	rest := append([]*Path(nil), m.active[len(batch):]...)
	batch = append([]*Path(nil), batch...)
	m.mu.Unlock()

	results := make([]outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(m.opts.Workers)
	for i, p := range batch {
		i, s := i, p.Tip
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			start := time.Now()
			next, err := s.Step(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			results[i] = outcome{next: next, err: err, ran: true, took: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*Path
	for i, p := range batch {
		r := results[i]
		if !r.ran {
			active = append(active, p)
			continue
		}
		m.steps++
		s := p.Tip
		switch {
		case r.err != nil:
			p = &Path{Tip: s, History: p.History, Status: Errored, Err: r.err}
			m.errored = append(m.errored, p)
			m.tree.finish(s, "errored")
			log.Debug(log.ExploreMonitoring, "errored", "state", s.ID(), "addr", s.Addr(), "err", r.err)
			m.emit("errored", s, r.err.Error(), r.took)
		case len(r.next) == 0 && s.Done():
			m.deadend(p, r.took)
		case len(r.next) == 0:
			m.pruned++
			m.tree.finish(s, "pruned")
			log.Debug(log.ExploreMonitoring, "pruned", "state", s.ID(), "addr", s.Addr())
			m.emit("pruned", s, nil, r.took)
		case len(r.next) == 1:
			m.tree.advance(s, r.next[0])
			active = m.place(active, p.extend(r.next[0], false), r.took)
		default:
			m.tree.fork(s, r.next)
			log.Debug(log.ExploreMonitoring, "fork", "state", s.ID(), "addr", s.Addr(), "ways", len(r.next))
			m.emit("fork", s, len(r.next), r.took)
			for _, n := range r.next {
				active = m.place(active, p.extend(n, true), r.took)
			}
		}
	}
	m.active = append(active, rest...)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.opts.MaxPaths > 0 && m.paths() > m.opts.MaxPaths {
		return false, m.exhausted("paths", m.opts.MaxPaths)
	}
	return len(m.active) == 0, nil
}

// place files a successor: finished paths are deadended, the rest stay
// active.
func (m *Manager) place(active []*Path, p *Path, took time.Duration) []*Path {
	if p.Tip.Done() {
		m.deadend(p, took)
		return active
	}
	return append(active, p)
}

func (m *Manager) deadend(p *Path, took time.Duration) {
	d := *p
	d.Status = Deadended
	s := d.Tip
	m.deadended = append(m.deadended, &d)
	m.tree.finish(s, "deadended")
	log.Debug(log.ExploreMonitoring, "deadended", "state", s.ID(), "addr", s.Addr(), "steps", s.Steps(), "diagnostics", len(s.Diagnostics()))
	m.emit("deadended", s, nil, took)
}

func (m *Manager) exhausted(what string, limit int) error {
	log.Info(log.ExploreMonitoring, "budget exhausted", what, limit, "active", len(m.active), "deadended", len(m.deadended), "errored", len(m.errored))
	return fmt.Errorf("%d %s: %w", limit, what, symerrors.ErrBudgetExhausted)
}

func (m *Manager) emit(kind string, s *sim.State, payload interface{}, took time.Duration) {
	if m.opts.Trace == nil {
		return
	}
	ev := map[string]interface{}{"addr": s.Addr().String(), "steps": s.Steps(), "value": payload}
	if err := m.opts.Trace.Emit(kind, s.ID(), ev, "parent", s.Parent(), "elapsed", took); err != nil {
		log.Warn(log.ExploreMonitoring, "trace write failed", "err", err)
	}
}

// Winning selects the deadended paths satisfying pred. See SelectWinning.
func (m *Manager) Winning(pred Predicate) ([]*Path, error) {
	return SelectWinning(m.Deadended(), pred)
}

// Summary is a one-line account of the buckets.
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%d active, %d deadended, %d errored, %d pruned after %d steps",
		len(m.active), len(m.deadended), len(m.errored), m.pruned, m.steps)
}
