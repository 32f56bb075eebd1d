package explore

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/sim"
)

// Status is the bucket a path is in.
type Status int

const (
	Active Status = iota
	Deadended
	Errored
)

func (st Status) String() string {
	switch st {
	case Active:
		return "active"
	case Deadended:
		return "deadended"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("status(%d)", int(st))
}

// Path is one explored path: the state at its tip and every address it
// stepped through from entry, the tip's included.
type Path struct {
	Tip     *sim.State
	History []sim.Address
	Status  Status
	// Err is why an errored path stopped.
	Err error
}

// NewPath starts a path at s.
func NewPath(s *sim.State) *Path {
	return &Path{Tip: s, History: []sim.Address{s.Addr()}}
}

// extend returns the path continued to s. Siblings of a fork must not
// share spare capacity, so shared extensions copy on append.
func (p *Path) extend(s *sim.State, shared bool) *Path {
	h := p.History
	if shared {
		h = h[:len(h):len(h)]
	}
	return &Path{Tip: s, History: append(h, s.Addr())}
}

// Steps is the number of steps the path has taken.
func (p *Path) Steps() int { return len(p.History) - 1 }

func (p *Path) String() string {
	if p.Err != nil {
		return fmt.Sprintf("%s %s: %v", p.Status, p.Tip, p.Err)
	}
	return fmt.Sprintf("%s %s", p.Status, p.Tip)
}
