// Package sim is the execution state of a mixed bytecode/native program:
// the state itself, its bytecode interpreter, the x86-64 executor and the
// bridge between them.
package sim

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/solver"
)

// Frame is one bytecode activation.
type Frame struct {
	Method *program.Method
	Locals memory.KV

	// continuation in the caller; nil for the outermost frame
	ret Address
	dst string
}

// Diagnostic is a warning recorded on a state that did not stop it.
type Diagnostic struct {
	Err    error
	Addr   Address
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s at %s: %s", d.Err, d.Addr, d.Detail)
}

// State is one point of one path. Both representations live in the state;
// the variant of addr decides which one is active.
type State struct {
	m      *Machine
	id     uint64
	parent uint64
	addr   Address

	frames []Frame
	regs   memory.RegFile
	flat   memory.Flat
	heap   memory.Heap
	flags  flags
	calls  []*CallFrame
	loose  map[memory.Handle]*Borrow

	solver  *solver.Frontend
	stdin   Stream
	stdout  Stream
	diags   []Diagnostic
	bufNext uint64
	steps   int
	done    bool
}

func (s *State) ID() uint64               { return s.id }
func (s *State) Parent() uint64           { return s.parent }
func (s *State) Machine() *Machine        { return s.m }
func (s *State) Addr() Address            { return s.addr }
func (s *State) Steps() int               { return s.steps }
func (s *State) Done() bool               { return s.done }
func (s *State) Solver() *solver.Frontend { return s.solver }
func (s *State) Stdin() *Stream           { return &s.stdin }
func (s *State) Stdout() *Stream          { return &s.stdout }
func (s *State) Heap() *memory.Heap       { return &s.heap }
func (s *State) Flat() *memory.Flat       { return &s.flat }
func (s *State) RegFile() *memory.RegFile { return &s.regs }

// IsNative reports whether the current address is a native one.
func (s *State) IsNative() bool {
	_, ok := s.addr.(NativeAddr)
	return ok
}

func (s *State) Arch() Arch {
	if s.IsNative() {
		return ArchAMD64
	}
	return ArchBytecode
}

// Registers returns the register file of the active representation.
func (s *State) Registers() memory.Registers {
	if s.IsNative() {
		return &s.regs
	}
	return &s.frame().Locals
}

// Memory returns the memory space of the active representation.
func (s *State) Memory() memory.Memory {
	if s.IsNative() {
		return &s.flat
	}
	return &s.heap
}

// Locals returns the locals of the innermost bytecode frame.
func (s *State) Locals() *memory.KV {
	if fr := s.frame(); fr != nil {
		return &fr.Locals
	}
	kv := memory.NewKV()
	return &kv
}

func (s *State) frame() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

// Frames returns the bytecode call stack, outermost first.
func (s *State) Frames() []Frame {
	return append([]Frame(nil), s.frames...)
}

// CallFrames returns the active foreign calls, outermost first.
func (s *State) CallFrames() []*CallFrame {
	return append([]*CallFrame(nil), s.calls...)
}

// SetIP moves the state to addr, switching representation when addr
// belongs to the other execution model. On error the state is unchanged.
func (s *State) SetIP(addr Address) error {
	arch, err := s.m.resolve(addr)
	if err != nil {
		return err
	}
	if b, ok := addr.(BytecodeAddr); ok {
		if fr := s.frame(); fr == nil || fr.Method.Name != b.Method {
			meth, _ := s.m.loader.Method(b.Method)
			s.frames = append(s.frames, Frame{Method: meth, Locals: memory.NewKV()})
		}
	}
	if s.addr != nil && s.Arch() != arch {
		log.Debug(log.StateMonitoring, "switch", "state", s.id, "from", s.addr, "to", addr, "arch", arch)
	}
	s.addr = addr
	return nil
}

// Clone forks the state. Registers, memory and constraints are shared
// structurally and diverge on write.
func (s *State) Clone() *State {
	c := *s
	c.id = s.m.nextID()
	c.parent = s.id
	c.frames = append([]Frame(nil), s.frames...)
	c.calls = make([]*CallFrame, len(s.calls))
	for i, cf := range s.calls {
		c.calls[i] = cf.clone(&c)
	}
	c.loose = cloneBorrows(s.loose, &c)
	c.solver = s.solver.Branch()
	c.stdin = s.stdin.clone()
	c.stdout = s.stdout.clone()
	c.diags = s.diags[:len(s.diags):len(s.diags)]
	return &c
}

// AddConstraints appends path constraints.
func (s *State) AddConstraints(cs ...*bv.Expr) {
	s.solver.Add(cs...)
}

// Constraints returns the ordered path constraints.
func (s *State) Constraints() []*bv.Expr {
	return s.solver.Constraints()
}

// Satisfiable reports whether the path constraints, with extra, hold.
func (s *State) Satisfiable(extra ...*bv.Expr) (bool, error) {
	return s.solver.Satisfiable(extra...)
}

// Diagnostics returns the warnings recorded so far.
func (s *State) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), s.diags...)
}

func (s *State) warn(err error, detail string, ctx ...interface{}) {
	s.diags = append(s.diags, Diagnostic{Err: err, Addr: s.addr, Detail: detail})
	log.Debug(log.StateMonitoring, detail, append([]interface{}{"state", s.id, "addr", s.addr, "err", err}, ctx...)...)
}

// Local reads a local of the innermost frame; ok is false if it was never
// assigned.
func (s *State) Local(name string) (*bv.Expr, bool) {
	fr := s.frame()
	if fr == nil {
		return nil, false
	}
	return fr.Locals.Lookup(name)
}

func (s *State) String() string {
	return fmt.Sprintf("<State %d %s %s>", s.id, s.Arch(), s.addr)
}

func cloneBorrows(in map[memory.Handle]*Borrow, owner *State) map[memory.Handle]*Borrow {
	if len(in) == 0 {
		return nil
	}
	out := make(map[memory.Handle]*Borrow, len(in))
	for h, b := range in {
		out[h] = b.clone(owner)
	}
	return out
}

func sortedHandles(m map[memory.Handle]*Borrow) []memory.Handle {
	out := make([]memory.Handle, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
