package sim

import (
	"fmt"
	"sync/atomic"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/config"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/solver"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// Machine carries what every state of one exploration shares: the loaded
// program, the solver backend, the configuration and the logger.
type Machine struct {
	loader  program.Loader
	backend *solver.Backend
	cfg     config.Config
	logger  log.Logger
	jni     *jniEnv
	ids     atomic.Uint64
}

type Option func(*Machine)

// WithBackend shares a solver backend between machines.
func WithBackend(be *solver.Backend) Option {
	return func(m *Machine) { m.backend = be }
}

func WithLogger(l log.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func NewMachine(loader program.Loader, cfg config.Config, opts ...Option) *Machine {
	m := &Machine{loader: loader, cfg: cfg, logger: log.Root()}
	for _, o := range opts {
		o(m)
	}
	if m.backend == nil {
		m.backend = solver.NewBackend()
	}
	m.jni = newJNIEnv(cfg.Native)
	return m
}

func (m *Machine) Loader() program.Loader   { return m.loader }
func (m *Machine) Config() config.Config    { return m.cfg }
func (m *Machine) Backend() *solver.Backend { return m.backend }
func (m *Machine) Logger() log.Logger       { return m.logger }

// JNIEnvAddr is the JNIEnv* passed to native methods.
func (m *Machine) JNIEnvAddr() uint64 { return m.jni.env }

// ReturnHook is the address native code returns to when leaving a
// foreign call.
func (m *Machine) ReturnHook() uint64 { return m.jni.retHook }

func (m *Machine) nextID() uint64 { return m.ids.Add(1) }

func (m *Machine) fanout() int { return m.cfg.Solver.SymbolicFanout }

// candidateLimit is how many values of a symbolic address are enumerated
// before giving up.
func (m *Machine) candidateLimit() int {
	return min(m.cfg.Solver.SymbolicFanout, m.cfg.Solver.EvalLimit-1)
}

// stackLimit is the lowest address the native stack may grow to.
func (m *Machine) stackLimit() uint64 {
	return m.cfg.Native.StackBase - m.cfg.Native.StackSize
}

// resolve maps an address to its execution model.
func (m *Machine) resolve(a Address) (Arch, error) {
	switch a := a.(type) {
	case NativeAddr:
		if m.jni.owns(uint64(a)) {
			return ArchAMD64, nil
		}
		if _, ok := m.loader.Region(uint64(a)); ok {
			return ArchAMD64, nil
		}
		return 0, fmt.Errorf("%s: %w", a, symerrors.ErrAddressResolution)
	case BytecodeAddr:
		meth, ok := m.loader.Method(a.Method)
		if !ok || meth.Native {
			return 0, fmt.Errorf("%s: %w", a, symerrors.ErrAddressResolution)
		}
		if a.Block == 0 && a.Stmt == 0 && len(meth.Blocks) > 0 {
			return ArchBytecode, nil
		}
		if meth.Stmt(a.Block, a.Stmt) == nil {
			return 0, fmt.Errorf("%s: %w", a, symerrors.ErrAddressResolution)
		}
		return ArchBytecode, nil
	}
	return 0, fmt.Errorf("%v: %w", a, symerrors.ErrAddressResolution)
}

func (m *Machine) newState() *State {
	s := &State{
		m:       m,
		id:      m.nextID(),
		regs:    memory.NewRegFile(memory.AMD64),
		flat:    memory.NewFlat(),
		heap:    memory.NewHeap(),
		solver:  solver.NewFrontend(m.backend),
		stdin:   Stream{Name: "stdin"},
		stdout:  Stream{Name: "stdout"},
		bufNext: m.cfg.Native.BufferBase,
	}
	m.jni.install(&s.flat)
	return s
}

// EntryState starts at the first statement of a bytecode method. Missing
// arguments become fresh symbols named after the parameters.
func (m *Machine) EntryState(method string, args ...*bv.Expr) (*State, error) {
	meth, ok := m.loader.Method(method)
	if !ok || meth.Native {
		return nil, fmt.Errorf("entry %s: %w", method, symerrors.ErrAddressResolution)
	}
	if len(args) > len(meth.Params) {
		return nil, fmt.Errorf("entry %s: %d args for %d params: %w", method, len(args), len(meth.Params), symerrors.ErrBadSignature)
	}
	s := m.newState()
	if err := s.SetIP(MethodEntry(method)); err != nil {
		return nil, err
	}
	fr := s.frame()
	for i, p := range meth.Params {
		v := bv.Sym(fmt.Sprintf("arg_%s", p.Name), p.Type.SlotBits())
		if i < len(args) {
			v = args[i]
		}
		if err := fr.Locals.Store(p.Name, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// BlankState starts at addr with empty registers and memory. Native
// states get a stack pointer at the configured stack base.
func (m *Machine) BlankState(addr Address) (*State, error) {
	s := m.newState()
	if err := s.SetIP(addr); err != nil {
		return nil, err
	}
	if s.IsNative() {
		if err := s.regs.Store("rsp", bv.Const(m.cfg.Native.StackBase, 64)); err != nil {
			return nil, err
		}
	}
	return s, nil
}
