package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/holiman/uint256"
)

// ReleaseMode is the mode argument of Release<T>ArrayElements.
type ReleaseMode uint32

const (
	ReleaseCommitFree ReleaseMode = 0
	ReleaseCommit     ReleaseMode = 1 // JNI_COMMIT
	ReleaseAbort      ReleaseMode = 2 // JNI_ABORT
)

// CallFrame is an active call from bytecode into native code.
type CallFrame struct {
	Method *program.Method
	Args   []*bv.Expr
	Resume Address
	Dst    string

	// site is where the call was made from
	site    Address
	borrows map[memory.Handle]*Borrow
}

// Pending lists borrowed handles not yet released.
func (cf *CallFrame) Pending() []memory.Handle {
	return sortedHandles(cf.borrows)
}

func (cf *CallFrame) clone(owner *State) *CallFrame {
	c := *cf
	c.borrows = cloneBorrows(cf.borrows, owner)
	return &c
}

// Borrow is an array buffer handed out by GetArrayElements. It must end
// with Commit or Abort, or with a release from native code.
type Borrow struct {
	Handle memory.Handle
	Elem   program.Type
	// Elems is the borrowed copy, at the element's natural width.
	Elems  []*bv.Expr
	IsCopy bool
	// Buffer is the native address of the copy, zero when borrowed from Go.
	Buffer uint64

	state *State
}

func (b *Borrow) clone(owner *State) *Borrow {
	c := *b
	c.Elems = append([]*bv.Expr(nil), b.Elems...)
	c.state = owner
	return &c
}

// Commit writes the buffer back and ends the borrow.
func (b *Borrow) Commit() error {
	return b.state.ReleaseArrayElements(b.Handle, ReleaseCommitFree)
}

// Abort ends the borrow without writing back.
func (b *Borrow) Abort() error {
	return b.state.ReleaseArrayElements(b.Handle, ReleaseAbort)
}

func (s *State) borrows() map[memory.Handle]*Borrow {
	if n := len(s.calls); n > 0 {
		cf := s.calls[n-1]
		if cf.borrows == nil {
			cf.borrows = make(map[memory.Handle]*Borrow)
		}
		return cf.borrows
	}
	if s.loose == nil {
		s.loose = make(map[memory.Handle]*Borrow)
	}
	return s.loose
}

// handleOf concretizes a reference value.
func (s *State) handleOf(v *bv.Expr) (memory.Handle, error) {
	raw, ok := v.Uint64()
	if !ok {
		u, err := s.solver.EvalOne(v)
		if err != nil {
			return 0, fmt.Errorf("symbolic reference: %w", err)
		}
		raw = u.Uint64()
	}
	if raw == 0 || raw > 0xffffffff {
		return 0, fmt.Errorf("reference %#x: %w", raw, symerrors.ErrUnknownHandle)
	}
	return memory.Handle(raw), nil
}

// concrete returns the single value of e.
func (s *State) concrete(e *bv.Expr) (uint64, error) {
	if v, ok := e.Uint64(); ok {
		return v, nil
	}
	u, err := s.solver.EvalOne(e)
	if err != nil {
		return 0, err
	}
	return u.Uint64(), nil
}

// NewArray allocates an array after constraining length to [0, 2^31-1].
func (s *State) NewArray(elem program.Type, length *bv.Expr) (memory.Handle, error) {
	length = bv.Resize(length, 32)
	valid := bv.Sge(length, bv.Const(0, 32))
	if err := s.require(valid, symerrors.ErrInvalidLength); err != nil {
		return 0, fmt.Errorf("new %s[%s]: %w", elem, length, err)
	}
	h := s.heap.NewArray(elem, length)
	log.Trace(log.BridgeMonitoring, "new array", "state", s.id, "handle", h, "elem", elem, "length", length)
	return h, nil
}

// require adds c to the path, failing with errInfeasible when it cannot
// hold. Conditions already implied are not recorded.
func (s *State) require(c *bv.Expr, errInfeasible error) error {
	if c.IsTrue() {
		return nil
	}
	ok, err := s.solver.Satisfiable(c)
	if err != nil {
		return err
	}
	if !ok {
		return errInfeasible
	}
	valid, err := s.solver.Valid(c)
	if err != nil {
		return err
	}
	if !valid {
		s.solver.Add(c)
	}
	return nil
}

// ArrayLength returns the 32-bit length formula of an array.
func (s *State) ArrayLength(h memory.Handle) (*bv.Expr, error) {
	arr, err := s.heap.Array(h)
	if err != nil {
		return nil, err
	}
	return arr.Length, nil
}

// bound constrains the window [start, start+count) into the array. When it
// cannot fit, ok is false, the state is untouched apart from a diagnostic,
// and the caller skips the access. Otherwise it returns the candidate
// values of start.
func (s *State) bound(arr *memory.Array, start *bv.Expr, count uint64) (cands []uint64, ok bool, err error) {
	start = bv.Resize(start, 32)
	wideStart := bv.SignExt(start, 64)
	end := bv.Add(wideStart, bv.Const(count, 64))
	inRange := bv.And(
		bv.Sge(start, bv.Const(0, 32)),
		bv.Ule(end, bv.ZeroExt(arr.Length, 64)),
	)
	if err := s.require(inRange, symerrors.ErrIndexOutOfRange); err != nil {
		if err == symerrors.ErrIndexOutOfRange {
			s.warn(err, "array access skipped", "start", start, "count", count, "length", arr.Length)
			return nil, false, nil
		}
		return nil, false, err
	}
	if v, ok := start.Uint64(); ok {
		return []uint64{v}, true, nil
	}
	lo, err := s.solver.Min(start)
	if err != nil {
		return nil, false, err
	}
	hi, err := s.solver.Max(start)
	if err != nil {
		return nil, false, err
	}
	n := new(uint256.Int).Sub(hi, lo).Uint64() + 1
	if n > uint64(s.m.fanout()) {
		return nil, false, fmt.Errorf("%d candidates for %s: %w", n, start, symerrors.ErrSymbolicIndexWidth)
	}
	for i := lo.Uint64(); i <= hi.Uint64(); i++ {
		cands = append(cands, i)
	}
	return cands, true, nil
}

// selectElem reads arr[idx] as an if-then-else over the candidates.
func selectElem(arr *memory.Array, idx *bv.Expr, cands []uint64, off uint64) *bv.Expr {
	last := cands[len(cands)-1]
	v := arr.Get(last + off)
	for i := len(cands) - 2; i >= 0; i-- {
		c := cands[i]
		v = bv.Ite(bv.Eq(idx, bv.Const(c, 32)), arr.Get(c+off), v)
	}
	return v
}

// storeElem writes v at idx+off. A symbolic idx rewrites every candidate
// slot with an if-then-else so that exactly the chosen one changes.
func storeElem(arr *memory.Array, idx *bv.Expr, cands []uint64, off uint64, v *bv.Expr) *memory.Array {
	if len(cands) == 1 && idx.IsConst() {
		return arr.With(cands[0]+off, v)
	}
	for _, c := range cands {
		hit := bv.Eq(idx, bv.Const(c, 32))
		arr = arr.With(c+off, bv.Ite(hit, v, arr.Get(c+off)))
	}
	return arr
}

// ArrayLoad reads one element at natural width; ok is false when the
// index cannot be in bounds.
func (s *State) ArrayLoad(h memory.Handle, idx *bv.Expr) (*bv.Expr, bool, error) {
	vals, ok, err := s.GetArrayRegion(h, idx, 1)
	if err != nil || !ok {
		return nil, ok, err
	}
	return vals[0], true, nil
}

// ArrayStore writes one element; ok is false when the index cannot be in
// bounds and nothing was written.
func (s *State) ArrayStore(h memory.Handle, idx *bv.Expr, v *bv.Expr) (bool, error) {
	return s.SetArrayRegion(h, idx, []*bv.Expr{v})
}

// GetArrayRegion returns a snapshot of count elements from start. The
// result is absent when the window cannot fit inside the array.
func (s *State) GetArrayRegion(h memory.Handle, start *bv.Expr, count uint64) ([]*bv.Expr, bool, error) {
	arr, err := s.heap.Array(h)
	if err != nil {
		return nil, false, err
	}
	cands, ok, err := s.bound(arr, start, count)
	if err != nil || !ok {
		return nil, false, err
	}
	idx := bv.Resize(start, 32)
	out := make([]*bv.Expr, count)
	for i := range out {
		out[i] = selectElem(arr, idx, cands, uint64(i))
	}
	return out, true, nil
}

// SetArrayRegion writes vals from start.
func (s *State) SetArrayRegion(h memory.Handle, start *bv.Expr, vals []*bv.Expr) (bool, error) {
	arr, err := s.heap.Array(h)
	if err != nil {
		return false, err
	}
	cands, ok, err := s.bound(arr, start, uint64(len(vals)))
	if err != nil || !ok {
		return false, err
	}
	idx := bv.Resize(start, 32)
	for i, v := range vals {
		arr = storeElem(arr, idx, cands, uint64(i), narrow(arr.Elem, widenTo(v, arr.Elem)))
	}
	return true, s.heap.Put(h, arr)
}

// widenTo brings a natural-width element up to slot width so narrow can
// treat every input alike.
func widenTo(v *bv.Expr, t program.Type) *bv.Expr {
	if v.Width() < t.SlotBits() {
		return widen(t, v)
	}
	return v
}

// borrowCount is the number of elements a borrow copies: the length, or
// its upper bound when symbolic.
func (s *State) borrowCount(arr *memory.Array) (uint64, error) {
	if n, ok := arr.Length.Uint64(); ok {
		return n, nil
	}
	hi, err := s.solver.Max(arr.Length, bv.Sge(arr.Length, bv.Const(0, 32)))
	if err != nil {
		return 0, err
	}
	if hi.Uint64() > uint64(s.m.fanout()) {
		return 0, fmt.Errorf("borrow of %s elements: %w", arr.Length, symerrors.ErrSymbolicIndexWidth)
	}
	return hi.Uint64(), nil
}

// GetArrayElements borrows the whole array. The borrow is pending on the
// innermost call frame until released.
func (s *State) GetArrayElements(h memory.Handle) (*Borrow, error) {
	arr, err := s.heap.Array(h)
	if err != nil {
		return nil, err
	}
	n, err := s.borrowCount(arr)
	if err != nil {
		return nil, err
	}
	b := &Borrow{Handle: h, Elem: arr.Elem, IsCopy: true, state: s}
	b.Elems = make([]*bv.Expr, n)
	for i := range b.Elems {
		b.Elems[i] = arr.Get(uint64(i))
	}
	s.borrows()[h] = b
	log.Trace(log.BridgeMonitoring, "borrow", "state", s.id, "handle", h, "count", n)
	return b, nil
}

// ReleaseArrayElements ends a borrow. Releasing a handle that is not
// borrowed does nothing beyond a diagnostic.
func (s *State) ReleaseArrayElements(h memory.Handle, mode ReleaseMode) error {
	pending := s.borrows()
	b, ok := pending[h]
	if !ok {
		s.warn(symerrors.ErrUnborrowed, "release ignored", "handle", h)
		return nil
	}
	if b.Buffer != 0 {
		size := b.Elem.Bits() / 8
		for i := range b.Elems {
			b.Elems[i] = s.flat.Load(b.Buffer+uint64(i)*uint64(size), size)
		}
	}
	if mode != ReleaseAbort {
		arr, err := s.heap.Array(h)
		if err != nil {
			return err
		}
		for i, v := range b.Elems {
			in := bv.Ult(bv.Const(uint64(i), 32), arr.Length)
			arr = arr.With(uint64(i), bv.Ite(in, bv.Resize(v, b.Elem.Bits()), arr.Get(uint64(i))))
		}
		if err := s.heap.Put(h, arr); err != nil {
			return err
		}
	}
	if mode != ReleaseCommit {
		delete(pending, h)
	}
	log.Trace(log.BridgeMonitoring, "release", "state", s.id, "handle", h, "mode", mode)
	return nil
}

// EnterForeignCall marshals args into the native calling convention,
// pushes a call frame and moves the state into native code. resume is
// where the caller continues; it may be nil when the call ends the method.
func (s *State) EnterForeignCall(target *program.Method, args []*bv.Expr, resume Address, dst string) (*CallFrame, error) {
	if !target.Native {
		return nil, fmt.Errorf("%s is not native: %w", target.Name, symerrors.ErrBadSignature)
	}
	if len(args) != len(target.Params) {
		return nil, fmt.Errorf("%s: %d args for %d params: %w", target.Name, len(args), len(target.Params), symerrors.ErrBadSignature)
	}
	entry, ok := s.m.loader.Symbol(target.Symbol)
	if !ok {
		return nil, fmt.Errorf("%s: symbol %s: %w", target.Name, target.Symbol, symerrors.ErrAddressResolution)
	}
	native := make([]*bv.Expr, len(args))
	for i, a := range args {
		v, err := MarshalArg(target.Params[i].Type, a)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", target.Name, i, err)
		}
		native[i] = v
	}
	cfg := s.m.cfg.Native
	regs := append([]*bv.Expr{bv.Const(s.m.jni.env, 64), bv.Const(0, 64)}, native...)
	sp := cfg.StackBase
	if len(s.calls) > 0 {
		rsp, err := s.concrete(s.regs.LoadOffset(rspSlot.Offset, 8))
		if err != nil {
			return nil, err
		}
		sp = rsp &^ 0xf
	}
	if extra := len(regs) - len(argRegs); extra > 0 {
		sp -= uint64(extra) * 8
	}
	if err := s.checkStack(bv.Const(sp-8, 64)); err != nil {
		return nil, fmt.Errorf("%s: %w", target.Name, err)
	}
	for i := len(argRegs); i < len(regs); i++ {
		s.flat.Store(sp+uint64(i-len(argRegs))*8, regs[i])
	}
	for i := 0; i < len(regs) && i < len(argRegs); i++ {
		if err := s.regs.Store(argRegs[i], regs[i]); err != nil {
			return nil, err
		}
	}
	sp -= 8
	s.flat.Store(sp, bv.Const(s.m.jni.retHook, 64))
	if err := s.regs.Store("rsp", bv.Const(sp, 64)); err != nil {
		return nil, err
	}
	cf := &CallFrame{Method: target, Args: native, Resume: resume, Dst: dst, site: s.addr}
	if err := s.SetIP(NativeAddr(entry)); err != nil {
		return nil, err
	}
	s.calls = append(s.calls, cf)
	log.Debug(log.BridgeMonitoring, "enter", "state", s.id, "method", target.Name, "entry", NativeAddr(entry))
	return cf, nil
}

// LeaveForeignCall converts rax to the declared return type, reports
// borrows never released, and resumes the caller.
func (s *State) LeaveForeignCall() (*CallFrame, error) {
	n := len(s.calls)
	if n == 0 {
		return nil, symerrors.ErrNoCallFrame
	}
	cf := s.calls[n-1]
	for _, h := range cf.Pending() {
		s.warn(symerrors.ErrBorrowLeak, fmt.Sprintf("%s returned holding array %d", cf.Method.Name, h), "handle", h)
		log.Warn(log.BridgeMonitoring, "borrow leak", "state", s.id, "method", cf.Method.Name, "handle", h)
	}
	rax, err := s.regs.Load("rax")
	if err != nil {
		return nil, err
	}
	s.calls = s.calls[:n-1 : n-1]
	ret := UnmarshalReturn(cf.Method.Return, rax)
	log.Debug(log.BridgeMonitoring, "leave", "state", s.id, "method", cf.Method.Name, "ret", ret)
	if cf.Resume == nil {
		if err := s.returnFrom(ret); err != nil {
			return nil, err
		}
		if site, ok := cf.site.(BytecodeAddr); ok && s.done {
			// the path ends where the native method was invoked
			if err := s.SetIP(site); err != nil {
				return nil, err
			}
		}
		return cf, nil
	}
	if err := s.SetIP(cf.Resume); err != nil {
		return nil, err
	}
	if ret != nil && cf.Dst != "" {
		if err := s.frame().Locals.Store(cf.Dst, ret); err != nil {
			return nil, err
		}
	}
	return cf, nil
}
