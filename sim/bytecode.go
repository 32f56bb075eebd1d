package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// nextAddr is the statement after a, falling into the next block. It is nil
// past the end of the method.
func nextAddr(meth *program.Method, a BytecodeAddr) Address {
	if meth.Stmt(a.Block, a.Stmt+1) != nil {
		return BytecodeAddr{Method: a.Method, Block: a.Block, Stmt: a.Stmt + 1}
	}
	for b := a.Block + 1; b < len(meth.Blocks); b++ {
		if len(meth.Blocks[b].Stmts) > 0 {
			return BytecodeAddr{Method: a.Method, Block: b}
		}
	}
	return nil
}

func (s *State) stepBytecode(a BytecodeAddr) ([]*State, error) {
	meth, ok := s.m.loader.Method(a.Method)
	if !ok {
		return nil, symerrors.ErrAddressResolution
	}
	st := meth.Stmt(a.Block, a.Stmt)
	if st == nil {
		return nil, symerrors.ErrAddressResolution
	}
	log.Trace(log.BytecodeMonitoring, "stmt", "state", s.id, "addr", a, "stmt", fmt.Sprintf("%T", st))

	switch st := st.(type) {
	case program.Nop:
	case program.Assign:
		v, ok, err := s.eval(st.Src)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := s.frame().Locals.Store(st.Dst, v); err != nil {
				return nil, err
			}
		}
	case program.ArrayStore:
		h, err := s.evalHandle(st.Array)
		if err != nil {
			return nil, err
		}
		idx, ok, err := s.eval(st.Index)
		if err != nil || !ok {
			return s.advance(meth, a, err)
		}
		v, ok, err := s.eval(st.Src)
		if err != nil || !ok {
			return s.advance(meth, a, err)
		}
		if _, err := s.ArrayStore(h, idx, v); err != nil {
			return nil, err
		}
	case program.FieldStore:
		h, err := s.evalHandle(st.Object)
		if err != nil {
			return nil, err
		}
		v, ok, err := s.eval(st.Src)
		if err != nil || !ok {
			return s.advance(meth, a, err)
		}
		obj, err := s.heap.Instance(h)
		if err != nil {
			return nil, err
		}
		if err := s.heap.Put(h, obj.WithField(st.Field, v)); err != nil {
			return nil, err
		}
	case program.If:
		cond, err := s.condition(st.Cond)
		if err != nil {
			return nil, err
		}
		taken, other, err := s.fork(cond)
		if err != nil {
			return nil, err
		}
		var out []*State
		if taken != nil {
			if err := taken.SetIP(BytecodeAddr{Method: a.Method, Block: st.Target}); err != nil {
				return nil, err
			}
			out = append(out, taken)
		}
		if other != nil {
			next, err := other.advance(meth, a, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, next...)
		}
		return out, nil
	case program.Goto:
		if err := s.SetIP(BytecodeAddr{Method: a.Method, Block: st.Target}); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	case program.Invoke:
		return s.invoke(meth, a, st)
	case program.Return:
		var ret *bv.Expr
		if st.Value != nil {
			v, ok, err := s.eval(st.Value)
			if err != nil {
				return nil, err
			}
			if ok {
				ret = v
			}
		}
		if err := s.returnFrom(ret); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	case program.Print:
		v, ok, err := s.eval(st.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			s.stdout.Write(bv.Extract(7, 0, v))
		}
	default:
		return nil, fmt.Errorf("%T: %w", st, symerrors.ErrUnsupportedStatement)
	}
	return s.advance(meth, a, nil)
}

// advance moves to the next statement, or returns from the method when
// there is none.
func (s *State) advance(meth *program.Method, a BytecodeAddr, err error) ([]*State, error) {
	if err != nil {
		return nil, err
	}
	next := nextAddr(meth, a)
	if next == nil {
		if err := s.returnFrom(nil); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	}
	s.addr = next
	return []*State{s}, nil
}

func (s *State) invoke(meth *program.Method, a BytecodeAddr, st program.Invoke) ([]*State, error) {
	callee, ok := s.m.loader.Method(st.Method)
	if !ok {
		return nil, fmt.Errorf("invoke %s: %w", st.Method, symerrors.ErrAddressResolution)
	}
	args := make([]*bv.Expr, len(st.Args))
	for i, v := range st.Args {
		x, ok, err := s.eval(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.advance(meth, a, nil)
		}
		args[i] = x
	}
	resume := nextAddr(meth, a)
	if callee.Native {
		if _, err := s.EnterForeignCall(callee, args, resume, st.Dst); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	}
	if len(args) != len(callee.Params) {
		return nil, fmt.Errorf("invoke %s: %d args for %d params: %w", callee.Name, len(args), len(callee.Params), symerrors.ErrBadSignature)
	}
	fr := Frame{Method: callee, Locals: memory.NewKV(), ret: resume, dst: st.Dst}
	for i, p := range callee.Params {
		if err := fr.Locals.Store(p.Name, args[i]); err != nil {
			return nil, err
		}
	}
	if resume == nil {
		// tail position: the callee returns straight to our caller
		caller := s.frames[len(s.frames)-1]
		fr.ret, fr.dst = caller.ret, caller.dst
		s.frames = s.frames[:len(s.frames)-1]
	}
	s.frames = append(s.frames, fr)
	s.addr = MethodEntry(callee.Name)
	return []*State{s}, nil
}

// returnFrom pops the innermost frame and continues in the caller. The
// path is done when the outermost frame returns; that frame stays so its
// locals remain readable.
func (s *State) returnFrom(ret *bv.Expr) error {
	n := len(s.frames)
	if n == 0 {
		s.done = true
		return nil
	}
	fr := s.frames[n-1]
	if fr.ret == nil {
		log.Trace(log.BytecodeMonitoring, "done", "state", s.id, "method", fr.Method.Name, "ret", ret)
		s.done = true
		return nil
	}
	s.frames = s.frames[:n-1]
	if err := s.SetIP(fr.ret); err != nil {
		return err
	}
	if ret != nil && fr.dst != "" {
		return s.frame().Locals.Store(fr.dst, ret)
	}
	return nil
}

func (s *State) evalHandle(v program.Value) (memory.Handle, error) {
	x, ok, err := s.eval(v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("reference has no value: %w", symerrors.ErrMemoryAccess)
	}
	return s.handleOf(x)
}

// eval computes a value. ok is false when the value is absent, which
// happens for array reads that cannot be in bounds.
func (s *State) eval(v program.Value) (*bv.Expr, bool, error) {
	switch v := v.(type) {
	case program.Const:
		return Slot(v.Type, v.V), true, nil
	case program.Local:
		x, err := s.frame().Locals.Load(v.Name)
		return x, err == nil, err
	case program.BinOp:
		a, ok, err := s.eval(v.A)
		if err != nil || !ok {
			return nil, ok, err
		}
		b, ok, err := s.eval(v.B)
		if err != nil || !ok {
			return nil, ok, err
		}
		x, err := binop(v.Op, a, b)
		return x, err == nil, err
	case program.Cmp:
		c, ok, err := s.compare(v)
		if err != nil || !ok {
			return nil, ok, err
		}
		return bv.ZeroExt(c, 32), true, nil
	case program.Cast:
		x, ok, err := s.eval(v.V)
		if err != nil || !ok {
			return nil, ok, err
		}
		return cast(v.To, x), true, nil
	case program.NewArray:
		n, ok, err := s.eval(v.Length)
		if err != nil || !ok {
			return nil, ok, err
		}
		h, err := s.NewArray(v.Elem, n)
		if err != nil {
			return nil, false, err
		}
		return bv.Const(uint64(h), 32), true, nil
	case program.ArrayRef:
		h, err := s.evalHandle(v.Array)
		if err != nil {
			return nil, false, err
		}
		idx, ok, err := s.eval(v.Index)
		if err != nil || !ok {
			return nil, ok, err
		}
		x, ok, err := s.ArrayLoad(h, idx)
		if err != nil || !ok {
			return nil, ok, err
		}
		arr, err := s.heap.Array(h)
		if err != nil {
			return nil, false, err
		}
		return widen(arr.Elem, x), true, nil
	case program.ArrayLength:
		h, err := s.evalHandle(v.Array)
		if err != nil {
			return nil, false, err
		}
		n, err := s.ArrayLength(h)
		return n, err == nil, err
	case program.NewInstance:
		return bv.Const(uint64(s.heap.NewInstance(v.Class)), 32), true, nil
	case program.FieldRef:
		h, err := s.evalHandle(v.Object)
		if err != nil {
			return nil, false, err
		}
		obj, err := s.heap.Instance(h)
		if err != nil {
			return nil, false, err
		}
		return obj.Field(v.Field), true, nil
	case program.ReadStdin:
		return bv.ZeroExt(s.stdin.Read(1), 32), true, nil
	}
	return nil, false, fmt.Errorf("%T: %w", v, symerrors.ErrUnsupportedStatement)
}

// condition evaluates a branch condition to one bit. Comparisons are used
// directly; any other value is true when non-zero.
func (s *State) condition(v program.Value) (*bv.Expr, error) {
	if c, ok := v.(program.Cmp); ok {
		x, present, err := s.compare(c)
		if err != nil {
			return nil, err
		}
		if !present {
			return bv.False(), nil
		}
		return x, nil
	}
	x, ok, err := s.eval(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return bv.False(), nil
	}
	return bv.NonZero(x), nil
}

func (s *State) compare(c program.Cmp) (*bv.Expr, bool, error) {
	a, ok, err := s.eval(c.A)
	if err != nil || !ok {
		return nil, ok, err
	}
	b, ok, err := s.eval(c.B)
	if err != nil || !ok {
		return nil, ok, err
	}
	if a.Width() != b.Width() {
		return nil, false, fmt.Errorf("compare %d and %d bits: %w", a.Width(), b.Width(), symerrors.ErrTypeMismatch)
	}
	switch c.Op {
	case program.CmpEq:
		return bv.Eq(a, b), true, nil
	case program.CmpNe:
		return bv.Ne(a, b), true, nil
	case program.CmpLt:
		return bv.Slt(a, b), true, nil
	case program.CmpLe:
		return bv.Sle(a, b), true, nil
	case program.CmpGt:
		return bv.Sgt(a, b), true, nil
	case program.CmpGe:
		return bv.Sge(a, b), true, nil
	}
	return nil, false, fmt.Errorf("compare %s: %w", c.Op, symerrors.ErrUnsupportedStatement)
}

func binop(op program.BinKind, a, b *bv.Expr) (*bv.Expr, error) {
	switch op {
	case program.OpShl, program.OpShr, program.OpUshr:
		w := a.Width()
		n := bv.And(bv.Resize(b, w), bv.Const(uint64(w-1), w))
		switch op {
		case program.OpShl:
			return bv.Shl(a, n), nil
		case program.OpShr:
			return bv.AShr(a, n), nil
		}
		return bv.LShr(a, n), nil
	}
	if a.Width() != b.Width() {
		return nil, fmt.Errorf("%s on %d and %d bits: %w", op, a.Width(), b.Width(), symerrors.ErrTypeMismatch)
	}
	switch op {
	case program.OpAdd:
		return bv.Add(a, b), nil
	case program.OpSub:
		return bv.Sub(a, b), nil
	case program.OpMul:
		return bv.Mul(a, b), nil
	case program.OpDiv:
		return bv.SDiv(a, b), nil
	case program.OpRem:
		return bv.SRem(a, b), nil
	case program.OpAnd:
		return bv.And(a, b), nil
	case program.OpOr:
		return bv.Or(a, b), nil
	case program.OpXor:
		return bv.Xor(a, b), nil
	}
	return nil, fmt.Errorf("%s: %w", op, symerrors.ErrUnsupportedStatement)
}

// cast converts a slot value between primitive types.
func cast(to program.Type, v *bv.Expr) *bv.Expr {
	switch to {
	case program.Boolean:
		return bv.Ite(bv.NonZero(v), bv.Const(1, 32), bv.Const(0, 32))
	case program.Byte:
		return bv.SignExt(bv.Extract(7, 0, v), 32)
	case program.Char:
		return bv.ZeroExt(bv.Extract(15, 0, v), 32)
	case program.Short:
		return bv.SignExt(bv.Extract(15, 0, v), 32)
	case program.Int:
		return bv.Resize(v, 32)
	case program.Long:
		if v.Width() < 64 {
			return bv.SignExt(v, 64)
		}
		return v
	}
	return v
}
