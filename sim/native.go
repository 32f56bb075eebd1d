package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/lanes"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/symerrors"
	"golang.org/x/arch/x86/x86asm"
)

var rspSlot = memory.AMD64["rsp"]

// regNames maps decoder registers onto register file names.
var regNames = func() map[x86asm.Reg]string {
	m := map[x86asm.Reg]string{
		x86asm.AH:  "ah",
		x86asm.CH:  "ch",
		x86asm.DH:  "dh",
		x86asm.BH:  "bh",
		x86asm.RIP: "rip",
	}
	base := []string{"a", "c", "d", "b", "sp", "bp", "si", "di"}
	r8 := []x86asm.Reg{x86asm.AL, x86asm.CL, x86asm.DL, x86asm.BL, x86asm.SPB, x86asm.BPB, x86asm.SIB, x86asm.DIB,
		x86asm.R8B, x86asm.R9B, x86asm.R10B, x86asm.R11B, x86asm.R12B, x86asm.R13B, x86asm.R14B, x86asm.R15B}
	r16 := []x86asm.Reg{x86asm.AX, x86asm.CX, x86asm.DX, x86asm.BX, x86asm.SP, x86asm.BP, x86asm.SI, x86asm.DI,
		x86asm.R8W, x86asm.R9W, x86asm.R10W, x86asm.R11W, x86asm.R12W, x86asm.R13W, x86asm.R14W, x86asm.R15W}
	r32 := []x86asm.Reg{x86asm.EAX, x86asm.ECX, x86asm.EDX, x86asm.EBX, x86asm.ESP, x86asm.EBP, x86asm.ESI, x86asm.EDI,
		x86asm.R8L, x86asm.R9L, x86asm.R10L, x86asm.R11L, x86asm.R12L, x86asm.R13L, x86asm.R14L, x86asm.R15L}
	r64 := []x86asm.Reg{x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX, x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
		x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11, x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15}
	for i := 0; i < 16; i++ {
		if i >= 8 {
			m[r8[i]] = fmt.Sprintf("r%db", i)
			m[r16[i]] = fmt.Sprintf("r%dw", i)
			m[r32[i]] = fmt.Sprintf("r%dd", i)
			m[r64[i]] = fmt.Sprintf("r%d", i)
			continue
		}
		b := base[i]
		if len(b) == 1 {
			m[r8[i]] = b + "l"
			m[r16[i]] = b + "x"
			m[r32[i]] = "e" + b + "x"
			m[r64[i]] = "r" + b + "x"
		} else {
			m[r8[i]] = b + "l"
			m[r16[i]] = b
			m[r32[i]] = "e" + b
			m[r64[i]] = "r" + b
		}
	}
	xmm := []x86asm.Reg{x86asm.X0, x86asm.X1, x86asm.X2, x86asm.X3, x86asm.X4, x86asm.X5, x86asm.X6, x86asm.X7,
		x86asm.X8, x86asm.X9, x86asm.X10, x86asm.X11, x86asm.X12, x86asm.X13, x86asm.X14, x86asm.X15}
	for i, r := range xmm {
		m[r] = fmt.Sprintf("xmm%d", i)
	}
	return m
}()

func (s *State) stepNative(pc uint64) ([]*State, error) {
	if s.m.jni.owns(pc) {
		if err := s.runHook(pc); err != nil {
			return nil, err
		}
		return []*State{s}, nil
	}
	region, ok := s.m.loader.Region(pc)
	if !ok {
		return nil, symerrors.ErrAddressResolution
	}
	inst, err := x86asm.Decode(region.Bytes(pc), 64)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, symerrors.ErrDecode)
	}
	next := pc + uint64(inst.Len)
	if err := s.regs.Store("rip", bv.Const(next, 64)); err != nil {
		return nil, err
	}
	log.Trace(log.NativeMonitoring, "inst", "state", s.id, "pc", NativeAddr(pc), "inst", inst)
	return s.exec(inst, next)
}

func operands(inst x86asm.Inst) []x86asm.Arg {
	var out []x86asm.Arg
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		out = append(out, a)
	}
	return out
}

func (s *State) exec(inst x86asm.Inst, next uint64) ([]*State, error) {
	args := operands(inst)
	mnemonic := inst.Op.String()

	if f, ok := lanes.Lookup(mnemonic); ok && len(args) == 2 {
		a, err := s.read(inst, args[0], lanes.VectorBits)
		if err != nil {
			return nil, err
		}
		b, err := s.read(inst, args[1], lanes.VectorBits)
		if err != nil {
			return nil, err
		}
		if a.Width() != lanes.VectorBits || b.Width() != lanes.VectorBits {
			return nil, unsupported(inst)
		}
		log.Trace(log.LaneMonitoring, "lanes", "state", s.id, "op", mnemonic)
		if err := s.write(inst, args[0], f(a, b)); err != nil {
			return nil, err
		}
		return s.advanceTo(next)
	}

	switch inst.Op {
	case x86asm.NOP:
	case x86asm.HLT:
		s.done = true
		return []*State{s}, nil

	case x86asm.MOV, x86asm.MOVDQA, x86asm.MOVDQU, x86asm.MOVAPS, x86asm.MOVUPS:
		v, err := s.read(inst, args[1], s.width(inst, args[0]))
		if err != nil {
			return nil, err
		}
		if err := s.write(inst, args[0], v); err != nil {
			return nil, err
		}

	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		w := s.width(inst, args[0])
		v, err := s.read(inst, args[1], s.width(inst, args[1]))
		if err != nil {
			return nil, err
		}
		if inst.Op == x86asm.MOVZX {
			v = bv.ZeroExt(v, w)
		} else {
			v = bv.SignExt(v, w)
		}
		if err := s.write(inst, args[0], v); err != nil {
			return nil, err
		}

	case x86asm.MOVD, x86asm.MOVQ:
		n := uint(32)
		if inst.Op == x86asm.MOVQ {
			n = 64
		}
		v, err := s.read(inst, args[1], s.width(inst, args[1]))
		if err != nil {
			return nil, err
		}
		v = bv.Resize(v, n)
		if w := s.width(inst, args[0]); w > n {
			v = bv.ZeroExt(v, w)
		}
		if err := s.write(inst, args[0], v); err != nil {
			return nil, err
		}

	case x86asm.LEA:
		m, ok := args[1].(x86asm.Mem)
		if !ok {
			return nil, unsupported(inst)
		}
		addr, err := s.ea(m, next)
		if err != nil {
			return nil, err
		}
		if err := s.write(inst, args[0], bv.Resize(addr, s.width(inst, args[0]))); err != nil {
			return nil, err
		}

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.CMP, x86asm.TEST:
		w := s.width(inst, args[0])
		a, err := s.read(inst, args[0], w)
		if err != nil {
			return nil, err
		}
		b := a
		if args[1] != args[0] {
			if b, err = s.read(inst, args[1], w); err != nil {
				return nil, err
			}
		}
		var res *bv.Expr
		switch inst.Op {
		case x86asm.ADD:
			res = bv.Add(a, b)
			s.flags.add(a, b, res)
		case x86asm.SUB, x86asm.CMP:
			res = bv.Sub(a, b)
			s.flags.sub(a, b, res)
		case x86asm.AND, x86asm.TEST:
			res = bv.And(a, b)
			s.flags.logic(res)
		case x86asm.OR:
			res = bv.Or(a, b)
			s.flags.logic(res)
		case x86asm.XOR:
			res = bv.Xor(a, b)
			s.flags.logic(res)
		}
		if inst.Op != x86asm.CMP && inst.Op != x86asm.TEST {
			if err := s.write(inst, args[0], res); err != nil {
				return nil, err
			}
		}

	case x86asm.NOT, x86asm.NEG, x86asm.INC, x86asm.DEC:
		w := s.width(inst, args[0])
		a, err := s.read(inst, args[0], w)
		if err != nil {
			return nil, err
		}
		var res *bv.Expr
		one := bv.Const(1, w)
		switch inst.Op {
		case x86asm.NOT:
			res = bv.Not(a)
		case x86asm.NEG:
			res = bv.Neg(a)
			s.flags.sub(bv.Const(0, w), a, res)
		case x86asm.INC:
			res = bv.Add(a, one)
			s.flags.incdec(a, one, res, true)
		case x86asm.DEC:
			res = bv.Sub(a, one)
			s.flags.incdec(a, one, res, false)
		}
		if err := s.write(inst, args[0], res); err != nil {
			return nil, err
		}

	case x86asm.IMUL:
		if len(args) < 2 {
			return nil, unsupported(inst)
		}
		w := s.width(inst, args[0])
		src, other := args[0], args[1]
		if len(args) == 3 {
			src, other = args[1], args[2]
		}
		a, err := s.read(inst, src, w)
		if err != nil {
			return nil, err
		}
		b, err := s.read(inst, other, w)
		if err != nil {
			return nil, err
		}
		res := bv.Mul(a, b)
		s.flags.mul(a, b, res)
		if err := s.write(inst, args[0], res); err != nil {
			return nil, err
		}

	case x86asm.SHL, x86asm.SHR, x86asm.SAR:
		w := s.width(inst, args[0])
		a, err := s.read(inst, args[0], w)
		if err != nil {
			return nil, err
		}
		cnt, err := s.read(inst, args[1], 8)
		if err != nil {
			return nil, err
		}
		mask := uint64(0x1f)
		if w == 64 {
			mask = 0x3f
		}
		n := bv.And(bv.Resize(cnt, w), bv.Const(mask, w))
		var res *bv.Expr
		switch inst.Op {
		case x86asm.SHL:
			res = bv.Shl(a, n)
		case x86asm.SHR:
			res = bv.LShr(a, n)
		default:
			res = bv.AShr(a, n)
		}
		if k, ok := n.Uint64(); !ok || k != 0 {
			s.flags.result(res)
			if ok {
				s.flags.cf = shiftedOut(inst.Op, a, uint(k))
			}
		}
		if err := s.write(inst, args[0], res); err != nil {
			return nil, err
		}

	case x86asm.PUSH:
		v, err := s.read(inst, args[0], 64)
		if err != nil {
			return nil, err
		}
		if err := s.push(bv.SignExt(v, 64)); err != nil {
			return nil, err
		}

	case x86asm.POP:
		v, err := s.pop()
		if err != nil {
			return nil, err
		}
		if err := s.write(inst, args[0], v); err != nil {
			return nil, err
		}

	case x86asm.CALL:
		target, err := s.target(inst, args[0], next)
		if err != nil {
			return nil, err
		}
		if err := s.push(bv.Const(next, 64)); err != nil {
			return nil, err
		}
		return s.jumpTo(target)

	case x86asm.RET:
		target, err := s.pop()
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			imm, _ := args[0].(x86asm.Imm)
			s.adjustSP(uint64(imm))
		}
		return s.jumpTo(target)

	case x86asm.JMP:
		target, err := s.target(inst, args[0], next)
		if err != nil {
			return nil, err
		}
		return s.jumpTo(target)

	default:
		prefix, cc := condSuffix(mnemonic)
		cond, ok := s.flags.cond(cc)
		if !ok {
			return nil, unsupported(inst)
		}
		switch prefix {
		case "J":
			target, err := s.target(inst, args[0], next)
			if err != nil {
				return nil, err
			}
			taken, other, err := s.fork(cond)
			if err != nil {
				return nil, err
			}
			var out []*State
			if taken != nil {
				succ, err := taken.jumpTo(target)
				if err != nil {
					return nil, err
				}
				out = append(out, succ...)
			}
			if other != nil {
				if err := other.SetIP(NativeAddr(next)); err != nil {
					return nil, err
				}
				out = append(out, other)
			}
			return out, nil
		case "SET":
			if err := s.write(inst, args[0], bv.Ite(cond, bv.Const(1, 8), bv.Const(0, 8))); err != nil {
				return nil, err
			}
		case "CMOV":
			w := s.width(inst, args[0])
			a, err := s.read(inst, args[0], w)
			if err != nil {
				return nil, err
			}
			b, err := s.read(inst, args[1], w)
			if err != nil {
				return nil, err
			}
			if err := s.write(inst, args[0], bv.Ite(cond, b, a)); err != nil {
				return nil, err
			}
		default:
			return nil, unsupported(inst)
		}
	}
	return s.advanceTo(next)
}

func unsupported(inst x86asm.Inst) error {
	return fmt.Errorf("%s: %w", inst, symerrors.ErrUnsupportedInstruction)
}

func (s *State) advanceTo(next uint64) ([]*State, error) {
	if err := s.SetIP(NativeAddr(next)); err != nil {
		return nil, err
	}
	return []*State{s}, nil
}

// shiftedOut is the last bit shifted out by a shift of k > 0.
func shiftedOut(op x86asm.Op, a *bv.Expr, k uint) *bv.Expr {
	w := a.Width()
	if k > w {
		return bv.False()
	}
	if op == x86asm.SHL {
		return bv.Extract(w-k, w-k, a)
	}
	return bv.Extract(k-1, k-1, a)
}

// width is the operand size in bits; immediates take the size of the
// other operand and report zero.
func (s *State) width(inst x86asm.Inst, arg x86asm.Arg) uint {
	switch a := arg.(type) {
	case x86asm.Reg:
		if slot, err := s.regs.Slot(regNames[a]); err == nil {
			return slot.Size * 8
		}
	case x86asm.Mem:
		return uint(inst.MemBytes) * 8
	}
	return 0
}

func (s *State) read(inst x86asm.Inst, arg x86asm.Arg, w uint) (*bv.Expr, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		name, ok := regNames[a]
		if !ok {
			return nil, fmt.Errorf("register %s: %w", a, symerrors.ErrUnsupportedInstruction)
		}
		return s.regs.Load(name)
	case x86asm.Mem:
		addr, err := s.ea(a, s.rip())
		if err != nil {
			return nil, err
		}
		return s.loadMem(addr, uint(inst.MemBytes))
	case x86asm.Imm:
		return bv.Const(uint64(int64(a)), w), nil
	}
	return nil, fmt.Errorf("operand %v: %w", arg, symerrors.ErrUnsupportedInstruction)
}

func (s *State) write(inst x86asm.Inst, arg x86asm.Arg, v *bv.Expr) error {
	switch a := arg.(type) {
	case x86asm.Reg:
		name, ok := regNames[a]
		if !ok {
			return fmt.Errorf("register %s: %w", a, symerrors.ErrUnsupportedInstruction)
		}
		slot, err := s.regs.Slot(name)
		if err != nil {
			return err
		}
		if slot.Size == 4 {
			// 32-bit writes clear the upper half
			s.regs.StoreOffset(slot.Offset, bv.ZeroExt(bv.Resize(v, 32), 64))
			return nil
		}
		return s.regs.Store(name, bv.Resize(v, slot.Size*8))
	case x86asm.Mem:
		addr, err := s.ea(a, s.rip())
		if err != nil {
			return err
		}
		return s.storeMem(addr, bv.Resize(v, uint(inst.MemBytes)*8))
	}
	return fmt.Errorf("destination %v: %w", arg, symerrors.ErrUnsupportedInstruction)
}

// rip is the address of the next instruction, set before execution.
func (s *State) rip() uint64 {
	v, _ := s.regs.LoadOffset(memory.AMD64["rip"].Offset, 8).Uint64()
	return v
}

// ea computes a 64-bit effective address; next is used for rip-relative
// operands.
func (s *State) ea(m x86asm.Mem, next uint64) (*bv.Expr, error) {
	if m.Segment == x86asm.FS || m.Segment == x86asm.GS {
		return nil, fmt.Errorf("segment %s: %w", m.Segment, symerrors.ErrUnsupportedInstruction)
	}
	addr := bv.Const(uint64(m.Disp), 64)
	reg := func(r x86asm.Reg) (*bv.Expr, error) {
		name, ok := regNames[r]
		if !ok {
			return nil, fmt.Errorf("register %s: %w", r, symerrors.ErrUnsupportedInstruction)
		}
		v, err := s.regs.Load(name)
		if err != nil {
			return nil, err
		}
		return bv.ZeroExt(v, 64), nil
	}
	switch m.Base {
	case 0:
	case x86asm.RIP:
		addr = bv.Add(addr, bv.Const(next, 64))
	default:
		b, err := reg(m.Base)
		if err != nil {
			return nil, err
		}
		addr = bv.Add(addr, b)
	}
	if m.Index != 0 {
		i, err := reg(m.Index)
		if err != nil {
			return nil, err
		}
		addr = bv.Add(addr, bv.Mul(i, bv.Const(uint64(m.Scale), 64)))
	}
	return addr, nil
}

// addrCandidates lists the feasible values of a symbolic address.
func (s *State) addrCandidates(addr *bv.Expr) ([]uint64, error) {
	limit := s.m.candidateLimit()
	vals, err := s.solver.EvalUpto(addr, limit+1)
	if err != nil {
		return nil, err
	}
	if len(vals) > limit {
		return nil, fmt.Errorf("address %s: %w", addr, symerrors.ErrSymbolicIndexWidth)
	}
	out := make([]uint64, len(vals))
	for i, v := range vals {
		out[i] = v.Uint64()
	}
	return out, nil
}

// loadMem reads size bytes. A symbolic address reads every candidate and
// selects among them.
func (s *State) loadMem(addr *bv.Expr, size uint) (*bv.Expr, error) {
	if a, ok := addr.Uint64(); ok {
		return s.flat.Load(a, size), nil
	}
	cands, err := s.addrCandidates(addr)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, symerrors.ErrUnsatisfiable
	}
	last := len(cands) - 1
	v := s.flat.Load(cands[last], size)
	for i := last - 1; i >= 0; i-- {
		v = bv.Ite(bv.Eq(addr, bv.Const(cands[i], 64)), s.flat.Load(cands[i], size), v)
	}
	return v, nil
}

// storeMem writes v. A symbolic address rewrites every candidate so only
// the chosen one changes.
func (s *State) storeMem(addr *bv.Expr, v *bv.Expr) error {
	if a, ok := addr.Uint64(); ok {
		s.flat.Store(a, v)
		return nil
	}
	cands, err := s.addrCandidates(addr)
	if err != nil {
		return err
	}
	size := v.Width() / 8
	for _, c := range cands {
		old := s.flat.Load(c, size)
		s.flat.Store(c, bv.Ite(bv.Eq(addr, bv.Const(c, 64)), v, old))
	}
	return nil
}

func (s *State) target(inst x86asm.Inst, arg x86asm.Arg, next uint64) (*bv.Expr, error) {
	if rel, ok := arg.(x86asm.Rel); ok {
		return bv.Const(next+uint64(int64(rel)), 64), nil
	}
	v, err := s.read(inst, arg, 64)
	if err != nil {
		return nil, err
	}
	return bv.Resize(v, 64), nil
}

func (s *State) push(v *bv.Expr) error {
	sp := bv.Sub(s.regs.LoadOffset(rspSlot.Offset, 8), bv.Const(8, 64))
	if err := s.checkStack(sp); err != nil {
		return err
	}
	if err := s.storeMem(sp, v); err != nil {
		return err
	}
	s.regs.StoreOffset(rspSlot.Offset, sp)
	return nil
}

// checkStack fails when a concrete stack pointer has left the stack.
func (s *State) checkStack(sp *bv.Expr) error {
	v, ok := sp.Uint64()
	if !ok || v >= s.m.stackLimit() {
		return nil
	}
	return fmt.Errorf("rsp %#x below %#x: %w", v, s.m.stackLimit(), symerrors.ErrStackOverflow)
}

func (s *State) pop() (*bv.Expr, error) {
	sp := s.regs.LoadOffset(rspSlot.Offset, 8)
	v, err := s.loadMem(sp, 8)
	if err != nil {
		return nil, err
	}
	s.regs.StoreOffset(rspSlot.Offset, bv.Add(sp, bv.Const(8, 64)))
	return v, nil
}

func (s *State) adjustSP(n uint64) {
	sp := s.regs.LoadOffset(rspSlot.Offset, 8)
	s.regs.StoreOffset(rspSlot.Offset, bv.Add(sp, bv.Const(n, 64)))
}
