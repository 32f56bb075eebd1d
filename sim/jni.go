package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/config"
	"github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/memory"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// JNI function table slots. Each typed family is laid out in the order
// Boolean, Byte, Char, Short, Int, Long, Float, Double.
const (
	SlotGetVersion           = 4
	SlotGetArrayLength       = 171
	SlotNewArray             = 175
	SlotGetArrayElements     = 183
	SlotReleaseArrayElements = 191
	SlotGetArrayRegion       = 199
	SlotSetArrayRegion       = 207
	jniTableSlots            = 229
)

const jniVersion = 0x10008

// familyTypes are the element types bound in each typed family; float and
// double follow and stay unbound.
var familyTypes = []program.Type{program.Boolean, program.Byte, program.Char, program.Short, program.Int, program.Long}

type hookFunc func(s *State, args [6]*bv.Expr) (*bv.Expr, error)

type hook struct {
	name string
	fn   hookFunc
}

// jniEnv places a JNIEnv in flat memory. Every table entry points at a
// distinct hook address; reaching a hook runs the Go handler for that slot.
type jniEnv struct {
	env     uint64
	table   uint64
	hooks   uint64
	retHook uint64
	funcs   map[int]hook
}

func newJNIEnv(cfg config.Native) *jniEnv {
	j := &jniEnv{
		env:     cfg.JNIEnv,
		table:   cfg.JNIEnv + 0x10,
		hooks:   cfg.JNIHooks,
		retHook: cfg.JNIHooks + jniTableSlots,
		funcs:   make(map[int]hook),
	}
	j.funcs[SlotGetVersion] = hook{"GetVersion", jniGetVersion}
	j.funcs[SlotGetArrayLength] = hook{"GetArrayLength", jniGetArrayLength}
	for i, t := range familyTypes {
		name := typeFamilyName(t)
		j.funcs[SlotNewArray+i] = hook{"New" + name + "Array", jniNewArray(t)}
		j.funcs[SlotGetArrayElements+i] = hook{"Get" + name + "ArrayElements", jniGetArrayElements(t)}
		j.funcs[SlotReleaseArrayElements+i] = hook{"Release" + name + "ArrayElements", jniReleaseArrayElements(t)}
		j.funcs[SlotGetArrayRegion+i] = hook{"Get" + name + "ArrayRegion", jniGetArrayRegion(t)}
		j.funcs[SlotSetArrayRegion+i] = hook{"Set" + name + "ArrayRegion", jniSetArrayRegion(t)}
	}
	return j
}

func typeFamilyName(t program.Type) string {
	n := t.String()
	return string(n[0]-'a'+'A') + n[1:]
}

// owns reports whether addr is a hook, including the return hook.
func (j *jniEnv) owns(addr uint64) bool {
	return addr >= j.hooks && addr <= j.retHook
}

// install writes the env pointer and the function table.
func (j *jniEnv) install(flat *memory.Flat) {
	flat.Store(j.env, bv.Const(j.table, 64))
	for i := 0; i < jniTableSlots; i++ {
		flat.Store(j.table+uint64(i)*8, bv.Const(j.hooks+uint64(i), 64))
	}
}

// HookName names the JNI function behind a hook address.
func (m *Machine) HookName(addr uint64) (string, bool) {
	if addr == m.jni.retHook {
		return "<return>", true
	}
	if !m.jni.owns(addr) {
		return "", false
	}
	h, ok := m.jni.funcs[int(addr-m.jni.hooks)]
	return h.name, ok
}

var argRegs = [6]string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

// runHook executes the JNI function at addr as if it had been called:
// the result lands in rax and the return address is popped.
func (s *State) runHook(addr uint64) error {
	j := s.m.jni
	if addr == j.retHook {
		_, err := s.LeaveForeignCall()
		return err
	}
	slot := int(addr - j.hooks)
	h, ok := j.funcs[slot]
	if !ok {
		return fmt.Errorf("slot %d: %w", slot, symerrors.ErrUnknownJNISlot)
	}
	var args [6]*bv.Expr
	for i, r := range argRegs {
		v, err := s.regs.Load(r)
		if err != nil {
			return err
		}
		args[i] = v
	}
	log.Trace(log.BridgeMonitoring, "jni", "state", s.id, "fn", h.name)
	ret, err := h.fn(s, args)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	if ret != nil {
		if err := s.regs.Store("rax", bv.Resize(ret, 64)); err != nil {
			return err
		}
	}
	return s.popReturn()
}

// popReturn performs a ret: pop the return address and jump to it.
func (s *State) popReturn() error {
	rsp, err := s.concrete(s.regs.LoadOffset(rspSlot.Offset, 8))
	if err != nil {
		return err
	}
	target, err := s.concrete(s.flat.Load(rsp, 8))
	if err != nil {
		return err
	}
	s.regs.StoreOffset(rspSlot.Offset, bv.Const(rsp+8, 64))
	return s.SetIP(NativeAddr(target))
}

// allocBuffer reserves native memory for borrowed elements.
func (s *State) allocBuffer(size uint64) uint64 {
	addr := s.bufNext
	s.bufNext += (size + 15) &^ 15
	if size == 0 {
		s.bufNext += 16
	}
	return addr
}

func low32(v *bv.Expr) *bv.Expr { return bv.Extract(31, 0, v) }

func (s *State) arrayArg(v *bv.Expr, want program.Type) (memory.Handle, error) {
	h, err := s.handleOf(low32(v))
	if err != nil {
		return 0, err
	}
	arr, err := s.heap.Array(h)
	if err != nil {
		return 0, err
	}
	if want != program.Void && arr.Elem != want {
		return 0, fmt.Errorf("%s array passed as %s: %w", arr.Elem, want, symerrors.ErrTypeMismatch)
	}
	return h, nil
}

func jniGetVersion(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
	return bv.Const(jniVersion, 64), nil
}

func jniGetArrayLength(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
	h, err := s.arrayArg(args[1], program.Void)
	if err != nil {
		return nil, err
	}
	n, err := s.ArrayLength(h)
	if err != nil {
		return nil, err
	}
	return bv.ZeroExt(n, 64), nil
}

func jniNewArray(t program.Type) hookFunc {
	return func(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
		h, err := s.NewArray(t, low32(args[1]))
		if err != nil {
			return nil, err
		}
		return bv.Const(uint64(h), 64), nil
	}
}

func jniGetArrayElements(t program.Type) hookFunc {
	return func(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
		h, err := s.arrayArg(args[1], t)
		if err != nil {
			return nil, err
		}
		b, err := s.GetArrayElements(h)
		if err != nil {
			return nil, err
		}
		size := uint64(t.Bits() / 8)
		b.Buffer = s.allocBuffer(size * uint64(len(b.Elems)))
		for i, v := range b.Elems {
			s.flat.Store(b.Buffer+uint64(i)*size, v)
		}
		if isCopy, ok := args[2].Uint64(); ok && isCopy != 0 {
			s.flat.Store(isCopy, bv.Const(1, 8))
		}
		return bv.Const(b.Buffer, 64), nil
	}
}

func jniReleaseArrayElements(t program.Type) hookFunc {
	return func(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
		h, err := s.arrayArg(args[1], t)
		if err != nil {
			return nil, err
		}
		mode, err := s.concrete(low32(args[3]))
		if err != nil {
			return nil, err
		}
		return nil, s.ReleaseArrayElements(h, ReleaseMode(mode))
	}
}

// regionArgs decodes (array, start, len, buf) with a concrete length.
func (s *State) regionArgs(t program.Type, args [6]*bv.Expr) (memory.Handle, *bv.Expr, uint64, uint64, error) {
	h, err := s.arrayArg(args[1], t)
	if err != nil {
		return 0, nil, 0, 0, err
	}
	n, err := s.concrete(low32(args[3]))
	if err != nil {
		return 0, nil, 0, 0, fmt.Errorf("region length: %w", err)
	}
	if int32(n) < 0 {
		return 0, nil, 0, 0, fmt.Errorf("region length %d: %w", int32(n), symerrors.ErrIndexOutOfRange)
	}
	buf, err := s.concrete(args[4])
	if err != nil {
		return 0, nil, 0, 0, fmt.Errorf("region buffer: %w", err)
	}
	return h, low32(args[2]), n, buf, nil
}

func jniGetArrayRegion(t program.Type) hookFunc {
	return func(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
		h, start, n, buf, err := s.regionArgs(t, args)
		if err != nil {
			return nil, err
		}
		vals, ok, err := s.GetArrayRegion(h, start, n)
		if err != nil || !ok {
			return nil, err
		}
		size := uint64(t.Bits() / 8)
		for i, v := range vals {
			s.flat.Store(buf+uint64(i)*size, v)
		}
		return nil, nil
	}
}

func jniSetArrayRegion(t program.Type) hookFunc {
	return func(s *State, args [6]*bv.Expr) (*bv.Expr, error) {
		h, start, n, buf, err := s.regionArgs(t, args)
		if err != nil {
			return nil, err
		}
		size := uint64(t.Bits() / 8)
		vals := make([]*bv.Expr, n)
		for i := range vals {
			vals[i] = s.flat.Load(buf+uint64(i)*size, t.Bits()/8)
		}
		_, err = s.SetArrayRegion(h, start, vals)
		return nil, err
	}
}
