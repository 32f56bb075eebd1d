package memory

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// Slot places a named register inside the register byte array.
type Slot struct {
	Offset uint64
	Size   uint
}

// AMD64 lays out the general purpose, instruction pointer and xmm
// registers at their VEX guest-state offsets.
var AMD64 = func() map[string]Slot {
	m := make(map[string]Slot)
	gp := []struct{ q, d, w, b, h string }{
		{"rax", "eax", "ax", "al", "ah"},
		{"rcx", "ecx", "cx", "cl", "ch"},
		{"rdx", "edx", "dx", "dl", "dh"},
		{"rbx", "ebx", "bx", "bl", "bh"},
		{"rsp", "esp", "sp", "spl", ""},
		{"rbp", "ebp", "bp", "bpl", ""},
		{"rsi", "esi", "si", "sil", ""},
		{"rdi", "edi", "di", "dil", ""},
	}
	for i, r := range gp {
		off := uint64(16 + 8*i)
		m[r.q] = Slot{off, 8}
		m[r.d] = Slot{off, 4}
		m[r.w] = Slot{off, 2}
		m[r.b] = Slot{off, 1}
		if r.h != "" {
			m[r.h] = Slot{off + 1, 1}
		}
	}
	for i := 8; i < 16; i++ {
		off := uint64(16 + 8*i)
		m[fmt.Sprintf("r%d", i)] = Slot{off, 8}
		m[fmt.Sprintf("r%dd", i)] = Slot{off, 4}
		m[fmt.Sprintf("r%dw", i)] = Slot{off, 2}
		m[fmt.Sprintf("r%db", i)] = Slot{off, 1}
	}
	m["rip"] = Slot{184, 8}
	for i := 0; i < 16; i++ {
		m[fmt.Sprintf("xmm%d", i)] = Slot{uint64(224 + 32*i), 16}
	}
	return m
}()

// RegFile is a fixed register layout over a symbolic byte array.
type RegFile struct {
	bytes  byteStore
	layout map[string]Slot
}

func NewRegFile(layout map[string]Slot) RegFile {
	return RegFile{layout: layout}
}

func (r *RegFile) Kind() Kind { return KindRegisterBytes }

func (r *RegFile) Slot(name string) (Slot, error) {
	s, ok := r.layout[name]
	if !ok {
		return Slot{}, fmt.Errorf("register %s: %w", name, symerrors.ErrMemoryAccess)
	}
	return s, nil
}

// Load reads a register; never-written bytes become fresh symbols.
func (r *RegFile) Load(name string) (*bv.Expr, error) {
	s, err := r.Slot(name)
	if err != nil {
		return nil, err
	}
	return r.LoadOffset(s.Offset, s.Size), nil
}

// Store writes v, which must match the register width.
func (r *RegFile) Store(name string, v *bv.Expr) error {
	s, err := r.Slot(name)
	if err != nil {
		return err
	}
	if v.Width() != s.Size*8 {
		return fmt.Errorf("register %s is %d bits, value %d: %w", name, s.Size*8, v.Width(), symerrors.ErrWidthMismatch)
	}
	r.StoreOffset(s.Offset, v)
	return nil
}

func (r *RegFile) LoadOffset(off uint64, size uint) *bv.Expr {
	return r.bytes.load(off, size, "reg")
}

func (r *RegFile) StoreOffset(off uint64, v *bv.Expr) {
	r.bytes.store(off, v)
}

func (r *RegFile) Len() int { return r.bytes.len() }

// Names lists full-width registers with at least one written byte.
func (r *RegFile) Names() []string {
	var out []string
	for name, s := range r.layout {
		if s.Size < 8 {
			continue
		}
		for i := uint64(0); i < uint64(s.Size); i++ {
			if r.bytes.written(s.Offset + i) {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
