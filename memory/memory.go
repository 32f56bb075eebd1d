// Package memory holds the register and memory backends of an execution
// state. Every backend is a small value wrapping persistent maps, so
// copying the value forks it and later writes on either copy stay private.
package memory

import (
	"fmt"

	"github.com/benbjohnson/immutable"
	"github.com/colorfulnotion/jnisym/bv"
)

type Kind uint8

const (
	KindKeyValue Kind = iota
	KindRegisterBytes
	KindObjectHeap
	KindFlatBytes
)

var kindNames = [...]string{"key-value", "register-bytes", "object-heap", "flat-bytes"}

func (k Kind) String() string { return kindNames[k] }

// Registers is the register file of the active representation: bytecode
// locals by name, or native registers by architectural name.
type Registers interface {
	Kind() Kind
	Load(name string) (*bv.Expr, error)
	Store(name string, v *bv.Expr) error
	Len() int
}

// Memory is the memory space of the active representation.
type Memory interface {
	Kind() Kind
	Len() int
}

var (
	_ Registers = (*KV)(nil)
	_ Registers = (*RegFile)(nil)
	_ Memory    = (*Heap)(nil)
	_ Memory    = (*Flat)(nil)
)

// byteStore maps byte offsets to 8-bit formulas. Multi-byte values are
// little-endian.
type byteStore struct {
	m *immutable.Map[uint64, *bv.Expr]
}

func (s *byteStore) get(off uint64) (*bv.Expr, bool) {
	if s.m == nil {
		return nil, false
	}
	return s.m.Get(off)
}

func (s *byteStore) set(off uint64, b *bv.Expr) {
	if s.m == nil {
		s.m = immutable.NewMap[uint64, *bv.Expr](nil)
	}
	s.m = s.m.Set(off, b)
}

func (s *byteStore) len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// load reads size bytes; bytes never written are bound to fresh symbols
// named prefix_<offset> and remembered.
func (s *byteStore) load(off uint64, size uint, prefix string) *bv.Expr {
	parts := make([]*bv.Expr, size)
	for i := uint(0); i < size; i++ {
		a := off + uint64(i)
		b, ok := s.get(a)
		if !ok {
			b = bv.Sym(fmt.Sprintf("%s_%x", prefix, a), 8)
			s.set(a, b)
		}
		parts[size-1-i] = b
	}
	return bv.Concat(parts...)
}

func (s *byteStore) store(off uint64, v *bv.Expr) {
	if v.Width()%8 != 0 {
		v = bv.ZeroExt(v, (v.Width()+7)/8*8)
	}
	for i := uint(0); i < v.Width()/8; i++ {
		s.set(off+uint64(i), bv.Extract(i*8+7, i*8, v))
	}
}

func (s *byteStore) written(off uint64) bool {
	_, ok := s.get(off)
	return ok
}
