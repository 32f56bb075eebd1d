package memory

import "github.com/colorfulnotion/jnisym/bv"

// Flat is the byte-addressable native address space.
type Flat struct {
	bytes byteStore
}

func NewFlat() Flat { return Flat{} }

func (f *Flat) Kind() Kind { return KindFlatBytes }

func (f *Flat) Len() int { return f.bytes.len() }

// Load reads size little-endian bytes at a concrete address.
func (f *Flat) Load(addr uint64, size uint) *bv.Expr {
	return f.bytes.load(addr, size, "mem")
}

// Store writes v little-endian at a concrete address.
func (f *Flat) Store(addr uint64, v *bv.Expr) {
	f.bytes.store(addr, v)
}

// StoreBytes writes concrete bytes.
func (f *Flat) StoreBytes(addr uint64, data []byte) {
	for i, b := range data {
		f.bytes.set(addr+uint64(i), bv.Const(uint64(b), 8))
	}
}

// Written reports whether the byte at addr holds a stored value.
func (f *Flat) Written(addr uint64) bool {
	return f.bytes.written(addr)
}
