package sim

import (
	"fmt"

	"github.com/colorfulnotion/jnisym/bv"
)

// Packet is one read or write on a stream.
type Packet struct {
	Data *bv.Expr
	Size int
}

// Stream is a symbolic posix byte stream. Reads mint fresh symbols named
// <stream>_<packet>; writes record the written formulas.
type Stream struct {
	Name    string
	packets []Packet
}

func (st *Stream) clone() Stream {
	n := len(st.packets)
	return Stream{Name: st.Name, packets: st.packets[:n:n]}
}

// Read returns size fresh symbolic bytes, first byte in the low bits.
func (st *Stream) Read(size int) *bv.Expr {
	parts := make([]*bv.Expr, size)
	for i := 0; i < size; i++ {
		parts[size-1-i] = bv.Sym(fmt.Sprintf("%s_%d", st.Name, st.byteCount()+i), 8)
	}
	data := bv.Concat(parts...)
	st.packets = append(st.packets, Packet{Data: data, Size: size})
	return data
}

// Write appends data, whose width must be a whole number of bytes.
func (st *Stream) Write(data *bv.Expr) {
	st.packets = append(st.packets, Packet{Data: data, Size: int(data.Width() / 8)})
}

func (st *Stream) Packets() []Packet {
	return append([]Packet(nil), st.packets...)
}

func (st *Stream) byteCount() int {
	n := 0
	for _, p := range st.packets {
		n += p.Size
	}
	return n
}

// Bytes flattens the stream into 8-bit formulas in stream order.
func (st *Stream) Bytes() []*bv.Expr {
	var out []*bv.Expr
	for _, p := range st.packets {
		for i := 0; i < p.Size; i++ {
			out = append(out, bv.Extract(uint(i*8+7), uint(i*8), p.Data))
		}
	}
	return out
}

// Byte returns the i-th byte of the stream.
func (st *Stream) Byte(i int) (*bv.Expr, bool) {
	b := st.Bytes()
	if i < 0 || i >= len(b) {
		return nil, false
	}
	return b[i], true
}

// Len is the number of bytes read or written.
func (st *Stream) Len() int { return st.byteCount() }
