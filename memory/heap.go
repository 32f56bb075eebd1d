package memory

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// Handle is an opaque reference to a heap object. Zero is null.
type Handle uint32

// Object is an Array or an Instance.
type Object interface{ isObject() }

// Array has a 32-bit length that may be symbolic and sparse elements
// stored at their natural width. Unwritten elements read as zero.
type Array struct {
	Elem   program.Type
	Length *bv.Expr
	elems  *immutable.Map[uint64, *bv.Expr]
}

func (*Array) isObject() {}

// Get returns element i.
func (a *Array) Get(i uint64) *bv.Expr {
	if a.elems != nil {
		if v, ok := a.elems.Get(i); ok {
			return v
		}
	}
	return bv.Const(0, a.Elem.Bits())
}

// With returns a copy of a with element i replaced.
func (a *Array) With(i uint64, v *bv.Expr) *Array {
	if v.Width() != a.Elem.Bits() {
		v = bv.Resize(v, a.Elem.Bits())
	}
	elems := a.elems
	if elems == nil {
		elems = immutable.NewMap[uint64, *bv.Expr](nil)
	}
	return &Array{Elem: a.Elem, Length: a.Length, elems: elems.Set(i, v)}
}

// Written returns the indexes that hold stored values.
func (a *Array) Written() []uint64 {
	var out []uint64
	if a.elems == nil {
		return out
	}
	itr := a.elems.Iterator()
	for !itr.Done() {
		k, _, ok := itr.Next()
		if ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Instance is a class instance with named fields.
type Instance struct {
	Class  string
	fields *immutable.Map[string, *bv.Expr]
}

func (*Instance) isObject() {}

// Field returns a field value; unassigned fields are a 32-bit zero.
func (o *Instance) Field(name string) *bv.Expr {
	if o.fields != nil {
		if v, ok := o.fields.Get(name); ok {
			return v
		}
	}
	return bv.Const(0, 32)
}

func (o *Instance) WithField(name string, v *bv.Expr) *Instance {
	fields := o.fields
	if fields == nil {
		fields = immutable.NewMap[string, *bv.Expr](nil)
	}
	return &Instance{Class: o.Class, fields: fields.Set(name, v)}
}

// Heap maps handles to objects.
type Heap struct {
	objs *immutable.Map[uint32, Object]
	next uint32
}

func NewHeap() Heap {
	return Heap{objs: immutable.NewMap[uint32, Object](nil), next: 1}
}

func (h *Heap) Kind() Kind { return KindObjectHeap }

func (h *Heap) Len() int {
	if h.objs == nil {
		return 0
	}
	return h.objs.Len()
}

func (h *Heap) alloc(o Object) Handle {
	if h.objs == nil {
		*h = NewHeap()
	}
	id := h.next
	h.next++
	h.objs = h.objs.Set(id, o)
	return Handle(id)
}

// NewArray allocates an array; length is a 32-bit formula.
func (h *Heap) NewArray(elem program.Type, length *bv.Expr) Handle {
	return h.alloc(&Array{Elem: elem, Length: length})
}

func (h *Heap) NewInstance(class string) Handle {
	return h.alloc(&Instance{Class: class})
}

func (h *Heap) get(hd Handle) (Object, error) {
	if h.objs != nil {
		if o, ok := h.objs.Get(uint32(hd)); ok {
			return o, nil
		}
	}
	return nil, fmt.Errorf("handle %d: %w", hd, symerrors.ErrUnknownHandle)
}

func (h *Heap) Array(hd Handle) (*Array, error) {
	o, err := h.get(hd)
	if err != nil {
		return nil, err
	}
	a, ok := o.(*Array)
	if !ok {
		return nil, fmt.Errorf("handle %d is not an array: %w", hd, symerrors.ErrTypeMismatch)
	}
	return a, nil
}

func (h *Heap) Instance(hd Handle) (*Instance, error) {
	o, err := h.get(hd)
	if err != nil {
		return nil, err
	}
	inst, ok := o.(*Instance)
	if !ok {
		return nil, fmt.Errorf("handle %d is not an instance: %w", hd, symerrors.ErrTypeMismatch)
	}
	return inst, nil
}

// Put replaces the object behind an existing handle.
func (h *Heap) Put(hd Handle, o Object) error {
	if _, err := h.get(hd); err != nil {
		return err
	}
	h.objs = h.objs.Set(uint32(hd), o)
	return nil
}
