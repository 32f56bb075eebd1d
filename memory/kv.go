package memory

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/symerrors"
)

// KV holds bytecode locals by name.
type KV struct {
	m *immutable.Map[string, *bv.Expr]
}

func NewKV() KV {
	return KV{m: immutable.NewMap[string, *bv.Expr](nil)}
}

func (k *KV) Kind() Kind { return KindKeyValue }

// Lookup returns the local and whether it was ever assigned.
func (k *KV) Lookup(name string) (*bv.Expr, bool) {
	if k.m == nil {
		return nil, false
	}
	return k.m.Get(name)
}

func (k *KV) Load(name string) (*bv.Expr, error) {
	v, ok := k.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("local %s: %w", name, symerrors.ErrMemoryAccess)
	}
	return v, nil
}

func (k *KV) Store(name string, v *bv.Expr) error {
	if k.m == nil {
		k.m = immutable.NewMap[string, *bv.Expr](nil)
	}
	k.m = k.m.Set(name, v)
	return nil
}

func (k *KV) Len() int {
	if k.m == nil {
		return 0
	}
	return k.m.Len()
}

// Names returns the assigned locals in sorted order.
func (k *KV) Names() []string {
	var out []string
	if k.m == nil {
		return out
	}
	itr := k.m.Iterator()
	for !itr.Done() {
		name, _, ok := itr.Next()
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
