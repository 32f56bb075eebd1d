// Package samples bundles small mixed programs: bytecode methods calling
// into hand-assembled x86-64 JNI functions.
package samples

import (
	"fmt"
	"sort"
	"strings"

	"github.com/colorfulnotion/jnisym/program"
)

// LibBase is where every sample maps its native library.
const LibBase = 0x400000

// Sample is a named program with its entry point.
type Sample struct {
	Name string
	Doc  string
	// Entry is a bytecode method, or a native symbol when Native is set.
	Entry  string
	Native bool
	// Win is the first stdout byte of a winning path, zero when the sample
	// has no winning notion.
	Win   byte
	build func() *program.Builder
}

// Program builds a fresh program for the sample.
func (s Sample) Program() (*program.Program, error) {
	p, err := s.build().Build()
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.Name, err)
	}
	return p, nil
}

var registry = map[string]Sample{}

func register(s Sample) {
	if _, dup := registry[s.Name]; dup {
		panic("duplicate sample " + s.Name)
	}
	registry[s.Name] = s
}

// Lookup finds a sample by name.
func Lookup(name string) (Sample, bool) {
	s, ok := registry[name]
	return s, ok
}

// All returns the samples ordered by name.
func All() []Sample {
	out := make([]Sample, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func v(name string) program.Local { return program.Var(name) }

func i(n int32) program.Const { return program.I(n) }

// typeName is the capitalized type name used in JNI function names.
func typeName(t program.Type) string {
	n := t.String()
	return strings.ToUpper(n[:1]) + n[1:]
}

func emit(c byte) program.Print { return program.Print{Value: i(int32(c))} }

func eq(a, b program.Value) program.Cmp { return program.Cmp{Op: program.CmpEq, A: a, B: b} }

func call(dst, method string, args ...program.Value) program.Invoke {
	return program.Invoke{Dst: dst, Method: method, Args: args}
}

func method(name string, params []program.Param, blocks ...[]program.Stmt) *program.Method {
	m := &program.Method{Name: name, Params: params, Return: program.Void}
	for _, b := range blocks {
		m.Blocks = append(m.Blocks, program.Block{Stmts: b})
	}
	return m
}

// judged appends the verdict blocks to body: print 'W' when cond holds,
// 'L' otherwise.
func judged(cond program.Value, body ...program.Stmt) [][]program.Stmt {
	first := append(body, program.If{Cond: cond, Target: 2})
	return [][]program.Stmt{
		first,
		{emit('L'), program.Return{}},
		{emit('W'), program.Return{}},
	}
}

// library assembles functions back to back and records their offsets.
type library struct {
	code    []byte
	symbols map[string]uint64
}

func (l *library) fn(method string, code ...byte) *library {
	return l.raw(program.JNISymbol(method), code...)
}

// raw adds a function under a plain symbol name.
func (l *library) raw(symbol string, code ...byte) *library {
	if l.symbols == nil {
		l.symbols = make(map[string]uint64)
	}
	l.symbols[symbol] = uint64(len(l.code))
	l.code = append(l.code, code...)
	return l
}

func (l *library) load(b *program.Builder) *program.Builder {
	return b.Code("libtest.so", LibBase, l.code, l.symbols)
}
