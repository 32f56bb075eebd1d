// Package program holds the immutable description of a mixed program:
// bytecode methods made of statement blocks and native code regions with
// their symbol tables.
package program

import (
	"fmt"
	"sort"
	"strings"
)

type Param struct {
	Name string
	Type Type
}

type Block struct {
	Stmts []Stmt
}

// Method is a bytecode method, or a native stub bound to Symbol.
type Method struct {
	Name   string
	Params []Param
	Return Type
	Native bool
	Symbol string
	Blocks []Block
}

// Class returns the part of the name before the last dot.
func (m *Method) Class() string {
	if i := strings.LastIndexByte(m.Name, '.'); i >= 0 {
		return m.Name[:i]
	}
	return ""
}

// Stmt returns the statement at (block, stmt), or nil.
func (m *Method) Stmt(block, stmt int) Stmt {
	if block < 0 || block >= len(m.Blocks) {
		return nil
	}
	b := m.Blocks[block]
	if stmt < 0 || stmt >= len(b.Stmts) {
		return nil
	}
	return b.Stmts[stmt]
}

// JNISymbol is the exported name a native method binds to.
func JNISymbol(method string) string {
	r := strings.NewReplacer("_", "_1", ".", "_", "/", "_")
	return "Java_" + r.Replace(method)
}

// Region is a span of native code loaded at Base.
type Region struct {
	Name    string
	Base    uint64
	Code    []byte
	Symbols map[string]uint64
}

func (r *Region) End() uint64 { return r.Base + uint64(len(r.Code)) }

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// Bytes returns the code from addr to the end of the region.
func (r *Region) Bytes(addr uint64) []byte {
	if !r.Contains(addr) {
		return nil
	}
	return r.Code[addr-r.Base:]
}

// Loader is what the engine needs from a loaded program.
type Loader interface {
	Method(name string) (*Method, bool)
	Region(addr uint64) (*Region, bool)
	Symbol(name string) (uint64, bool)
}

// Program is an immutable Loader shared by every state of an exploration.
type Program struct {
	methods map[string]*Method
	regions []*Region
	symbols map[string]uint64
	entry   string
}

var _ Loader = (*Program)(nil)

func (p *Program) Method(name string) (*Method, bool) {
	m, ok := p.methods[name]
	return m, ok
}

func (p *Program) Region(addr uint64) (*Region, bool) {
	i := sort.Search(len(p.regions), func(i int) bool { return p.regions[i].End() > addr })
	if i < len(p.regions) && p.regions[i].Contains(addr) {
		return p.regions[i], true
	}
	return nil, false
}

func (p *Program) Symbol(name string) (uint64, bool) {
	a, ok := p.symbols[name]
	return a, ok
}

// Entry is the default entry method.
func (p *Program) Entry() string { return p.entry }

// Methods lists method names in sorted order.
func (p *Program) Methods() []string {
	out := make([]string, 0, len(p.methods))
	for n := range p.methods {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Regions lists native regions by base address.
func (p *Program) Regions() []*Region {
	return append([]*Region(nil), p.regions...)
}

// SymbolAt returns the symbol bound exactly at addr.
func (p *Program) SymbolAt(addr uint64) (string, bool) {
	best := ""
	for name, a := range p.symbols {
		if a == addr && (best == "" || name < best) {
			best = name
		}
	}
	return best, best != ""
}

// Builder assembles a Program.
type Builder struct {
	methods map[string]*Method
	regions []*Region
	entry   string
	errs    []string
}

func NewBuilder() *Builder {
	return &Builder{methods: make(map[string]*Method)}
}

// Method adds a bytecode method or a native stub.
func (b *Builder) Method(m *Method) *Builder {
	if _, dup := b.methods[m.Name]; dup {
		b.errs = append(b.errs, fmt.Sprintf("duplicate method %s", m.Name))
	}
	b.methods[m.Name] = m
	if b.entry == "" && !m.Native {
		b.entry = m.Name
	}
	return b
}

// Native declares a native stub for name with the given signature, bound to
// its JNI symbol.
func (b *Builder) Native(name string, ret Type, params ...Type) *Builder {
	m := &Method{Name: name, Return: ret, Native: true, Symbol: JNISymbol(name)}
	for i, t := range params {
		m.Params = append(m.Params, Param{Name: fmt.Sprintf("p%d", i), Type: t})
	}
	return b.Method(m)
}

// Code maps raw machine code at base with its symbols, given relative to
// base.
func (b *Builder) Code(name string, base uint64, code []byte, symbols map[string]uint64) *Builder {
	abs := make(map[string]uint64, len(symbols))
	for s, off := range symbols {
		abs[s] = base + off
	}
	b.regions = append(b.regions, &Region{Name: name, Base: base, Code: code, Symbols: abs})
	return b
}

// Entry overrides the default entry, which is the first bytecode method.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

// Build validates and freezes the program.
func (b *Builder) Build() (*Program, error) {
	errs := append([]string(nil), b.errs...)
	p := &Program{
		methods: b.methods,
		regions: append([]*Region(nil), b.regions...),
		symbols: make(map[string]uint64),
		entry:   b.entry,
	}
	sort.Slice(p.regions, func(i, j int) bool { return p.regions[i].Base < p.regions[j].Base })
	for i, r := range p.regions {
		if len(r.Code) == 0 {
			errs = append(errs, fmt.Sprintf("region %s is empty", r.Name))
		}
		if i > 0 && p.regions[i-1].End() > r.Base {
			errs = append(errs, fmt.Sprintf("region %s overlaps %s", r.Name, p.regions[i-1].Name))
		}
		for s, a := range r.Symbols {
			if !r.Contains(a) {
				errs = append(errs, fmt.Sprintf("symbol %s outside region %s", s, r.Name))
			}
			if _, dup := p.symbols[s]; dup {
				errs = append(errs, fmt.Sprintf("duplicate symbol %s", s))
			}
			p.symbols[s] = a
		}
	}
	for _, name := range p.Methods() {
		m := p.methods[name]
		if m.Native {
			if _, ok := p.symbols[m.Symbol]; !ok {
				errs = append(errs, fmt.Sprintf("native %s: no symbol %s", name, m.Symbol))
			}
			continue
		}
		if len(m.Blocks) == 0 {
			errs = append(errs, fmt.Sprintf("method %s has no blocks", name))
		}
		for bi, blk := range m.Blocks {
			for si, st := range blk.Stmts {
				if err := checkStmt(p, m, st); err != "" {
					errs = append(errs, fmt.Sprintf("%s[%d:%d]: %s", name, bi, si, err))
				}
			}
		}
	}
	if p.entry != "" {
		if _, ok := p.methods[p.entry]; !ok {
			errs = append(errs, fmt.Sprintf("entry %s not defined", p.entry))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("program: %s", strings.Join(errs, "; "))
	}
	return p, nil
}

func checkStmt(p *Program, m *Method, st Stmt) string {
	target := -1
	switch s := st.(type) {
	case If:
		target = s.Target
	case Goto:
		target = s.Target
	case Invoke:
		callee, ok := p.methods[s.Method]
		if !ok {
			return "call to undefined " + s.Method
		}
		if len(callee.Params) != len(s.Args) {
			return fmt.Sprintf("call to %s with %d args, want %d", s.Method, len(s.Args), len(callee.Params))
		}
	}
	if target >= 0 && target >= len(m.Blocks) {
		return fmt.Sprintf("branch to missing block %d", target)
	}
	return ""
}
