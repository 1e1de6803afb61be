// Package ast defines the syntax tree and symbol-table model for lattice
// modules.
//
// A Module is the unit of parsing and analysis. Its externally visible
// definitions (functions, classes, variables) are mirrored into a
// SymbolTable whose entries carry structural fingerprints used to diff two
// versions of the same module. Cross-module references never hold node
// pointers; they hold fully-qualified names resolved through a HandleTable,
// so a module can be reparsed and swapped out without touching its
// dependents.
package ast

import (
	"fmt"
	"sort"
	"strings"
)

// SymbolKind classifies a top-level definition.
type SymbolKind string

const (
	KindFunc  SymbolKind = "func"
	KindClass SymbolKind = "class"
	KindVar   SymbolKind = "var"
)

// RefKind classifies a reference found inside a body.
type RefKind string

const (
	// RefRead is a read of a (possibly dotted) name.
	RefRead RefKind = "read"

	// RefCall is a call expression, including class instantiation.
	RefCall RefKind = "call"

	// RefAttr is an attribute access on a receiver.
	RefAttr RefKind = "attr"

	// RefBinOp is a binary operator application.
	RefBinOp RefKind = "binop"
)

// Param is one typed parameter or attribute declaration.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Ref is one reference recorded while parsing a body. The parser classifies
// each reference; the analysis passes resolve and check them.
type Ref struct {
	Kind RefKind `json:"kind"`

	// Name is the referenced name as written, possibly dotted ("b.f").
	Name string `json:"name"`

	// Attr is the accessed attribute for RefAttr.
	Attr string `json:"attr,omitempty"`

	// Op is the operator for RefBinOp ("+", "-", "*", "/").
	Op string `json:"op,omitempty"`

	// Args holds one entry per call argument: "int" or "str" for literals,
	// or "name:<written name>" for a name argument.
	Args []string `json:"args,omitempty"`

	// RHS is the right operand name for RefBinOp.
	RHS string `json:"rhs,omitempty"`

	// Assignee is the local name bound by "x = <expr>", if any.
	Assignee string `json:"assignee,omitempty"`

	Line int `json:"line"`
}

// FuncDef is a function or method definition.
type FuncDef struct {
	Name       string  `json:"name"`
	ClassName  string  `json:"class_name,omitempty"`
	Params     []Param `json:"params"`
	ReturnType string  `json:"return_type"`
	Line       int     `json:"line"`
	Body       []Ref   `json:"body,omitempty"`
}

// Signature renders the declared signature, e.g. "(x: int) -> int".
func (f *FuncDef) Signature() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.Name + ": " + p.Type
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + f.ReturnType
}

// ClassDef is a class definition.
type ClassDef struct {
	Name    string     `json:"name"`
	Bases   []string   `json:"bases,omitempty"`
	Attrs   []Param    `json:"attrs,omitempty"`
	Methods []*FuncDef `json:"methods,omitempty"`
	Line    int        `json:"line"`

	// MRO is the computed method-resolution order as fully-qualified class
	// names, starting with the class itself. Derived state: recomputed after
	// analysis and after a cache load, never serialized as authoritative.
	MRO []string `json:"mro,omitempty"`
}

// Method returns the method with the given name, or nil.
func (c *ClassDef) Method(name string) *FuncDef {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Attr returns the declared attribute with the given name, or nil.
func (c *ClassDef) Attr(name string) *Param {
	for i := range c.Attrs {
		if c.Attrs[i].Name == name {
			return &c.Attrs[i]
		}
	}
	return nil
}

// Import is one import statement.
type Import struct {
	// Module is the imported module as written, without leading dots.
	Module string `json:"module"`

	// Names are the imported names for "from M import a, b"; empty for
	// "import M".
	Names []string `json:"names,omitempty"`

	// Dots is the number of leading dots on a relative import.
	Dots int `json:"dots,omitempty"`

	Line int `json:"line"`
}

// Module is the parsed form of one source module.
type Module struct {
	ID      string      `json:"id"`
	Path    string      `json:"path"`
	Imports []Import    `json:"imports,omitempty"`
	Funcs   []*FuncDef  `json:"funcs,omitempty"`
	Classes []*ClassDef `json:"classes,omitempty"`
	Vars    []Param     `json:"vars,omitempty"`

	// TopLevel holds references appearing at module scope.
	TopLevel []Ref `json:"top_level,omitempty"`

	// Namespace maps local names to fully-qualified names, filled in by
	// semantic analysis from the import list.
	Namespace map[string]string `json:"namespace,omitempty"`
}

// Class returns the class with the given name, or nil.
func (m *Module) Class(name string) *ClassDef {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Func returns the module-level function with the given name, or nil.
func (m *Module) Func(name string) *FuncDef {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Symbol is the externally visible record for one top-level definition.
// Exactly one of Func, Class, Var is set, matching Kind.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Func  *FuncDef
	Class *ClassDef
	Var   *Param
}

// Fingerprint returns a structural fingerprint of the symbol: kind plus
// shape, deliberately excluding identity and body details. Two versions of
// a module are diffed by comparing fingerprints name by name.
func (s *Symbol) Fingerprint() string {
	switch s.Kind {
	case KindFunc:
		return "func" + s.Func.Signature()
	case KindClass:
		c := s.Class
		var b strings.Builder
		b.WriteString("class(")
		b.WriteString(strings.Join(c.Bases, ","))
		b.WriteString(")")
		attrs := make([]string, len(c.Attrs))
		for i, a := range c.Attrs {
			attrs[i] = a.Name + ":" + a.Type
		}
		sort.Strings(attrs)
		b.WriteString("{" + strings.Join(attrs, ";") + "}")
		methods := make([]string, len(c.Methods))
		for i, m := range c.Methods {
			methods[i] = m.Name + m.Signature()
		}
		sort.Strings(methods)
		b.WriteString("[" + strings.Join(methods, ";") + "]")
		return b.String()
	case KindVar:
		return "var:" + s.Var.Type
	default:
		return "unknown"
	}
}

// SymbolTable holds the exported symbols of one module, in definition order.
type SymbolTable struct {
	Module  string
	symbols map[string]*Symbol
	order   []string
}

// BuildSymbolTable derives the symbol table from a parsed module.
func BuildSymbolTable(m *Module) *SymbolTable {
	t := &SymbolTable{
		Module:  m.ID,
		symbols: make(map[string]*Symbol),
	}
	for _, f := range m.Funcs {
		t.put(&Symbol{Name: f.Name, Kind: KindFunc, Func: f})
	}
	for _, c := range m.Classes {
		t.put(&Symbol{Name: c.Name, Kind: KindClass, Class: c})
	}
	for i := range m.Vars {
		t.put(&Symbol{Name: m.Vars[i].Name, Kind: KindVar, Var: &m.Vars[i]})
	}
	return t
}

func (t *SymbolTable) put(s *Symbol) {
	if _, ok := t.symbols[s.Name]; !ok {
		t.order = append(t.order, s.Name)
	}
	t.symbols[s.Name] = s
}

// Lookup returns the symbol with the given name, or nil.
func (t *SymbolTable) Lookup(name string) *Symbol {
	return t.symbols[name]
}

// Names returns the symbol names in definition order.
func (t *SymbolTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of symbols.
func (t *SymbolTable) Len() int {
	return len(t.symbols)
}

// Snapshot returns the name -> fingerprint mapping for the table.
func (t *SymbolTable) Snapshot() map[string]string {
	out := make(map[string]string, len(t.symbols))
	for name, sym := range t.symbols {
		out[name] = sym.Fingerprint()
	}
	return out
}

// DiffSnapshots compares two snapshots of the same module and returns the
// names that were added, removed, or changed shape.
func DiffSnapshots(old, cur map[string]string) []string {
	var fired []string
	for name, fp := range cur {
		if oldFP, ok := old[name]; !ok || oldFP != fp {
			fired = append(fired, name)
		}
	}
	for name := range old {
		if _, ok := cur[name]; !ok {
			fired = append(fired, name)
		}
	}
	sort.Strings(fired)
	return fired
}

// Handle is a stable indirection for one cross-module reference target.
// Dependents hold the Handle (or just its fully-qualified name); a reparse
// redirects the handle to the replacement symbol without touching the
// dependents.
type Handle struct {
	name string
	sym  *Symbol
}

// Name returns the fully-qualified name the handle stands for.
func (h *Handle) Name() string { return h.name }

// Resolve returns the symbol the handle currently points at, or nil for a
// dangling handle.
func (h *Handle) Resolve() *Symbol { return h.sym }

// HandleTable maps fully-qualified names to stable handles. One table is
// shared across the whole module graph.
type HandleTable struct {
	handles map[string]*Handle
}

// NewHandleTable creates an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{handles: make(map[string]*Handle)}
}

// Intern returns the handle for the name, creating it if needed, and points
// it at sym.
func (t *HandleTable) Intern(name string, sym *Symbol) *Handle {
	h, ok := t.handles[name]
	if !ok {
		h = &Handle{name: name}
		t.handles[name] = h
	}
	h.sym = sym
	return h
}

// Get returns the handle for the name, or nil if never interned.
func (t *HandleTable) Get(name string) *Handle {
	return t.handles[name]
}

// Redirect points an existing handle at a new symbol. Redirecting an
// unknown name is a no-op: nothing can be holding such a handle.
func (t *HandleTable) Redirect(name string, sym *Symbol) {
	if h, ok := t.handles[name]; ok {
		h.sym = sym
	}
}

// Drop dangles the handle for a removed or kind-changed symbol. The handle
// object itself stays so existing holders observe the dangling state.
func (t *HandleTable) Drop(name string) {
	if h, ok := t.handles[name]; ok {
		h.sym = nil
	}
}

// InternModule interns a handle for every symbol in the table, keyed by
// "<module>.<name>".
func (t *HandleTable) InternModule(table *SymbolTable) {
	for _, name := range table.Names() {
		t.Intern(table.Module+"."+name, table.Lookup(name))
	}
}

// FQ joins a module id and a symbol name into a fully-qualified name.
func FQ(module, name string) string {
	if name == "" {
		return module
	}
	return fmt.Sprintf("%s.%s", module, name)
}
