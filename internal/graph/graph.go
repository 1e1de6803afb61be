// Package graph holds the module graph: one record per module id, edges
// given by each record's dependency list, and the shared handle table
// resolving cross-module references.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
)

// BuiltinsModule is the module every other module implicitly depends on.
const BuiltinsModule = "builtins"

// Module is the record for one module. Exactly one record exists per id at
// any time; a reparse produces a replacement record that is reconciled with
// the old one by the fine-grained engine.
type Module struct {
	ID   string
	Path string

	// Deps are direct dependency ids, implicit edges included.
	Deps []string

	// DepLines maps each dependency to the line of the import that
	// introduced it, for diagnostics. Implicit dependencies map to 0.
	DepLines map[string]int

	// Fresh reports whether the module's cache entry is usable.
	Fresh bool

	// PrevInterfaceHash is the interface fingerprint recorded by the
	// module's last persisted cache entry for the current tool version,
	// or "" when no such entry exists.
	PrevInterfaceHash string

	// FromCache reports whether the current tree was loaded from cache.
	FromCache bool

	State State

	// Source is the raw source text, retained until parsed.
	Source []byte

	// SourceHash is the SHA-256 of Source.
	SourceHash string

	Tree  *ast.Module
	Table *ast.SymbolTable
}

// HasDep reports whether the module lists id as a direct dependency.
func (m *Module) HasDep(id string) bool {
	for _, d := range m.Deps {
		if d == id {
			return true
		}
	}
	return false
}

// AddDep appends a dependency if not already present.
func (m *Module) AddDep(id string, line int) {
	if m.HasDep(id) {
		return
	}
	m.Deps = append(m.Deps, id)
	if m.DepLines == nil {
		m.DepLines = make(map[string]int)
	}
	if _, ok := m.DepLines[id]; !ok {
		m.DepLines[id] = line
	}
}

// Graph is the process-wide module graph, passed explicitly into every
// stage rather than held as a singleton.
type Graph struct {
	modules map[string]*Module
	order   []string // first-discovered order
	Handles *ast.HandleTable
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		modules: make(map[string]*Module),
		Handles: ast.NewHandleTable(),
	}
}

// Get returns the record for a module id, or nil.
func (g *Graph) Get(id string) *Module {
	return g.modules[id]
}

// Has reports whether the module exists in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.modules[id]
	return ok
}

// Add inserts a record. Re-adding an id replaces the record wholesale but
// keeps the original discovery position.
func (g *Graph) Add(m *Module) {
	if _, ok := g.modules[m.ID]; !ok {
		g.order = append(g.order, m.ID)
	}
	g.modules[m.ID] = m
}

// Remove deletes a module record. Handles for its symbols are left dangling
// for dependents to discover through the dependency map.
func (g *Graph) Remove(id string) {
	if _, ok := g.modules[id]; !ok {
		return
	}
	delete(g.modules, id)
	for i, mid := range g.order {
		if mid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.modules)
}

// IDs returns module ids in first-discovered order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DiscoveryIndex returns the position at which the module was first added,
// used as the deterministic tie-break in scheduling.
func (g *Graph) DiscoveryIndex(id string) int {
	for i, mid := range g.order {
		if mid == id {
			return i
		}
	}
	return len(g.order)
}

// Importers returns the ids of modules that list id as a direct dependency,
// sorted.
func (g *Graph) Importers(id string) []string {
	var out []string
	for mid, m := range g.modules {
		if m.HasDep(id) {
			out = append(out, mid)
		}
	}
	sort.Strings(out)
	return out
}

// LookupSymbol resolves a fully-qualified name to a symbol by locating the
// owning module and looking the name up in its table. The module id is the
// longest prefix of fq that names a module in the graph.
func (g *Graph) LookupSymbol(fq string) *ast.Symbol {
	mod, name := g.SplitFQ(fq)
	if mod == "" {
		return nil
	}
	m := g.modules[mod]
	if m == nil || m.Table == nil {
		return nil
	}
	if name == "" {
		return nil
	}
	return m.Table.Lookup(name)
}

// SplitFQ splits a fully-qualified name into (module id, remainder) using
// the longest module-id prefix present in the graph.
func (g *Graph) SplitFQ(fq string) (string, string) {
	if _, ok := g.modules[fq]; ok {
		return fq, ""
	}
	parts := strings.Split(fq, ".")
	for i := len(parts) - 1; i > 0; i-- {
		mod := strings.Join(parts[:i], ".")
		if _, ok := g.modules[mod]; ok {
			return mod, strings.Join(parts[i:], ".")
		}
	}
	return "", fq
}

// Superpackages returns the enclosing packages of a dotted module id, e.g.
// "a.b" and "a" for "a.b.c".
func Superpackages(id string) []string {
	var out []string
	for {
		idx := strings.LastIndex(id, ".")
		if idx < 0 {
			return out
		}
		id = id[:idx]
		out = append(out, id)
	}
}

// ParentPackage returns the enclosing package of a module id, or "".
func ParentPackage(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

// HashSource returns the hex SHA-256 of source text.
func HashSource(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
