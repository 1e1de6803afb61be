package graph

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/parser"
	"github.com/corbin-ks/lattice/internal/resolve"
	"github.com/corbin-ks/lattice/internal/storage"
)

// Loader discovers the transitive module graph from a set of roots.
type Loader struct {
	Resolver    *resolve.Resolver
	Parser      *parser.Parser
	Store       storage.Store // nil disables the cache fast path
	ToolVersion string
	Sink        *diag.Sink
	Log         *slog.Logger
}

// Load seeds the graph with the roots and expands it until no new imports
// are discovered. Direct-import lists come from valid cache metadata when
// available, otherwise from parsing. Missing absolute imports are
// non-blocking; a relative import with no enclosing package is blocking.
//
// No locking is performed against concurrent filesystem changes: a
// dependency list that disagrees with previously cached metadata is logged,
// not corrected.
func (l *Loader) Load(ctx context.Context, g *Graph, roots []resolve.Source) error {
	var queue []string

	seed := func(m *Module) {
		g.Add(m)
		queue = append(queue, m.ID)
	}

	for _, root := range roots {
		if g.Has(root.ID) {
			continue
		}
		path := root.Path
		if path == "" && root.Text == nil {
			path = l.Resolver.FindModule(root.ID)
			if path == "" {
				l.Sink.Errorf("", 0, "", "cannot find module %q", root.ID)
				continue
			}
		}
		seed(&Module{ID: root.ID, Path: path, Source: root.Text})
	}

	if !g.Has(BuiltinsModule) {
		seed(&Module{ID: BuiltinsModule, Source: BuiltinsSource()})
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		m := g.Get(id)
		if m == nil || m.Deps != nil || m.State >= Parsed {
			continue
		}

		if err := l.readSource(m); err != nil {
			l.Sink.Errorf(m.Path, 0, "", "cannot read module %q: %v", id, err)
			m.Deps = []string{}
			continue
		}

		deps := l.dependencies(ctx, m)
		if l.Sink.HasBlockingErrors() {
			return nil
		}

		for _, d := range deps {
			m.AddDep(d.id, d.line)
		}
		l.addImplicitDeps(m)

		for _, d := range m.Deps {
			if g.Has(d) {
				continue
			}
			dep := l.discover(d)
			if dep == nil {
				line := m.DepLines[d]
				l.Sink.Errorf(m.Path, line, "", "cannot find module %q", d)
				continue
			}
			seed(dep)
		}
	}

	return nil
}

// RecomputeDeps replaces a module's dependency edges from a freshly parsed
// tree. Used on reparse, where the import list may have changed.
func (l *Loader) RecomputeDeps(m *Module, tree *ast.Module) {
	m.Deps = nil
	m.DepLines = map[string]int{}
	for _, e := range l.importEdges(m, tree) {
		m.AddDep(e.id, e.line)
	}
	l.addImplicitDeps(m)
}

// Discover builds the record for a module id newly referenced by an import,
// or nil when it cannot be located.
func (l *Loader) Discover(id string) *Module {
	return l.discover(id)
}

// ReadSource fills in a module's Source and SourceHash from disk.
func (l *Loader) ReadSource(m *Module) error {
	return l.readSource(m)
}

type depEdge struct {
	id   string
	line int
}

// dependencies returns the direct-import list for a module, from cache
// metadata when valid, else by parsing.
func (l *Loader) dependencies(ctx context.Context, m *Module) []depEdge {
	var meta *storage.Metadata
	if l.Store != nil && m.ID != BuiltinsModule {
		meta, _ = l.Store.ReadMetadata(ctx, m.ID)
	}
	if meta != nil && meta.ToolVersion == l.ToolVersion {
		// Retained even when the source hash disagrees: a rebuild that
		// lands on the same interface keeps dependents on the cached path.
		m.PrevInterfaceHash = meta.InterfaceHash
	}

	if l.metadataValid(meta, m) {
		m.Fresh = true
		edges := make([]depEdge, 0, len(meta.Deps))
		for _, d := range meta.Deps {
			edges = append(edges, depEdge{id: d})
		}
		return edges
	}

	tree, diags := l.Parser.Parse(m.ID, m.Path, m.Source)
	for _, d := range diags {
		l.Sink.Add(d)
	}
	if l.Sink.HasBlockingErrors() {
		return nil
	}
	m.Tree = tree
	m.Table = ast.BuildSymbolTable(tree)
	_ = m.Advance(Parsed)

	edges := l.importEdges(m, tree)

	if meta != nil && meta.ToolVersion == l.ToolVersion {
		if depsDisagree(meta.Deps, edges) {
			l.Log.Warn("dependency list disagrees with cached metadata",
				"module", m.ID, "cached", strings.Join(meta.Deps, ","))
		}
	}
	return edges
}

// metadataValid reports whether cached metadata can stand in for a parse.
func (l *Loader) metadataValid(meta *storage.Metadata, m *Module) bool {
	return meta != nil &&
		meta.ToolVersion == l.ToolVersion &&
		meta.Path == m.Path &&
		meta.SourceHash == m.SourceHash
}

// importEdges maps the parsed import list to dependency edges, resolving
// relative imports against the importer's enclosing package.
func (l *Loader) importEdges(m *Module, tree *ast.Module) []depEdge {
	var edges []depEdge
	for _, imp := range tree.Imports {
		if imp.Dots > 0 {
			base := l.enclosingPackage(m)
			for i := 1; i < imp.Dots; i++ {
				base = ParentPackage(base)
			}
			if base == "" {
				l.Sink.Blockingf(m.Path, imp.Line,
					"no parent package: cannot perform relative import")
				return edges
			}
			target := base
			if imp.Module != "" {
				target = base + "." + imp.Module
			}
			edges = append(edges, depEdge{id: target, line: imp.Line})
			edges = append(edges, l.submoduleEdges(target, imp)...)
			continue
		}

		edges = append(edges, depEdge{id: imp.Module, line: imp.Line})
		edges = append(edges, l.submoduleEdges(imp.Module, imp)...)
	}
	return edges
}

// submoduleEdges adds edges for "from M import x" where x is itself a
// module rather than a symbol.
func (l *Loader) submoduleEdges(target string, imp ast.Import) []depEdge {
	var edges []depEdge
	for _, name := range imp.Names {
		sub := target + "." + name
		if l.Resolver.FindModule(sub) != "" {
			edges = append(edges, depEdge{id: sub, line: imp.Line})
		}
	}
	return edges
}

// enclosingPackage returns the package a module's relative imports resolve
// against: the module itself when it is a package, else its parent.
func (l *Loader) enclosingPackage(m *Module) string {
	if strings.HasSuffix(m.Path, resolve.InitFile) {
		return m.ID
	}
	return ParentPackage(m.ID)
}

// addImplicitDeps adds the builtins edge and superpackage edges.
func (l *Loader) addImplicitDeps(m *Module) {
	if m.ID != BuiltinsModule {
		m.AddDep(BuiltinsModule, 0)
	}
	for _, pkg := range Superpackages(m.ID) {
		m.AddDep(pkg, 0)
	}
}

// discover builds the record for a newly imported module, or nil when it
// cannot be located. Superpackage directories without an __init__ file get
// a synthetic empty record so the implicit-dependency invariant holds.
func (l *Loader) discover(id string) *Module {
	if id == BuiltinsModule {
		return &Module{ID: id, Source: BuiltinsSource()}
	}
	if path := l.Resolver.FindModule(id); path != "" {
		return &Module{ID: id, Path: path}
	}
	if l.isPackageDir(id) {
		return &Module{ID: id, Source: []byte{}}
	}
	return nil
}

// isPackageDir reports whether the id names a directory on the search path.
func (l *Loader) isPackageDir(id string) bool {
	for _, root := range l.Resolver.SearchPath() {
		dir := root
		for _, part := range strings.Split(id, ".") {
			dir = dir + string(os.PathSeparator) + part
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// readSource fills in Source and SourceHash, reading from disk when the
// record does not carry in-memory text.
func (l *Loader) readSource(m *Module) error {
	if m.Source == nil {
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return err
		}
		m.Source = data
	}
	m.SourceHash = HashSource(m.Source)
	return nil
}

func depsDisagree(cached []string, parsed []depEdge) bool {
	seen := make(map[string]bool, len(cached))
	for _, d := range cached {
		seen[d] = true
	}
	for _, e := range parsed {
		if !seen[e.id] {
			return true
		}
	}
	return false
}
