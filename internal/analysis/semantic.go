package analysis

import (
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
)

// Analyzer runs the semantic passes over one module at a time. Both passes
// side-effect the module's tree and report into the shared sink.
type Analyzer struct {
	Graph *graph.Graph
	Sink  *diag.Sink
}

// BindNames is the first semantic pass: it derives the module's namespace
// from its import list, rebuilds the symbol table, and interns a handle for
// every exported symbol.
func (a *Analyzer) BindNames(m *graph.Module) error {
	if m.Tree == nil {
		return diag.Internalf("semantic analysis of unparsed module %s", m.ID)
	}

	ns := make(map[string]string)
	for _, imp := range m.Tree.Imports {
		target := imp.Module
		if imp.Dots > 0 {
			base := a.enclosingPackage(m)
			for i := 1; i < imp.Dots; i++ {
				base = graph.ParentPackage(base)
			}
			if base == "" {
				// Already reported as blocking by the loader.
				continue
			}
			if imp.Module != "" {
				target = base + "." + imp.Module
			} else {
				target = base
			}
		}
		if len(imp.Names) == 0 {
			ns[target] = target
			continue
		}
		for _, name := range imp.Names {
			ns[name] = target + "." + name
		}
	}
	m.Tree.Namespace = ns

	m.Table = ast.BuildSymbolTable(m.Tree)
	a.Graph.Handles.InternModule(m.Table)

	return m.Advance(graph.PartiallyAnalyzed)
}

// AnalyzeClasses is the second semantic pass: it resolves base-class names
// and computes each class's method-resolution order.
func (a *Analyzer) AnalyzeClasses(m *graph.Module) error {
	if m.State < graph.PartiallyAnalyzed {
		return diag.Internalf("class analysis before name binding for %s", m.ID)
	}
	for _, cls := range m.Tree.Classes {
		a.linearize(m, cls)
	}
	return m.Advance(graph.SemanticallyAnalyzed)
}

// RecomputeMRO refreshes derived structural info after a cache load, when
// base classes may have been rebuilt in other modules.
func (a *Analyzer) RecomputeMRO(m *graph.Module) {
	if m.Tree == nil {
		return
	}
	for _, cls := range m.Tree.Classes {
		cls.MRO = nil
		a.linearize(m, cls)
	}
}

// linearize computes the C3 linearization for a class, reporting
// unresolvable bases and inconsistent hierarchies.
func (a *Analyzer) linearize(m *graph.Module, cls *ast.ClassDef) {
	self := ast.FQ(m.ID, cls.Name)
	var parents [][]string
	var direct []string

	for _, base := range cls.Bases {
		baseFQ, baseCls := a.resolveClass(m, base)
		if baseCls == nil {
			a.Sink.Errorf(m.Path, cls.Line, m.ID,
				"base class %q of %q is not defined", base, cls.Name)
			continue
		}
		direct = append(direct, baseFQ)
		if len(baseCls.MRO) > 0 {
			parents = append(parents, append([]string(nil), baseCls.MRO...))
		} else {
			parents = append(parents, []string{baseFQ})
		}
	}

	mro, ok := c3Merge(self, parents, direct)
	if !ok {
		a.Sink.Errorf(m.Path, cls.Line, m.ID,
			"cannot determine consistent method resolution order for %q", cls.Name)
		mro = append([]string{self}, direct...)
	}
	cls.MRO = mro
}

// resolveClass resolves a (possibly dotted) class name in the module's
// scope to its fully-qualified name and definition.
func (a *Analyzer) resolveClass(m *graph.Module, name string) (string, *ast.ClassDef) {
	sym, fq := a.resolveSymbol(m, name)
	if sym == nil || sym.Kind != ast.KindClass {
		return "", nil
	}
	return fq, sym.Class
}

// resolveSymbol resolves a possibly dotted name against the module's own
// table, its namespace, and builtins.
func (a *Analyzer) resolveSymbol(m *graph.Module, name string) (*ast.Symbol, string) {
	if !strings.Contains(name, ".") {
		if m.Table != nil {
			if sym := m.Table.Lookup(name); sym != nil {
				return sym, ast.FQ(m.ID, name)
			}
		}
		if mapped, ok := m.Tree.Namespace[name]; ok {
			if sym := a.Graph.LookupSymbol(mapped); sym != nil {
				return sym, mapped
			}
			return nil, mapped
		}
		if b := a.Graph.Get(graph.BuiltinsModule); b != nil && b.Table != nil {
			if sym := b.Table.Lookup(name); sym != nil {
				return sym, ast.FQ(graph.BuiltinsModule, name)
			}
		}
		return nil, ""
	}

	// Dotted: map the longest namespace prefix, then look up through the
	// graph.
	mapped := name
	parts := strings.Split(name, ".")
	for i := len(parts); i > 0; i-- {
		prefix := strings.Join(parts[:i], ".")
		if target, ok := m.Tree.Namespace[prefix]; ok {
			mapped = target + name[len(prefix):]
			break
		}
	}
	if sym := a.Graph.LookupSymbol(mapped); sym != nil {
		return sym, mapped
	}
	return nil, mapped
}

func (a *Analyzer) enclosingPackage(m *graph.Module) string {
	if strings.HasSuffix(m.Path, "__init__.lt") {
		return m.ID
	}
	return graph.ParentPackage(m.ID)
}
