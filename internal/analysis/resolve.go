package analysis

import (
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/graph"
)

// value is the result of resolving a (possibly dotted) name in a checking
// context.
type value struct {
	// typ is the value's type when used as an expression: a builtin type
	// name, a fully-qualified class name, "any", or "" when unknown.
	typ string

	// sym and fq are set when the name denotes a top-level definition.
	sym *ast.Symbol
	fq  string

	// method and owner are set when attribute resolution landed on a
	// method; owner is the fully-qualified defining class.
	method *ast.FuncDef
	owner  string

	// moduleID is set when the name denotes a module.
	moduleID string
}

// resolveValue resolves a name against, in order: the target's locals, the
// module's own symbols, the module namespace, and builtins, then walks any
// remaining dotted parts through modules, classes, and instance types.
// When report is set, failures produce a diagnostic against the target.
func (c *Checker) resolveValue(m *graph.Module, t Target, name string, line int, locals map[string]string, report bool) (value, bool) {
	parts := strings.Split(name, ".")
	head := parts[0]
	rest := parts[1:]

	var v value
	switch {
	case locals[head] != "":
		v = value{typ: locals[head]}

	case m.Table != nil && m.Table.Lookup(head) != nil:
		v = c.symbolValue(m.Table.Lookup(head), ast.FQ(m.ID, head))

	default:
		matched := false
		for i := len(parts); i >= 1; i-- {
			prefix := strings.Join(parts[:i], ".")
			mapped, ok := m.Tree.Namespace[prefix]
			if !ok {
				continue
			}
			fv, fok := c.resolveFQ(mapped)
			if !fok {
				if report {
					c.Sink.Errorf(m.Path, line, t.FQ(), "name %q is not defined", name)
				}
				return value{}, false
			}
			v = fv
			rest = parts[i:]
			matched = true
			break
		}
		if !matched {
			b := c.Graph.Get(graph.BuiltinsModule)
			if b != nil && b.Table != nil && b.Table.Lookup(head) != nil {
				v = c.symbolValue(b.Table.Lookup(head), ast.FQ(graph.BuiltinsModule, head))
			} else {
				if report {
					c.Sink.Errorf(m.Path, line, t.FQ(), "name %q is not defined", name)
				}
				return value{}, false
			}
		}
	}

	for _, part := range rest {
		next, ok := c.step(m, t, v, part, line, report)
		if !ok {
			return value{}, false
		}
		v = next
	}
	return v, true
}

// resolveFQ resolves an already fully-qualified name through the graph.
func (c *Checker) resolveFQ(fq string) (value, bool) {
	if c.Graph.Has(fq) {
		return value{moduleID: fq}, true
	}
	mod, rem := c.Graph.SplitFQ(fq)
	if mod == "" {
		return value{}, false
	}
	v := value{moduleID: mod}
	for _, part := range strings.Split(rem, ".") {
		next, ok := c.step(nil, Target{}, v, part, 0, false)
		if !ok {
			return value{}, false
		}
		v = next
	}
	return v, true
}

// step resolves one attribute access on a value.
func (c *Checker) step(m *graph.Module, t Target, v value, part string, line int, report bool) (value, bool) {
	fail := func(format string, args ...any) (value, bool) {
		if report && m != nil {
			c.Sink.Errorf(m.Path, line, t.FQ(), format, args...)
		}
		return value{}, false
	}

	switch {
	case v.moduleID != "":
		owner := c.Graph.Get(v.moduleID)
		if owner != nil && owner.Table != nil {
			if sym := owner.Table.Lookup(part); sym != nil {
				return c.symbolValue(sym, ast.FQ(v.moduleID, part)), true
			}
		}
		if sub := v.moduleID + "." + part; c.Graph.Has(sub) {
			return value{moduleID: sub}, true
		}
		return fail("module %q has no attribute %q", v.moduleID, part)

	case v.sym != nil && v.sym.Kind == ast.KindClass:
		return c.classAttr(v.sym.Class, v.fq, part, fail)

	case v.typ == "any" || v.typ == "":
		return value{typ: "any"}, true

	default:
		cls, clsFQ := c.classForType(v.typ)
		if cls == nil {
			return value{typ: "any"}, true
		}
		return c.classAttr(cls, clsFQ, part, fail)
	}
}

// classAttr looks an attribute or method up through a class's MRO.
func (c *Checker) classAttr(cls *ast.ClassDef, clsFQ, part string, fail func(string, ...any) (value, bool)) (value, bool) {
	mro := cls.MRO
	if len(mro) == 0 {
		mro = []string{clsFQ}
	}
	for _, fq := range mro {
		cur := cls
		if fq != clsFQ {
			sym := c.Graph.LookupSymbol(fq)
			if sym == nil || sym.Kind != ast.KindClass {
				continue
			}
			cur = sym.Class
		}
		if attr := cur.Attr(part); attr != nil {
			c.emit(fq + "." + part)
			return value{typ: c.normalizeIn(fq, attr.Type)}, true
		}
		if meth := cur.Method(part); meth != nil {
			c.emit(fq + "." + part)
			return value{method: meth, owner: fq, typ: "callable"}, true
		}
	}
	short := clsFQ[strings.LastIndex(clsFQ, ".")+1:]
	return fail("%q has no attribute %q", short, part)
}

// symbolValue wraps a top-level symbol as a value.
func (c *Checker) symbolValue(sym *ast.Symbol, fq string) value {
	c.emit(fq)
	switch sym.Kind {
	case ast.KindFunc:
		return value{sym: sym, fq: fq, typ: "callable"}
	case ast.KindClass:
		return value{sym: sym, fq: fq, typ: "type"}
	case ast.KindVar:
		return value{sym: sym, fq: fq, typ: c.normalizeIn(fq, sym.Var.Type)}
	default:
		return value{sym: sym, fq: fq}
	}
}

// classForType maps a type name to its class definition.
func (c *Checker) classForType(typ string) (*ast.ClassDef, string) {
	if typ == "any" || typ == "none" || typ == "callable" || typ == "type" {
		return nil, ""
	}
	fq := typ
	if builtinTypes[typ] {
		fq = ast.FQ(graph.BuiltinsModule, typ)
	}
	sym := c.Graph.LookupSymbol(fq)
	if sym == nil || sym.Kind != ast.KindClass {
		return nil, ""
	}
	return sym.Class, fq
}

// mroMethod finds a method through a class's MRO, returning the defining
// class's fully-qualified name.
func (c *Checker) mroMethod(cls *ast.ClassDef, clsFQ, name string) (*ast.FuncDef, string) {
	mro := cls.MRO
	if len(mro) == 0 {
		mro = []string{clsFQ}
	}
	for _, fq := range mro {
		cur := cls
		if fq != clsFQ {
			sym := c.Graph.LookupSymbol(fq)
			if sym == nil || sym.Kind != ast.KindClass {
				continue
			}
			cur = sym.Class
		}
		if meth := cur.Method(name); meth != nil {
			return meth, fq
		}
	}
	return nil, ""
}

// normalizeIn normalizes a written type name in the scope of the module
// owning the given fully-qualified symbol.
func (c *Checker) normalizeIn(ownerFQ, written string) string {
	mod, _ := c.Graph.SplitFQ(ownerFQ)
	if mod == "" {
		return written
	}
	return c.normalizeType(c.Graph.Get(mod), written)
}

// normalizeType normalizes a written type in a module's scope: builtin
// names stay short, class names become fully qualified.
func (c *Checker) normalizeType(m *graph.Module, written string) string {
	if builtinTypes[written] {
		return written
	}
	if m == nil || m.Tree == nil {
		return written
	}
	sym, fq := c.res.resolveSymbol(m, written)
	if sym != nil && sym.Kind == ast.KindClass {
		return c.shortType(fq)
	}
	return written
}

// shortType strips the builtins prefix so primitive types compare by their
// short names.
func (c *Checker) shortType(fq string) string {
	return strings.TrimPrefix(fq, graph.BuiltinsModule+".")
}
