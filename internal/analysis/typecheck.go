package analysis

import (
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
)

// builtinTypes are the primitive type names usable directly in signatures.
var builtinTypes = map[string]bool{
	"int":   true,
	"str":   true,
	"bool":  true,
	"float": true,
	"none":  true,
	"any":   true,
}

// opDunder maps binary operators to the method consulted on the left
// operand's type.
var opDunder = map[string]string{
	"+": "__add__",
	"-": "__sub__",
	"*": "__mul__",
	"/": "__div__",
}

// Checker type-checks re-checkable units against the current module graph.
// It side-effects nothing in the trees; results go to the sink and the
// accumulated TypeMap.
type Checker struct {
	Graph *graph.Graph
	Sink  *diag.Sink

	// TypeMap records the externally visible type of every checked target.
	TypeMap map[string]string

	res *Analyzer

	// Dependency-edge collection state; see deps.go.
	collect bool
	edges   []TriggerEdge
	cur     Target
}

// NewChecker creates a checker over the graph.
func NewChecker(g *graph.Graph, sink *diag.Sink) *Checker {
	return &Checker{
		Graph:   g,
		Sink:    sink,
		TypeMap: make(map[string]string),
		res:     &Analyzer{Graph: g, Sink: sink},
	}
}

// CheckModule checks every target of the module and advances its state.
func (c *Checker) CheckModule(m *graph.Module) error {
	if m.State < graph.SemanticallyAnalyzed {
		return diag.Internalf("type check before semantic analysis for %s", m.ID)
	}
	for _, t := range ModuleTargets(m) {
		c.CheckTarget(m, t)
	}
	return m.Advance(graph.TypeChecked)
}

// CheckTarget checks a single unit. The caller is responsible for stripping
// the target's stale diagnostics first when re-checking.
func (c *Checker) CheckTarget(m *graph.Module, t Target) {
	var (
		refs   []ast.Ref
		locals = map[string]string{}
	)
	c.cur = t

	switch t.Kind {
	case TargetModule:
		refs = m.Tree.TopLevel
		c.TypeMap[t.FQ()] = "module"
		c.classEdges(m)
	case TargetFunc:
		fn := m.Tree.Func(t.Name)
		if fn == nil {
			return
		}
		refs = fn.Body
		for _, p := range fn.Params {
			locals[p.Name] = c.normalizeType(m, p.Type)
		}
		c.TypeMap[t.FQ()] = fn.Signature()
	case TargetMethod:
		cls := m.Tree.Class(t.Class)
		if cls == nil {
			return
		}
		fn := cls.Method(t.Name)
		if fn == nil {
			return
		}
		refs = fn.Body
		locals["self"] = ast.FQ(m.ID, t.Class)
		for _, p := range fn.Params {
			locals[p.Name] = c.normalizeType(m, p.Type)
		}
		c.TypeMap[t.FQ()] = fn.Signature()
	}

	for _, ref := range refs {
		switch ref.Kind {
		case ast.RefCall:
			c.checkCall(m, t, ref, locals)
		case ast.RefRead:
			c.checkRead(m, t, ref, locals)
		case ast.RefBinOp:
			c.checkBinOp(m, t, ref, locals)
		case ast.RefAttr:
			// The parser folds attribute access into dotted reads; nothing
			// reaches here, but the union stays exhaustive.
			c.checkRead(m, t, ref, locals)
		}
	}
}

func (c *Checker) checkCall(m *graph.Module, t Target, ref ast.Ref, locals map[string]string) {
	v, ok := c.resolveValue(m, t, ref.Name, ref.Line, locals, true)
	if !ok {
		c.assign(locals, ref.Assignee, "any")
		return
	}

	switch {
	case v.method != nil:
		c.checkArgs(m, t, ref, v.method, v.owner, locals)
		c.assign(locals, ref.Assignee, c.normalizeIn(v.owner, v.method.ReturnType))

	case v.sym != nil && v.sym.Kind == ast.KindFunc:
		c.checkArgs(m, t, ref, v.sym.Func, v.fq, locals)
		c.assign(locals, ref.Assignee, c.normalizeIn(v.fq, v.sym.Func.ReturnType))

	case v.sym != nil && v.sym.Kind == ast.KindClass:
		// Instantiation depends on the constructor.
		c.emit(v.fq + ".__init__")
		if init := v.sym.Class.Method("__init__"); init != nil {
			c.checkArgs(m, t, ref, init, v.fq, locals)
		}
		c.assign(locals, ref.Assignee, c.shortType(v.fq))

	default:
		c.assign(locals, ref.Assignee, "any")
	}
}

func (c *Checker) checkRead(m *graph.Module, t Target, ref ast.Ref, locals map[string]string) {
	v, ok := c.resolveValue(m, t, ref.Name, ref.Line, locals, true)
	if ok {
		c.assign(locals, ref.Assignee, v.typ)
	} else {
		c.assign(locals, ref.Assignee, "any")
	}
}

func (c *Checker) checkBinOp(m *graph.Module, t Target, ref ast.Ref, locals map[string]string) {
	lv, lok := c.resolveValue(m, t, ref.Name, ref.Line, locals, true)
	rv, _ := c.resolveValue(m, t, ref.RHS, ref.Line, locals, false)
	if !lok || lv.typ == "" || lv.typ == "any" {
		c.assign(locals, ref.Assignee, "any")
		return
	}

	cls, clsFQ := c.classForType(lv.typ)
	if cls == nil {
		c.assign(locals, ref.Assignee, "any")
		return
	}
	dunder := opDunder[ref.Op]
	meth, owner := c.mroMethod(cls, clsFQ, dunder)
	if meth != nil {
		c.emit(owner + "." + dunder)
	}
	if meth == nil {
		c.Sink.Errorf(m.Path, ref.Line, t.FQ(),
			"unsupported operand type for %s: %q", ref.Op, lv.typ)
		c.assign(locals, ref.Assignee, "any")
		return
	}
	if rv.typ != "" && rv.typ != "any" && len(meth.Params) > 0 {
		want := c.normalizeIn(owner, meth.Params[0].Type)
		if !compatible(rv.typ, want) {
			c.Sink.Errorf(m.Path, ref.Line, t.FQ(),
				"unsupported operand types for %s: %q and %q", ref.Op, lv.typ, rv.typ)
		}
	}
	c.assign(locals, ref.Assignee, c.normalizeIn(owner, meth.ReturnType))
}

// checkArgs checks arity and literal/known argument types against the
// callee's declared parameters. owner is the fully-qualified name of the
// callee (or its class) used to normalize declared types.
func (c *Checker) checkArgs(m *graph.Module, t Target, ref ast.Ref, fn *ast.FuncDef, owner string, locals map[string]string) {
	if len(ref.Args) > len(fn.Params) {
		c.Sink.Errorf(m.Path, ref.Line, t.FQ(),
			"too many arguments for %q", ref.Name)
		return
	}
	if len(ref.Args) < len(fn.Params) {
		c.Sink.Errorf(m.Path, ref.Line, t.FQ(),
			"missing argument for %q", ref.Name)
		return
	}
	for i, arg := range ref.Args {
		argType := c.argType(m, t, arg, locals)
		if argType == "" || argType == "any" {
			continue
		}
		want := c.normalizeIn(owner, fn.Params[i].Type)
		if !compatible(argType, want) {
			c.Sink.Errorf(m.Path, ref.Line, t.FQ(),
				"argument %d to %q has incompatible type %q; expected %q",
				i+1, ref.Name, argType, want)
		}
	}
}

func (c *Checker) argType(m *graph.Module, t Target, arg string, locals map[string]string) string {
	switch {
	case arg == "int" || arg == "str":
		return arg
	case strings.HasPrefix(arg, "name:"):
		// Resolved without reporting: an undefined name argument is also
		// recorded as a read and diagnosed there.
		if v, ok := c.resolveValue(m, t, strings.TrimPrefix(arg, "name:"), 0, locals, false); ok {
			return v.typ
		}
		return ""
	default:
		return ""
	}
}

func (c *Checker) assign(locals map[string]string, name, typ string) {
	if name == "" {
		return
	}
	if typ == "" {
		typ = "any"
	}
	locals[name] = typ
}

func compatible(got, want string) bool {
	if got == "" || want == "" || got == "any" || want == "any" {
		return true
	}
	return got == want
}
