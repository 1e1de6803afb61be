package analysis

import (
	"strings"

	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/graph"
)

// TriggerEdge records that a target must be re-checked when a trigger
// fires. Triggers are fully-qualified names in angle brackets, e.g.
// "<b.f>".
type TriggerEdge struct {
	Trigger string
	Target  Target
}

// Trigger renders a fully-qualified name as a trigger key.
func Trigger(fq string) string {
	return "<" + fq + ">"
}

// CollectDeps switches dependency-edge collection on or off. While on,
// every name the checker resolves is recorded as an edge from that name's
// trigger to the target being checked.
func (c *Checker) CollectDeps(on bool) {
	c.collect = on
	if on && c.edges == nil {
		c.edges = []TriggerEdge{}
	}
}

// Edges returns the collected edges and resets the collection buffer.
func (c *Checker) Edges() []TriggerEdge {
	out := c.edges
	c.edges = []TriggerEdge{}
	return out
}

// emit records one dependency edge for the target currently being checked.
// Triggers into builtins are excluded: the standard library only changes on
// a tool-version rebuild, and mapping it would swamp the dependency map.
func (c *Checker) emit(fq string) {
	if !c.collect || fq == "" {
		return
	}
	if fq == graph.BuiltinsModule || strings.HasPrefix(fq, graph.BuiltinsModule+".") {
		return
	}
	c.edges = append(c.edges, TriggerEdge{Trigger: Trigger(fq), Target: c.cur})
}

// classEdges emits the inheritance edges for the module's classes: the
// module top level depends on each base class's shape and on every member
// that could be inherited from it.
func (c *Checker) classEdges(m *graph.Module) {
	for _, cls := range m.Tree.Classes {
		mro := cls.MRO
		if len(mro) == 0 {
			continue
		}
		for _, baseFQ := range mro[1:] {
			c.emit(baseFQ)
			sym := c.Graph.LookupSymbol(baseFQ)
			if sym == nil || sym.Kind != ast.KindClass {
				continue
			}
			for _, attr := range sym.Class.Attrs {
				c.emit(baseFQ + "." + attr.Name)
			}
			for _, meth := range sym.Class.Methods {
				c.emit(baseFQ + "." + meth.Name)
			}
		}
	}
}
