// Package analysis implements the semantic-analysis and type-checking
// passes invoked by the build and fine-grained engines, and the Target
// type naming re-checkable units.
package analysis

import (
	"github.com/corbin-ks/lattice/internal/graph"
)

// TargetKind discriminates the closed set of re-checkable unit kinds.
// Every switch over TargetKind must handle all three.
type TargetKind int

const (
	// TargetModule is a module's top level.
	TargetModule TargetKind = iota

	// TargetFunc is a module-level function body.
	TargetFunc

	// TargetMethod is a method body, qualified by its enclosing class.
	TargetMethod
)

// Target identifies one re-checkable unit.
type Target struct {
	Kind   TargetKind
	Module string
	Class  string // enclosing class for TargetMethod
	Name   string // function or method name; empty for TargetModule
}

// FQ renders the target's fully-qualified name.
func (t Target) FQ() string {
	switch t.Kind {
	case TargetModule:
		return t.Module
	case TargetFunc:
		return t.Module + "." + t.Name
	case TargetMethod:
		return t.Module + "." + t.Class + "." + t.Name
	default:
		return t.Module
	}
}

// ModuleTargets enumerates the re-checkable units of a parsed module: the
// top level plus every function and method body.
func ModuleTargets(m *graph.Module) []Target {
	if m.Tree == nil {
		return nil
	}
	targets := []Target{{Kind: TargetModule, Module: m.ID}}
	for _, f := range m.Tree.Funcs {
		targets = append(targets, Target{Kind: TargetFunc, Module: m.ID, Name: f.Name})
	}
	for _, c := range m.Tree.Classes {
		for _, meth := range c.Methods {
			targets = append(targets, Target{
				Kind:   TargetMethod,
				Module: m.ID,
				Class:  c.Name,
				Name:   meth.Name,
			})
		}
	}
	return targets
}

// TargetByFQ finds the target with the given fully-qualified name within a
// module, reporting false when the unit no longer exists.
func TargetByFQ(m *graph.Module, fq string) (Target, bool) {
	for _, t := range ModuleTargets(m) {
		if t.FQ() == fq {
			return t, true
		}
	}
	return Target{}, false
}
