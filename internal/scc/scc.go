// Package scc collapses the module graph into strongly connected
// components and orders them for processing.
//
// The component computation is the path-based algorithm run iteratively
// with an explicit stack and boundary markers, so arbitrarily deep import
// chains cannot overflow the goroutine stack. Components come out
// dependencies-first, which is already a valid processing order; TopoOrder
// additionally re-derives the order by Kahn extraction over the condensed
// graph and treats any residue as an engine fault, since condensation must
// leave an acyclic graph.
package scc

import (
	"sort"

	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
)

// Component is one strongly connected component of the module graph,
// processed as a single atomic unit.
type Component struct {
	// Members are the component's module ids in first-discovered order.
	Members []string
}

// Contains reports whether the component includes the module.
func (c Component) Contains(id string) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Assignment maps each module id to the index of its component.
type Assignment map[string]int

// SameComponent reports whether two modules are mutually reachable.
func (a Assignment) SameComponent(x, y string) bool {
	cx, okx := a[x]
	cy, oky := a[y]
	return okx && oky && cx == cy
}

// Condense computes the strongly connected components of the graph,
// emitted dependencies-first.
func Condense(g *graph.Graph) ([]Component, Assignment) {
	var (
		counter  int
		num      = make(map[string]int)
		assigned = Assignment{}
		vertex   []string // path-based S stack
		boundary []int    // boundary markers into vertex (P stack)
		comps    []Component
	)

	type frame struct {
		v    string
		deps []string
		next int
	}

	visit := func(root string) {
		var stack []frame

		enter := func(v string) {
			num[v] = counter
			counter++
			vertex = append(vertex, v)
			boundary = append(boundary, len(vertex)-1)
			stack = append(stack, frame{v: v, deps: g.Get(v).Deps})
		}

		enter(root)
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(f.deps) {
				w := f.deps[f.next]
				f.next++
				if !g.Has(w) || w == f.v {
					continue
				}
				if _, seen := num[w]; !seen {
					enter(w)
					continue
				}
				if _, done := assigned[w]; !done {
					// w is on the path: retract the boundary stack to the
					// component containing w.
					for len(boundary) > 0 && num[vertex[boundary[len(boundary)-1]]] > num[w] {
						boundary = boundary[:len(boundary)-1]
					}
				}
				continue
			}

			// Exit f.v.
			if len(boundary) > 0 && vertex[boundary[len(boundary)-1]] == f.v {
				start := boundary[len(boundary)-1]
				boundary = boundary[:len(boundary)-1]
				members := make([]string, len(vertex)-start)
				copy(members, vertex[start:])
				vertex = vertex[:start]

				sort.Slice(members, func(i, j int) bool {
					return g.DiscoveryIndex(members[i]) < g.DiscoveryIndex(members[j])
				})
				for _, m := range members {
					assigned[m] = len(comps)
				}
				comps = append(comps, Component{Members: members})
			}
			stack = stack[:len(stack)-1]
		}
	}

	for _, id := range g.IDs() {
		if _, seen := num[id]; !seen {
			visit(id)
		}
	}
	return comps, assigned
}

// TopoOrder returns the components in dependency order via Kahn extraction:
// repeatedly take a component with no unresolved dependency, breaking ties
// by first-discovered order. A non-empty residue means a cycle survived
// condensation, which is an internal fault.
func TopoOrder(g *graph.Graph) ([]Component, Assignment, error) {
	comps, assigned := Condense(g)

	// Component-level dependency counts, self-references discarded.
	waiting := make([]map[int]bool, len(comps))
	dependents := make(map[int][]int)
	for i := range comps {
		waiting[i] = make(map[int]bool)
	}
	for i, c := range comps {
		for _, m := range c.Members {
			for _, d := range g.Get(m).Deps {
				j, ok := assigned[d]
				if !ok || j == i {
					continue
				}
				if !waiting[i][j] {
					waiting[i][j] = true
					dependents[j] = append(dependents[j], i)
				}
			}
		}
	}

	discovery := func(i int) int {
		best := g.Len()
		for _, m := range comps[i].Members {
			if idx := g.DiscoveryIndex(m); idx < best {
				best = idx
			}
		}
		return best
	}

	extracted := make([]bool, len(comps))
	var order []Component
	for len(order) < len(comps) {
		pick := -1
		for i := range comps {
			if extracted[i] || len(waiting[i]) > 0 {
				continue
			}
			if pick < 0 || discovery(i) < discovery(pick) {
				pick = i
			}
		}
		if pick < 0 {
			return nil, nil, diag.Internalf(
				"cycle survived component collapse: %d of %d components unordered",
				len(comps)-len(order), len(comps))
		}
		extracted[pick] = true
		order = append(order, comps[pick])
		for _, dep := range dependents[pick] {
			delete(waiting[dep], pick)
		}
	}
	return order, assigned, nil
}
