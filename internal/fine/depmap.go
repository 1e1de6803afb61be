// Package fine implements the incremental update engine: given a small
// changed-file set it re-processes the minimal set of modules, diffs symbol
// snapshots to find fired triggers, and propagates their effects through
// the dependency map to a fixpoint.
package fine

import (
	"sort"
	"strings"
)

// DepMap routes triggers to the re-checkable units depending on them. Each
// target's contribution is tracked separately so a re-check can replace its
// edges wholesale.
type DepMap struct {
	byTrigger map[string]map[string]bool // trigger -> target FQs
	byTarget  map[string][]string        // target FQ -> its triggers
	module    map[string]string          // target FQ -> owning module id
}

// NewDepMap creates an empty dependency map.
func NewDepMap() *DepMap {
	return &DepMap{
		byTrigger: make(map[string]map[string]bool),
		byTarget:  make(map[string][]string),
		module:    make(map[string]string),
	}
}

// SetTarget replaces the target's trigger edges with the given set.
func (d *DepMap) SetTarget(moduleID, targetFQ string, triggers []string) {
	d.RemoveTarget(targetFQ)
	d.module[targetFQ] = moduleID
	seen := make(map[string]bool, len(triggers))
	for _, tr := range triggers {
		if seen[tr] {
			continue
		}
		seen[tr] = true
		set := d.byTrigger[tr]
		if set == nil {
			set = make(map[string]bool)
			d.byTrigger[tr] = set
		}
		set[targetFQ] = true
		d.byTarget[targetFQ] = append(d.byTarget[targetFQ], tr)
	}
}

// RemoveTarget removes all of the target's edges.
func (d *DepMap) RemoveTarget(targetFQ string) {
	for _, tr := range d.byTarget[targetFQ] {
		set := d.byTrigger[tr]
		delete(set, targetFQ)
		if len(set) == 0 {
			delete(d.byTrigger, tr)
		}
	}
	delete(d.byTarget, targetFQ)
	delete(d.module, targetFQ)
}

// RemoveModule removes every target owned by the module, and every trigger
// whose owning module is exactly that module. ownerOf resolves a
// fully-qualified name to its owning module id; a dotted-prefix match is
// not enough, since a trigger like <b.sub.f> belongs to the submodule
// b.sub and must survive the removal of b.
func (d *DepMap) RemoveModule(moduleID string, ownerOf func(fq string) string) {
	for fq, owner := range d.module {
		if owner == moduleID {
			d.RemoveTarget(fq)
		}
	}
	for tr, set := range d.byTrigger {
		fq := strings.TrimSuffix(strings.TrimPrefix(tr, "<"), ">")
		if ownerOf(fq) != moduleID {
			continue
		}
		for target := range set {
			d.dropEdge(target, tr)
		}
		delete(d.byTrigger, tr)
	}
}

func (d *DepMap) dropEdge(targetFQ, trigger string) {
	cur := d.byTarget[targetFQ]
	out := cur[:0]
	for _, tr := range cur {
		if tr != trigger {
			out = append(out, tr)
		}
	}
	d.byTarget[targetFQ] = out
}

// Targets returns the targets depending on the trigger, sorted.
func (d *DepMap) Targets(trigger string) []string {
	set := d.byTrigger[trigger]
	out := make([]string, 0, len(set))
	for fq := range set {
		out = append(out, fq)
	}
	sort.Strings(out)
	return out
}

// TargetsOfModule returns the targets owned by the module, sorted.
func (d *DepMap) TargetsOfModule(moduleID string) []string {
	var out []string
	for fq, owner := range d.module {
		if owner == moduleID {
			out = append(out, fq)
		}
	}
	sort.Strings(out)
	return out
}

// ModuleOf returns the owning module of a target, or "".
func (d *DepMap) ModuleOf(targetFQ string) string {
	return d.module[targetFQ]
}

// Len returns the number of distinct triggers.
func (d *DepMap) Len() int {
	return len(d.byTrigger)
}

// Dump renders the full trigger -> targets mapping for debugging, sorted
// both ways.
func (d *DepMap) Dump() []string {
	triggers := make([]string, 0, len(d.byTrigger))
	for tr := range d.byTrigger {
		triggers = append(triggers, tr)
	}
	sort.Strings(triggers)
	out := make([]string, 0, len(triggers))
	for _, tr := range triggers {
		out = append(out, tr+" -> "+strings.Join(d.Targets(tr), ", "))
	}
	return out
}
