// Package build drives batch processing of the module graph.
//
// Modules advance through the state machine in topological order of their
// strongly connected components. Each component is processed as one atomic
// unit in lockstep: every member completes a pass before any member begins
// the next, so no member ever consults partial results from a sibling.
// Components whose cache entries are valid (and whose transitive
// dependencies are all fresh) are loaded from cache instead of reprocessed.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/corbin-ks/lattice/internal/analysis"
	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
	"github.com/corbin-ks/lattice/internal/parser"
	"github.com/corbin-ks/lattice/internal/resolve"
	"github.com/corbin-ks/lattice/internal/scc"
	"github.com/corbin-ks/lattice/internal/storage"
)

// Options configures a build.
type Options struct {
	// SearchPath lists the roots modules are resolved against.
	SearchPath []string

	// Store is the analysis cache; nil disables caching.
	Store storage.Store

	// ToolVersion stamps cache records; a mismatch invalidates everything.
	ToolVersion string

	// WithNotes includes context notes when rendering diagnostics.
	WithNotes bool

	Log *slog.Logger
}

// Result is the outcome of a successful build.
type Result struct {
	Graph      *graph.Graph
	Order      []scc.Component
	Assignment scc.Assignment
	TypeMap    map[string]string

	// Messages are the rendered non-blocking diagnostics.
	Messages []string

	Sink     *diag.Sink
	Resolver *resolve.Resolver
	Parser   *parser.Parser
	Options  Options
}

// Error is a failed build: a blocking fault with the full rendered message
// list.
type Error struct {
	Messages []string
}

func (e *Error) Error() string {
	return strings.Join(e.Messages, "\n")
}

// Build loads, orders, and processes the module graph reachable from the
// given root sources. A blocking error aborts with *Error and no partial
// result; internal faults surface as wrapped diag.ErrInternal.
func Build(ctx context.Context, sources []resolve.Source, opts Options) (*Result, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	sink := diag.NewSink()
	res := resolve.New(opts.SearchPath)
	p := parser.New()
	loader := &graph.Loader{
		Resolver:    res,
		Parser:      p,
		Store:       opts.Store,
		ToolVersion: opts.ToolVersion,
		Sink:        sink,
		Log:         opts.Log,
	}

	if opts.Store != nil {
		if err := opts.Store.SweepVersion(ctx, opts.ToolVersion); err != nil {
			return nil, err
		}
	}

	g := graph.New()
	if err := loader.Load(ctx, g, sources); err != nil {
		return nil, err
	}
	if sink.HasBlockingErrors() {
		return nil, &Error{Messages: sink.Messages(opts.WithNotes)}
	}

	order, assigned, err := scc.TopoOrder(g)
	if err != nil {
		return nil, err
	}

	checker := analysis.NewChecker(g, sink)
	proc := &processor{
		ctx:      ctx,
		graph:    g,
		assigned: assigned,
		sink:     sink,
		checker:  checker,
		analyzer: &analysis.Analyzer{Graph: g, Sink: sink},
		parser:   p,
		opts:     opts,
	}

	for _, comp := range order {
		if err := proc.assertReady(comp); err != nil {
			return nil, err
		}
		if err := proc.process(comp); err != nil {
			return nil, err
		}
		if sink.HasBlockingErrors() {
			return nil, &Error{Messages: sink.Messages(opts.WithNotes)}
		}
	}

	return &Result{
		Graph:      g,
		Order:      order,
		Assignment: assigned,
		TypeMap:    checker.TypeMap,
		Messages:   sink.Messages(opts.WithNotes),
		Sink:       sink,
		Resolver:   res,
		Parser:     p,
		Options:    opts,
	}, nil
}

type processor struct {
	ctx      context.Context
	graph    *graph.Graph
	assigned scc.Assignment
	sink     *diag.Sink
	checker  *analysis.Checker
	analyzer *analysis.Analyzer
	parser   *parser.Parser
	opts     Options
}

// assertReady verifies the scheduling invariant: every dependency outside
// the component is already fully processed. Dependencies inside the
// component are deliberately excluded so mutually cyclic modules cannot
// deadlock each other.
func (p *processor) assertReady(comp scc.Component) error {
	for _, id := range comp.Members {
		m := p.graph.Get(id)
		for _, d := range m.Deps {
			dep := p.graph.Get(d)
			if dep == nil || p.assigned.SameComponent(id, d) {
				continue
			}
			if dep.State < graph.TypeChecked {
				return diag.Internalf(
					"no ready module: %s scheduled before dependency %s (%s)",
					id, d, dep.State)
			}
		}
	}
	return nil
}

// process runs one component through the fresh or stale path.
func (p *processor) process(comp scc.Component) error {
	if p.componentFresh(comp) {
		if p.loadFresh(comp) {
			return nil
		}
		// Cache loading failed part-way; fall through to a full rebuild.
		for _, id := range comp.Members {
			p.graph.Get(id).Fresh = false
		}
	}
	return p.processStale(comp)
}

// componentFresh reports whether every member can be served from cache:
// its own source is unchanged and each dependency outside the component
// either loaded from cache itself or was rebuilt to an identical
// interface. Cache loads cannot be split within a component: one stale
// member invalidates all of them.
func (p *processor) componentFresh(comp scc.Component) bool {
	if p.opts.Store == nil {
		return false
	}
	for _, id := range comp.Members {
		m := p.graph.Get(id)
		if !m.Fresh {
			return false
		}
		for _, d := range m.Deps {
			if !p.graph.Has(d) || p.assigned.SameComponent(id, d) {
				continue
			}
			if !p.depUsable(d) {
				return false
			}
		}
	}
	return true
}

// depUsable reports whether a processed dependency lets its dependents
// stay on the cached path. A rebuilt dependency still qualifies when its
// interface hash matches the one recorded by its last persist, so a
// body-only change does not cascade through the graph. Builtins is
// embedded in the tool: it is always rebuilt from source but never
// invalidates its dependents.
func (p *processor) depUsable(id string) bool {
	if id == graph.BuiltinsModule {
		return true
	}
	dep := p.graph.Get(id)
	if dep.FromCache {
		return true
	}
	if dep.Path != "" && p.sink.FileHasErrors(dep.Path) {
		return false
	}
	return dep.PrevInterfaceHash != "" &&
		dep.PrevInterfaceHash == InterfaceHash(dep.Table)
}

// loadFresh loads every member from cache: deserialize the tree, fix up
// cross-module references through the handle table, and recompute derived
// structural info. Returns false when any blob is missing or corrupt.
func (p *processor) loadFresh(comp scc.Component) bool {
	loaded := make([]*graph.Module, 0, len(comp.Members))
	for _, id := range comp.Members {
		m := p.graph.Get(id)
		blob, err := p.opts.Store.ReadTree(p.ctx, id)
		if err != nil || blob == nil {
			return false
		}
		var tree ast.Module
		if err := json.Unmarshal(blob, &tree); err != nil {
			return false
		}
		m.Tree = &tree
		m.FromCache = true
		loaded = append(loaded, m)
	}

	// Fix-up pass: rebuild symbol tables and re-intern handles, then
	// recompute method-resolution orders against the live graph.
	for _, m := range loaded {
		m.Table = ast.BuildSymbolTable(m.Tree)
		p.graph.Handles.InternModule(m.Table)
	}
	for _, m := range loaded {
		p.analyzer.RecomputeMRO(m)
		if err := m.Advance(graph.TypeChecked); err != nil {
			return false
		}
		for _, t := range analysis.ModuleTargets(m) {
			p.checker.TypeMap[t.FQ()] = typeMapEntry(m, t)
		}
	}
	return true
}

// processStale runs the lockstep pass discipline over the component:
// parse all, bind all, analyze classes for all, check all, persist all.
func (p *processor) processStale(comp scc.Component) error {
	members := make([]*graph.Module, 0, len(comp.Members))
	for _, id := range comp.Members {
		members = append(members, p.graph.Get(id))
	}

	for _, m := range members {
		if m.State >= graph.Parsed {
			continue
		}
		tree, diags := p.parser.Parse(m.ID, m.Path, m.Source)
		for _, d := range diags {
			p.sink.Add(d)
		}
		if p.sink.HasBlockingErrors() {
			return nil
		}
		m.Tree = tree
		if err := m.Advance(graph.Parsed); err != nil {
			return err
		}
	}

	for _, m := range members {
		if err := p.analyzer.BindNames(m); err != nil {
			return err
		}
	}
	for _, m := range members {
		if err := p.analyzer.AnalyzeClasses(m); err != nil {
			return err
		}
	}
	for _, m := range members {
		if err := p.checker.CheckModule(m); err != nil {
			return err
		}
	}

	for _, m := range members {
		p.persist(m)
	}
	return nil
}

// persist writes one module's cache entry. Modules with outstanding errors
// are skipped so the next build detects staleness by hash instead of
// trusting a bad entry.
func (p *processor) persist(m *graph.Module) {
	if p.opts.Store == nil || m.Path == "" {
		return
	}
	if p.sink.FileHasErrors(m.Path) {
		return
	}
	blob, err := json.Marshal(m.Tree)
	if err != nil {
		p.opts.Log.Warn("cannot serialize tree", "module", m.ID, "error", err)
		return
	}
	meta := &storage.Metadata{
		ID:            m.ID,
		Path:          m.Path,
		Deps:          append([]string(nil), m.Deps...),
		SourceHash:    m.SourceHash,
		InterfaceHash: InterfaceHash(m.Table),
		ToolVersion:   p.opts.ToolVersion,
	}
	if err := p.opts.Store.Write(p.ctx, meta, blob); err != nil {
		p.opts.Log.Warn("cannot write cache", "module", m.ID, "error", err)
	}
}

// InterfaceHash fingerprints a module's exported symbol shapes.
func InterfaceHash(t *ast.SymbolTable) string {
	if t == nil {
		return ""
	}
	snap := t.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(snap[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func typeMapEntry(m *graph.Module, t analysis.Target) string {
	switch t.Kind {
	case analysis.TargetModule:
		return "module"
	case analysis.TargetFunc:
		if fn := m.Tree.Func(t.Name); fn != nil {
			return fn.Signature()
		}
	case analysis.TargetMethod:
		if cls := m.Tree.Class(t.Class); cls != nil {
			if fn := cls.Method(t.Name); fn != nil {
				return fn.Signature()
			}
		}
	}
	return ""
}
