package fine

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/corbin-ks/lattice/internal/analysis"
	"github.com/corbin-ks/lattice/internal/ast"
	"github.com/corbin-ks/lattice/internal/build"
	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
	"github.com/corbin-ks/lattice/internal/storage"
)

// maxPropagationSteps caps the trigger fixpoint loop. Exceeding it means
// the propagation does not converge, which is an engine bug.
const maxPropagationSteps = 1000

// Change names one changed file: the module id and its path. An empty path
// is resolved against the search path.
type Change struct {
	ID   string
	Path string
}

// Manager owns the live module graph between update calls. Update is
// serialized by an internal mutex; everything else is single-threaded.
type Manager struct {
	mu sync.Mutex

	graph    *graph.Graph
	deps     *DepMap
	sink     *diag.Sink
	loader   *graph.Loader
	analyzer *analysis.Analyzer
	checker  *analysis.Checker
	opts     build.Options

	// snapshots holds each module's last committed symbol fingerprints,
	// the baseline the next reparse diffs against.
	snapshots map[string]map[string]string

	// pending maps modules whose last reparse hit a blocking error to the
	// failing path. They keep their previous good tree and are retried
	// first on the next call.
	pending map[string]string

	// deferred holds newly referenced modules not yet admitted to the
	// graph. One is admitted per call to bound per-call cost.
	deferred []Change
}

// NewManager builds the incremental engine over a completed batch build,
// seeding the dependency map by re-walking every checked target.
func NewManager(res *build.Result) *Manager {
	dm := NewDepMap()
	snaps := make(map[string]map[string]string)

	// Edge collection reuses the checker's resolution logic. A scratch
	// sink keeps the seeding walk from duplicating the build's
	// diagnostics.
	seeder := analysis.NewChecker(res.Graph, diag.NewSink())
	seeder.CollectDeps(true)
	for _, id := range res.Graph.IDs() {
		mod := res.Graph.Get(id)
		if mod.Tree == nil || id == graph.BuiltinsModule {
			continue
		}
		for _, t := range analysis.ModuleTargets(mod) {
			seeder.CheckTarget(mod, t)
			dm.SetTarget(id, t.FQ(), triggerKeys(seeder.Edges()))
		}
		if mod.Table != nil {
			snaps[id] = mod.Table.Snapshot()
		}
	}

	checker := analysis.NewChecker(res.Graph, res.Sink)
	checker.TypeMap = res.TypeMap
	checker.CollectDeps(true)

	return &Manager{
		graph:    res.Graph,
		deps:     dm,
		sink:     res.Sink,
		analyzer: &analysis.Analyzer{Graph: res.Graph, Sink: res.Sink},
		checker:  checker,
		opts:     res.Options,
		loader: &graph.Loader{
			Resolver:    res.Resolver,
			Parser:      res.Parser,
			Store:       res.Options.Store,
			ToolVersion: res.Options.ToolVersion,
			Sink:        res.Sink,
			Log:         res.Options.Log,
		},
		snapshots: snaps,
		pending:   make(map[string]string),
	}
}

// DepMapDump renders the current dependency map for debugging.
func (m *Manager) DepMapDump() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps.Dump()
}

// Update re-processes the changed modules, propagates fired triggers to a
// fixpoint, and returns the full rendered message list for the new state.
// Blocked reparses are retried first; deferred new modules are admitted
// one per call. An error return means an internal fault, never a user
// diagnostic.
func (m *Manager) Update(ctx context.Context, changed []Change) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.takeQueue(changed)
	erroredBefore := m.sink.ErroredTargets()

	var (
		fired       []string
		reprocessed = make(map[string]bool)
		newBudget   = 1
	)
	for _, ch := range queue {
		f, did, err := m.processChange(ctx, ch, &newBudget)
		if err != nil {
			return nil, err
		}
		fired = append(fired, f...)
		if did {
			reprocessed[ch.ID] = true
		}
	}

	// Targets that reported errors before this update are reconsidered
	// even without a fired trigger: their failure may have recorded no
	// dependency edge to route the fix through.
	if len(reprocessed) > 0 {
		for _, fq := range erroredBefore {
			if fq == "" {
				continue
			}
			owner, _ := m.graph.SplitFQ(fq)
			if owner == "" {
				owner = fq
			}
			if reprocessed[owner] {
				continue
			}
			mod := m.graph.Get(owner)
			if mod == nil || mod.Tree == nil {
				continue
			}
			fired = append(fired, m.recheckTarget(mod, fq)...)
		}
	}

	if err := m.propagate(fired); err != nil {
		return nil, err
	}
	return m.sink.Messages(m.opts.WithNotes), nil
}

// takeQueue orders this call's work: blocked reparses first, then the
// caller's changes, then previously deferred new modules. Duplicate ids
// keep their first position; a caller-supplied path wins over a remembered
// one.
func (m *Manager) takeQueue(changed []Change) []Change {
	var queue []Change
	seen := make(map[string]int)

	add := func(ch Change) {
		if i, ok := seen[ch.ID]; ok {
			if ch.Path != "" {
				queue[i].Path = ch.Path
			}
			return
		}
		seen[ch.ID] = len(queue)
		queue = append(queue, ch)
	}

	pendingIDs := make([]string, 0, len(m.pending))
	for id := range m.pending {
		pendingIDs = append(pendingIDs, id)
	}
	sort.Strings(pendingIDs)
	for _, id := range pendingIDs {
		add(Change{ID: id, Path: m.pending[id]})
	}
	for _, ch := range changed {
		add(ch)
	}
	for _, ch := range m.deferred {
		add(ch)
	}
	m.deferred = nil
	return queue
}

// processChange handles one changed module: deletion, admission of a new
// module, or reparse of an existing one. It returns the fired triggers and
// whether the module was actually reprocessed.
func (m *Manager) processChange(ctx context.Context, ch Change, newBudget *int) ([]string, bool, error) {
	old := m.graph.Get(ch.ID)
	path := ch.Path
	if path == "" && old != nil {
		path = old.Path
	}
	if path == "" {
		path = m.loader.Resolver.FindModule(ch.ID)
	}

	if old == nil {
		if *newBudget == 0 {
			m.deferred = append(m.deferred, ch)
			return nil, false, nil
		}
		*newBudget--
	}

	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if old != nil {
				f, rerr := m.remove(ctx, old)
				return f, rerr == nil, rerr
			}
			m.sink.Errorf("", 0, "", "cannot find module %q", ch.ID)
			return nil, false, nil
		}
		src = data
	} else {
		// Package directory without an init file, or a vanished module.
		disc := m.loader.Discover(ch.ID)
		if disc == nil {
			if old != nil {
				f, rerr := m.remove(ctx, old)
				return f, rerr == nil, rerr
			}
			m.sink.Errorf("", 0, "", "cannot find module %q", ch.ID)
			return nil, false, nil
		}
		src = disc.Source
	}

	return m.reprocess(ctx, ch.ID, path, src)
}

// reprocess reparses and fully re-analyzes one module, committing the new
// record only when the parse is clean. The old record survives a blocking
// parse error so other modules keep resolving against the last good tree.
func (m *Manager) reprocess(ctx context.Context, id, path string, src []byte) ([]string, bool, error) {
	old := m.graph.Get(id)
	hash := graph.HashSource(src)
	_, wasPending := m.pending[id]
	if old != nil && hash == old.SourceHash && !wasPending {
		// Same content as last committed state: nothing to do. Deferred
		// or repeated notifications must not redo completed work.
		return nil, false, nil
	}

	tree, diags := m.loader.Parser.Parse(id, path, src)
	if hasBlocking(diags) {
		if path != "" {
			m.sink.DropFile(path)
		}
		for _, d := range diags {
			m.sink.Add(d)
		}
		m.pending[id] = path
		return nil, false, nil
	}
	delete(m.pending, id)

	fresh := &graph.Module{ID: id, Path: path, Source: src, SourceHash: hash, Tree: tree}
	if err := fresh.Advance(graph.Parsed); err != nil {
		return nil, false, err
	}

	// Import edges can fail blocking (relative import with no parent);
	// resolve them against a scratch sink so the old record survives.
	scratch := diag.NewSink()
	depLoader := *m.loader
	depLoader.Sink = scratch
	depLoader.RecomputeDeps(fresh, tree)
	if scratch.HasBlockingErrors() {
		if path != "" {
			m.sink.DropFile(path)
		}
		for _, d := range diags {
			m.sink.Add(d)
		}
		m.sink.Add(firstBlocking(scratch))
		m.pending[id] = path
		return nil, false, nil
	}

	// Commit point: the record is wholesale replaced. Cross-module
	// references are fully-qualified names resolved through the graph and
	// handle table, so nothing holds a pointer into the old record.
	if path != "" {
		m.sink.DropFile(path)
	}
	for _, d := range diags {
		m.sink.Add(d)
	}
	m.graph.Add(fresh)

	for _, d := range fresh.Deps {
		if m.graph.Has(d) {
			continue
		}
		disc := m.loader.Discover(d)
		if disc == nil {
			m.sink.Errorf(path, fresh.DepLines[d], "", "cannot find module %q", d)
			continue
		}
		m.deferred = append(m.deferred, Change{ID: d, Path: disc.Path})
	}

	oldSnap := m.snapshots[id]
	var oldTable *ast.SymbolTable
	if old != nil {
		oldTable = old.Table
	}
	if err := m.analyzer.BindNames(fresh); err != nil {
		return nil, false, err
	}
	// Merge: still-present symbols were re-interned above, so existing
	// handles now point at the replacements. Removed names dangle.
	for name := range oldSnap {
		if fresh.Table.Lookup(name) == nil {
			m.graph.Handles.Drop(ast.FQ(id, name))
		}
	}
	if err := m.analyzer.AnalyzeClasses(fresh); err != nil {
		return nil, false, err
	}

	oldOwned := m.deps.TargetsOfModule(id)
	current := make(map[string]bool)
	for _, t := range analysis.ModuleTargets(fresh) {
		fq := t.FQ()
		current[fq] = true
		m.checker.CheckTarget(fresh, t)
		m.deps.SetTarget(id, fq, triggerKeys(m.checker.Edges()))
	}
	for _, fq := range oldOwned {
		if !current[fq] {
			m.deps.RemoveTarget(fq)
			m.sink.DropTarget(fq)
			delete(m.checker.TypeMap, fq)
		}
	}
	if err := fresh.Advance(graph.TypeChecked); err != nil {
		return nil, false, err
	}

	newSnap := fresh.Table.Snapshot()
	m.snapshots[id] = newSnap

	var fired []string
	for _, name := range ast.DiffSnapshots(oldSnap, newSnap) {
		fq := ast.FQ(id, name)
		fired = append(fired, analysis.Trigger(fq))
		// A changed class also fires its changed members: attribute and
		// method resolutions record member-level triggers.
		var oldSym *ast.Symbol
		if oldTable != nil {
			oldSym = oldTable.Lookup(name)
		}
		oldMembers := memberFingerprints(oldSym)
		newMembers := memberFingerprints(fresh.Table.Lookup(name))
		for _, member := range ast.DiffSnapshots(oldMembers, newMembers) {
			fired = append(fired, analysis.Trigger(fq+"."+member))
		}
	}
	if old == nil {
		fired = append(fired, analysis.Trigger(id))
	}

	m.persist(ctx, fresh)
	return fired, true, nil
}

// remove handles module deletion: the record leaves the graph, its handles
// dangle, its cache entry is deleted, and every importer is re-examined.
func (m *Manager) remove(ctx context.Context, old *graph.Module) ([]string, error) {
	id := old.ID
	fired := []string{analysis.Trigger(id)}
	for name := range m.snapshots[id] {
		fq := ast.FQ(id, name)
		m.graph.Handles.Drop(fq)
		fired = append(fired, analysis.Trigger(fq))
	}
	sort.Strings(fired)

	for _, fq := range m.deps.TargetsOfModule(id) {
		m.sink.DropTarget(fq)
		delete(m.checker.TypeMap, fq)
	}
	m.deps.RemoveModule(id, func(fq string) string {
		owner, _ := m.graph.SplitFQ(fq)
		return owner
	})
	delete(m.snapshots, id)
	delete(m.pending, id)
	if old.Path != "" {
		m.sink.DropFile(old.Path)
	}

	importers := m.graph.Importers(id)
	m.graph.Remove(id)

	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil {
			m.opts.Log.Warn("cannot delete cache entry", "module", id, "error", err)
		}
	}

	// Importers keep their dependency edge on the vanished module; their
	// uses of it now fail resolution and must be re-reported.
	for _, imp := range importers {
		mod := m.graph.Get(imp)
		if mod == nil || mod.Tree == nil {
			continue
		}
		for _, t := range analysis.ModuleTargets(mod) {
			fired = append(fired, m.recheckTarget(mod, t.FQ())...)
		}
	}
	return fired, nil
}

// propagate drains the trigger worklist: each fired trigger re-checks the
// targets mapped to it, which may fire further triggers. The step ceiling
// turns non-convergence into a loud fault instead of a hang.
func (m *Manager) propagate(fired []string) error {
	queue := append([]string(nil), fired...)
	steps := 0
	for len(queue) > 0 {
		steps++
		if steps > maxPropagationSteps {
			return diag.Internalf(
				"trigger propagation exceeded %d steps", maxPropagationSteps)
		}
		tr := queue[0]
		queue = queue[1:]
		for _, fq := range m.deps.Targets(tr) {
			owner := m.graph.Get(m.deps.ModuleOf(fq))
			if owner == nil || owner.Tree == nil {
				continue
			}
			queue = append(queue, m.recheckTarget(owner, fq)...)
		}
	}
	return nil
}

// recheckTarget strips one target's diagnostics and re-runs type checking
// on it alone, replacing its dependency edges. A changed externally
// visible type fires the target's own trigger.
func (m *Manager) recheckTarget(mod *graph.Module, fq string) []string {
	t, ok := analysis.TargetByFQ(mod, fq)
	if !ok {
		m.deps.RemoveTarget(fq)
		m.sink.DropTarget(fq)
		delete(m.checker.TypeMap, fq)
		return nil
	}

	m.sink.DropTarget(fq)
	if t.Kind == analysis.TargetModule {
		// Base classes may live in the module that just changed.
		m.analyzer.RecomputeMRO(mod)
	}
	before := m.checker.TypeMap[fq]
	m.checker.CheckTarget(mod, t)
	m.deps.SetTarget(mod.ID, fq, triggerKeys(m.checker.Edges()))
	if after := m.checker.TypeMap[fq]; after != before {
		return []string{analysis.Trigger(fq)}
	}
	return nil
}

// persist writes the module's cache entry, skipped while it has errors so
// the next batch build falls back to the source hash.
func (m *Manager) persist(ctx context.Context, mod *graph.Module) {
	if m.opts.Store == nil || mod.Path == "" {
		return
	}
	if m.sink.FileHasErrors(mod.Path) {
		return
	}
	blob, err := json.Marshal(mod.Tree)
	if err != nil {
		m.opts.Log.Warn("cannot serialize tree", "module", mod.ID, "error", err)
		return
	}
	meta := &storage.Metadata{
		ID:            mod.ID,
		Path:          mod.Path,
		Deps:          append([]string(nil), mod.Deps...),
		SourceHash:    mod.SourceHash,
		InterfaceHash: build.InterfaceHash(mod.Table),
		ToolVersion:   m.opts.ToolVersion,
	}
	if err := m.opts.Store.Write(ctx, meta, blob); err != nil {
		m.opts.Log.Warn("cannot write cache", "module", mod.ID, "error", err)
	}
}

// memberFingerprints maps a class symbol's members to their shapes, for
// member-level trigger diffing. Non-class symbols have no members.
func memberFingerprints(sym *ast.Symbol) map[string]string {
	if sym == nil || sym.Kind != ast.KindClass {
		return nil
	}
	out := make(map[string]string)
	for _, a := range sym.Class.Attrs {
		out[a.Name] = "attr:" + a.Type
	}
	for _, meth := range sym.Class.Methods {
		out[meth.Name] = "method" + meth.Signature()
	}
	return out
}

func triggerKeys(edges []analysis.TriggerEdge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Trigger)
	}
	return out
}

func hasBlocking(diags []diag.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == diag.SeverityBlocking {
			return true
		}
	}
	return false
}

func firstBlocking(s *diag.Sink) diag.Diagnostic {
	for _, d := range s.All() {
		if d.Severity == diag.SeverityBlocking {
			return d
		}
	}
	return diag.Diagnostic{Severity: diag.SeverityBlocking, Message: "unknown blocking fault"}
}
