// Package cmd provides CLI command implementations for lattice.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/corbin-ks/lattice/internal/build"
	"github.com/corbin-ks/lattice/internal/config"
	"github.com/corbin-ks/lattice/internal/fine"
	"github.com/corbin-ks/lattice/internal/graph"
	"github.com/corbin-ks/lattice/internal/logging"
	"github.com/corbin-ks/lattice/internal/resolve"
	"github.com/corbin-ks/lattice/internal/storage"
	"github.com/corbin-ks/lattice/internal/watch"
)

// Version is set at build time via ldflags.
var Version = "dev"

// BuildCmd runs a full batch build over the module graph.
type BuildCmd struct {
	Modules []string `arg:"" optional:"" help:"Module ids to build; defaults to everything on the search path"`
	Notes   bool     `help:"Include context notes in diagnostics"`
}

// Run executes the build command.
func (c *BuildCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	sources, err := rootSources(cfg, c.Modules)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := build.Build(ctx, sources, build.Options{
		SearchPath:  cfg.SearchPath,
		Store:       store,
		ToolVersion: Version,
		WithNotes:   cfg.Notes || c.Notes,
		Log:         log,
	})
	if err != nil {
		var berr *build.Error
		if errors.As(err, &berr) {
			printMessages(berr.Messages)
			return fmt.Errorf("build failed with blocking errors")
		}
		return err
	}

	printMessages(res.Messages)
	if res.Sink.HasErrors() {
		color.Red("\n%d diagnostics", len(res.Messages))
		os.Exit(1)
	}

	fromCache := 0
	for _, id := range res.Graph.IDs() {
		if res.Graph.Get(id).FromCache {
			fromCache++
		}
	}
	color.Green("✓ Build complete")
	fmt.Printf("  Modules:     %d\n", res.Graph.Len())
	fmt.Printf("  Components:  %d\n", len(res.Order))
	fmt.Printf("  From cache:  %d\n", fromCache)
	fmt.Printf("  Duration:    %.2fs\n", time.Since(start).Seconds())
	return nil
}

// CheckCmd builds and reports diagnostics without a summary, exiting
// non-zero when any error is found.
type CheckCmd struct {
	Modules []string `arg:"" optional:"" help:"Module ids to check"`
	Notes   bool     `help:"Include context notes in diagnostics"`
}

// Run executes the check command.
func (c *CheckCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	sources, err := rootSources(cfg, c.Modules)
	if err != nil {
		return err
	}

	res, err := build.Build(ctx, sources, build.Options{
		SearchPath:  cfg.SearchPath,
		Store:       store,
		ToolVersion: Version,
		WithNotes:   cfg.Notes || c.Notes,
		Log:         log,
	})
	if err != nil {
		var berr *build.Error
		if errors.As(err, &berr) {
			printMessages(berr.Messages)
			os.Exit(1)
		}
		return err
	}

	printMessages(res.Messages)
	if res.Sink.HasErrors() {
		os.Exit(1)
	}
	return nil
}

// WatchCmd builds once, then re-checks incrementally on file changes.
type WatchCmd struct {
	Modules []string `arg:"" optional:"" help:"Module ids to seed the graph with"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	sources, err := rootSources(cfg, c.Modules)
	if err != nil {
		return err
	}

	res, err := build.Build(ctx, sources, build.Options{
		SearchPath:  cfg.SearchPath,
		Store:       store,
		ToolVersion: Version,
		WithNotes:   cfg.Notes,
		Log:         log,
	})
	if err != nil {
		var berr *build.Error
		if errors.As(err, &berr) {
			printMessages(berr.Messages)
			return fmt.Errorf("initial build failed with blocking errors")
		}
		return err
	}
	printMessages(res.Messages)

	w := &watch.Watcher{
		Manager:  fine.NewManager(res),
		Resolver: res.Resolver,
		Debounce: time.Duration(cfg.DebounceMs) * time.Millisecond,
		Log:      log,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// DepsCmd dumps the trigger dependency map and the import cycles.
type DepsCmd struct {
	Modules []string `arg:"" optional:"" help:"Module ids to build the map for"`
	Cycles  bool     `help:"List import cycles instead of the trigger map"`
}

// Run executes the deps command.
func (c *DepsCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	sources, err := rootSources(cfg, c.Modules)
	if err != nil {
		return err
	}

	res, err := build.Build(ctx, sources, build.Options{
		SearchPath:  cfg.SearchPath,
		ToolVersion: Version,
		Log:         log,
	})
	if err != nil {
		var berr *build.Error
		if errors.As(err, &berr) {
			printMessages(berr.Messages)
			return fmt.Errorf("build failed with blocking errors")
		}
		return err
	}

	if c.Cycles {
		printCycles(res.Graph)
		return nil
	}

	mgr := fine.NewManager(res)
	for _, line := range mgr.DepMapDump() {
		fmt.Println(line)
	}
	return nil
}

// printCycles lists import cycles, computed independently of the engine's
// own component collapse.
func printCycles(g *graph.Graph) {
	dg := simple.NewDirectedGraph()
	ids := g.IDs()
	index := make(map[string]int64, len(ids))
	for i, id := range ids {
		index[id] = int64(i)
		dg.AddNode(simple.Node(int64(i)))
	}
	for _, id := range ids {
		for _, dep := range g.Get(id).Deps {
			to, ok := index[dep]
			if !ok || index[id] == to {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(index[id]), simple.Node(to)))
		}
	}

	found := 0
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		found++
		members := make([]string, len(scc))
		for i, n := range scc {
			members[i] = ids[n.ID()]
		}
		sort.Strings(members)
		fmt.Printf("cycle %d: %v\n", found, members)
	}
	if found == 0 {
		fmt.Println("no import cycles")
	}
}

// CacheCmd inspects or clears the analysis cache.
type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show cache contents"`
	Clear CacheClearCmd `cmd:"" help:"Delete all cache records"`
}

// CacheStatsCmd shows cache contents.
type CacheStatsCmd struct{}

// Run executes the cache stats command.
func (c *CacheStatsCmd) Run(cli *CLI) error {
	cfg, _, err := cli.setup()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("cache disabled")
		return nil
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}
	fmt.Printf("Modules:     %d\n", stats.Modules)
	fmt.Printf("Tree bytes:  %d\n", stats.TreeBytes)
	return nil
}

// CacheClearCmd deletes all cache records.
type CacheClearCmd struct{}

// Run executes the cache clear command.
func (c *CacheClearCmd) Run(cli *CLI) error {
	cfg, _, err := cli.setup()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("cache disabled")
		return nil
	}
	defer func() { _ = store.Close() }()

	if err := store.Clear(context.Background()); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	color.Green("✓ Cache cleared")
	return nil
}

// rootSources expands the requested module ids into build roots. With no
// ids given, every module on the search path is a root.
func rootSources(cfg *config.Config, modules []string) ([]resolve.Source, error) {
	if len(modules) > 0 {
		out := make([]resolve.Source, 0, len(modules))
		for _, id := range modules {
			out = append(out, resolve.Source{ID: id})
		}
		return out, nil
	}
	r := resolve.New(cfg.SearchPath)
	sources, err := r.FindModulesRecursive("")
	if err != nil {
		return nil, fmt.Errorf("scanning search path: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no modules found under %v", cfg.SearchPath)
	}
	return sources, nil
}

// openStore opens the badger cache, or returns nil when caching is off.
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.NoCache {
		return nil, nil
	}
	dir := cfg.CacheDir
	if dir == "" {
		root := "."
		if len(cfg.SearchPath) > 0 {
			root = cfg.SearchPath[0]
		}
		dir = filepath.Join(root, ".lattice", "cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	store, err := storage.OpenBadger(dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

func printMessages(msgs []string) {
	for _, m := range msgs {
		fmt.Println(m)
	}
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Config  string           `short:"c" help:"Config file path" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose output"`

	// Commands
	Build BuildCmd `cmd:"" help:"Batch build the module graph"`
	Check CheckCmd `cmd:"" help:"Type check and print diagnostics"`
	Watch WatchCmd `cmd:"" help:"Build once, then re-check incrementally on changes"`
	Deps  DepsCmd  `cmd:"" help:"Dump the trigger dependency map or import cycles"`
	Cache CacheCmd `cmd:"" help:"Inspect or clear the analysis cache"`
}

// setup loads configuration and builds the logger shared by all commands.
func (c *CLI) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	switch cfg.Verbosity {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if c.Verbose {
		level = slog.LevelDebug
	}
	return cfg, logging.New(os.Stderr, level), nil
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses the given arguments and runs the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("lattice"),
		kong.Description("Incremental build and type-check engine for lattice modules"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(c)
}
