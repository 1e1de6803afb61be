package build

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corbin-ks/lattice/internal/graph"
	"github.com/corbin-ks/lattice/internal/resolve"
	"github.com/corbin-ks/lattice/internal/storage"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func testOptions(root string, store storage.Store) Options {
	return Options{
		SearchPath:  []string{root},
		Store:       store,
		ToolVersion: "test",
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func sources(ids ...string) []resolve.Source {
	out := make([]resolve.Source, len(ids))
	for i, id := range ids {
		out[i] = resolve.Source{ID: id}
	}
	return out
}

func TestBuildAdvancesAllModules(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "import app\n\ndef run() -> int:\n    r = app.start()\n    return r\n",
		"app.lt":  "import util\n\ndef start() -> int:\n    r = util.now()\n    return r\n",
		"util.lt": "def now() -> int:\n    pass\n",
	})

	res, err := Build(context.Background(), sources("main"), testOptions(root, nil))
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	for _, id := range res.Graph.IDs() {
		assert.Equal(t, graph.TypeChecked, res.Graph.Get(id).State, id)
	}
	assert.Equal(t, "module", res.TypeMap["main"])
	assert.NotEmpty(t, res.TypeMap["util.now"])
}

func TestBuildCycleProcessedAsUnit(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.lt": "import b\n\ndef fa() -> int:\n    r = b.fb()\n    return r\n",
		"b.lt": "import a\n\ndef fb() -> int:\n    pass\n\ndef back() -> int:\n    r = a.fa()\n    return r\n",
	})

	res, err := Build(context.Background(), sources("a"), testOptions(root, nil))
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	assert.True(t, res.Assignment.SameComponent("a", "b"))
	assert.Equal(t, graph.TypeChecked, res.Graph.Get("a").State)
	assert.Equal(t, graph.TypeChecked, res.Graph.Get("b").State)
}

func TestBuildBlockingAbort(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"bad.lt": "def broken(:\n",
	})

	res, err := Build(context.Background(), sources("bad"), testOptions(root, nil))
	assert.Nil(t, res)

	var buildErr *Error
	require.ErrorAs(t, err, &buildErr)
	require.NotEmpty(t, buildErr.Messages)
	assert.Contains(t, buildErr.Messages[0], "syntax error")
}

func TestBuildMissingImportIsNonBlocking(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "import ghost\n\ndef run() -> int:\n    pass\n",
	})

	res, err := Build(context.Background(), sources("main"), testOptions(root, nil))
	require.NoError(t, err)
	require.NotEmpty(t, res.Messages)
	assert.Contains(t, res.Messages[0], `cannot find module "ghost"`)
	assert.Equal(t, graph.TypeChecked, res.Graph.Get("main").State)
}

func TestBuildCacheRoundTrip(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "import util\n\ndef run() -> int:\n    r = util.now()\n    return r\n",
		"util.lt": "class Clock:\n    tick: int\n\ndef now() -> int:\n    pass\n",
	})
	store := storage.NewMemoryStore()

	first, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.Empty(t, first.Messages)
	assert.False(t, first.Graph.Get("util").FromCache)

	second, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.Empty(t, second.Messages)

	t.Run("LoadedFromCache", func(t *testing.T) {
		assert.True(t, second.Graph.Get("main").FromCache)
		assert.True(t, second.Graph.Get("util").FromCache)
		// Builtins is embedded and always rebuilt from source.
		assert.False(t, second.Graph.Get(graph.BuiltinsModule).FromCache)
	})

	t.Run("IdenticalInterfaces", func(t *testing.T) {
		for _, id := range []string{"main", "util"} {
			a := InterfaceHash(first.Graph.Get(id).Table)
			b := InterfaceHash(second.Graph.Get(id).Table)
			assert.Equal(t, a, b, id)
			assert.NotEmpty(t, a, id)
		}
	})

	t.Run("IdenticalTypeMap", func(t *testing.T) {
		assert.Equal(t, first.TypeMap, second.TypeMap)
	})

	t.Run("RecomputedMRO", func(t *testing.T) {
		clock := second.Graph.Get("util").Tree.Class("Clock")
		require.NotNil(t, clock)
		assert.Equal(t, []string{"util.Clock"}, clock.MRO)
	})
}

func TestBuildStalenessPropagates(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "import util\n\ndef run() -> int:\n    r = util.now(1)\n    return r\n",
		"util.lt": "def now(x: int) -> int:\n    pass\n",
	})
	store := storage.NewMemoryStore()

	first, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.Empty(t, first.Messages)

	// Change the callee's signature: the dependent must be re-checked even
	// though its own source is untouched.
	writeTree(t, root, map[string]string{
		"util.lt": "def now(x: str) -> int:\n    pass\n",
	})

	second, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)

	assert.False(t, second.Graph.Get("util").FromCache)
	assert.False(t, second.Graph.Get("main").FromCache)
	require.NotEmpty(t, second.Messages)
	assert.Contains(t, second.Messages[0],
		`argument 1 to "util.now" has incompatible type "int"; expected "str"`)
}

func TestBuildBodyOnlyChangeKeepsDependentsCached(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "import util\n\ndef run() -> int:\n    r = util.now()\n    return r\n",
		"util.lt": "def now() -> int:\n    pass\n",
	})
	store := storage.NewMemoryStore()

	first, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.Empty(t, first.Messages)

	// A body-only edit: the callee is rebuilt, but its interface hash is
	// unchanged, so the dependent stays on the cached path.
	writeTree(t, root, map[string]string{
		"util.lt": "def now() -> int:\n    # fast path\n    pass\n",
	})

	second, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.Empty(t, second.Messages)

	assert.False(t, second.Graph.Get("util").FromCache)
	assert.True(t, second.Graph.Get("main").FromCache)
	assert.Equal(t, InterfaceHash(first.Graph.Get("util").Table),
		InterfaceHash(second.Graph.Get("util").Table))
}

func TestBuildSkipsCachingErroredFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "def run() -> int:\n    r = missing()\n    return r\n",
	})
	store := storage.NewMemoryStore()

	first, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	require.NotEmpty(t, first.Messages)

	meta, err := store.ReadMetadata(context.Background(), "main")
	require.NoError(t, err)
	assert.Nil(t, meta, "errored modules are not cached")

	second, err := Build(context.Background(), sources("main"), testOptions(root, store))
	require.NoError(t, err)
	assert.False(t, second.Graph.Get("main").FromCache)
	assert.Equal(t, first.Messages, second.Messages)
}

func TestBuildToolVersionSweep(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.lt": "x: int = 1\n",
	})
	store := storage.NewMemoryStore()

	opts := testOptions(root, store)
	_, err := Build(context.Background(), sources("main"), opts)
	require.NoError(t, err)

	opts.ToolVersion = "test-next"
	second, err := Build(context.Background(), sources("main"), opts)
	require.NoError(t, err)
	assert.False(t, second.Graph.Get("main").FromCache,
		"a tool-version bump invalidates the whole cache")

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Modules, "old-version records are swept")
}
