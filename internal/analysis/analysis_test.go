package analysis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corbin-ks/lattice/internal/diag"
	"github.com/corbin-ks/lattice/internal/graph"
	"github.com/corbin-ks/lattice/internal/parser"
	"github.com/corbin-ks/lattice/internal/resolve"
	"github.com/corbin-ks/lattice/internal/scc"
)

// analyze loads the given sources and runs the full pass pipeline over
// them in dependency order, returning the graph, the sink, and the checker.
func analyze(t *testing.T, files map[string]string, roots ...string) (*graph.Graph, *diag.Sink, *Checker) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	sink := diag.NewSink()
	loader := &graph.Loader{
		Resolver: resolve.New([]string{root}),
		Parser:   parser.New(),
		Sink:     sink,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	g := graph.New()
	sources := make([]resolve.Source, len(roots))
	for i, id := range roots {
		sources[i] = resolve.Source{ID: id}
	}
	require.NoError(t, loader.Load(context.Background(), g, sources))
	require.False(t, sink.HasBlockingErrors(), "fixture must load cleanly: %v", sink.Messages(false))

	order, _, err := scc.TopoOrder(g)
	require.NoError(t, err)

	analyzer := &Analyzer{Graph: g, Sink: sink}
	checker := NewChecker(g, sink)
	for _, comp := range order {
		for _, id := range comp.Members {
			require.NoError(t, analyzer.BindNames(g.Get(id)))
		}
		for _, id := range comp.Members {
			require.NoError(t, analyzer.AnalyzeClasses(g.Get(id)))
		}
		for _, id := range comp.Members {
			require.NoError(t, checker.CheckModule(g.Get(id)))
		}
	}
	return g, sink, checker
}

func TestMRODiamond(t *testing.T) {
	t.Parallel()
	g, sink, _ := analyze(t, map[string]string{
		"shapes.lt": `class A:
    pass

class B(A):
    pass

class C(A):
    pass

class D(B, C):
    pass
`,
	}, "shapes")
	assert.False(t, sink.HasErrors(), "%v", sink.Messages(false))

	d := g.Get("shapes").Tree.Class("D")
	require.NotNil(t, d)
	assert.Equal(t, []string{"shapes.D", "shapes.B", "shapes.C", "shapes.A"}, d.MRO)
}

func TestMROInconsistent(t *testing.T) {
	t.Parallel()
	_, sink, _ := analyze(t, map[string]string{
		"bad.lt": `class A:
    pass

class B:
    pass

class X(A, B):
    pass

class Y(B, A):
    pass

class Z(X, Y):
    pass
`,
	}, "bad")

	require.True(t, sink.HasErrors())
	found := false
	for _, msg := range sink.Messages(false) {
		if strings.Contains(msg, "cannot determine consistent method resolution order") {
			found = true
		}
	}
	assert.True(t, found, "%v", sink.Messages(false))
}

func TestMROUndefinedBase(t *testing.T) {
	t.Parallel()
	_, sink, _ := analyze(t, map[string]string{
		"m.lt": "class C(Missing):\n    pass\n",
	}, "m")

	require.True(t, sink.HasErrors())
	assert.Contains(t, sink.Messages(false)[0], `base class "Missing" of "C" is not defined`)
}

func TestCrossModuleInheritance(t *testing.T) {
	t.Parallel()
	g, sink, _ := analyze(t, map[string]string{
		"base.lt": `class Animal:
    name: str

    def label(self) -> str:
        pass
`,
		"zoo.lt": `import base

class Dog(base.Animal):
    pass

def describe(d: Dog) -> str:
    r = d.label()
    return r
`,
	}, "zoo")
	assert.False(t, sink.HasErrors(), "%v", sink.Messages(false))

	dog := g.Get("zoo").Tree.Class("Dog")
	require.NotNil(t, dog)
	assert.Equal(t, []string{"zoo.Dog", "base.Animal"}, dog.MRO)
}

func TestCheckCallDiagnostics(t *testing.T) {
	t.Parallel()

	t.Run("Clean", func(t *testing.T) {
		_, sink, checker := analyze(t, map[string]string{
			"b.lt": "def helper(x: int) -> str:\n    pass\n",
			"a.lt": "import b\n\ndef use() -> str:\n    r = b.helper(1)\n    return r\n",
		}, "a")
		assert.False(t, sink.HasErrors(), "%v", sink.Messages(false))
		assert.Equal(t, "module", checker.TypeMap["a"])
		assert.NotEmpty(t, checker.TypeMap["a.use"])
		assert.NotEmpty(t, checker.TypeMap["b.helper"])
	})

	t.Run("TooManyArguments", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"b.lt": "def helper(x: int) -> str:\n    pass\n",
			"a.lt": "import b\n\ndef use() -> str:\n    r = b.helper(1, 2)\n    return r\n",
		}, "a")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0], `too many arguments for "b.helper"`)
	})

	t.Run("MissingArgument", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"b.lt": "def helper(x: int) -> str:\n    pass\n",
			"a.lt": "import b\n\ndef use() -> str:\n    r = b.helper()\n    return r\n",
		}, "a")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0], `missing argument for "b.helper"`)
	})

	t.Run("IncompatibleArgument", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"b.lt": "def helper(x: int) -> str:\n    pass\n",
			"a.lt": "import b\n\ndef use() -> str:\n    r = b.helper(\"nope\")\n    return r\n",
		}, "a")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0],
			`argument 1 to "b.helper" has incompatible type "str"; expected "int"`)
	})

	t.Run("UndefinedName", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"a.lt": "def use() -> none:\n    ghost(1)\n",
		}, "a")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0], `name "ghost" is not defined`)
		assert.Equal(t, []string{"a.use"}, sink.ErroredTargets())
	})
}

func TestCheckBinOp(t *testing.T) {
	t.Parallel()

	t.Run("IntAddition", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"m.lt": "def add(a: int, b: int) -> int:\n    c = a + b\n    return c\n",
		}, "m")
		assert.False(t, sink.HasErrors(), "%v", sink.Messages(false))
	})

	t.Run("MixedOperands", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"m.lt": "def join(s: str, n: int) -> str:\n    c = s + n\n    return c\n",
		}, "m")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0],
			`unsupported operand types for +: "str" and "int"`)
	})

	t.Run("NoDunder", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"m.lt": "class Empty:\n    pass\n\ndef h(e: Empty, f: Empty) -> none:\n    x = e + f\n",
		}, "m")
		require.True(t, sink.HasErrors())
		assert.Contains(t, sink.Messages(false)[0], "unsupported operand type for +")
	})

	t.Run("UserDefinedDunder", func(t *testing.T) {
		_, sink, _ := analyze(t, map[string]string{
			"m.lt": `class Vec:
    def __add__(self, other: Vec) -> Vec:
        pass

def sum(a: Vec, b: Vec) -> Vec:
    c = a + b
    return c
`,
		}, "m")
		assert.False(t, sink.HasErrors(), "%v", sink.Messages(false))
	})
}

func TestEdgeCollection(t *testing.T) {
	t.Parallel()
	g, _, _ := analyze(t, map[string]string{
		"b.lt": "def helper(x: int) -> str:\n    pass\n\nclass Box:\n    v: int\n",
		"a.lt": `import b

class Crate(b.Box):
    pass

def use() -> str:
    r = b.helper(1)
    print(r)
    return r
`,
	}, "a")

	collector := NewChecker(g, diag.NewSink())
	collector.CollectDeps(true)
	a := g.Get("a")

	t.Run("FunctionEdges", func(t *testing.T) {
		target, ok := TargetByFQ(a, "a.use")
		require.True(t, ok)
		collector.Edges() // reset
		collector.CheckTarget(a, target)

		triggers := triggerSet(collector.Edges())
		assert.Contains(t, triggers, "<b.helper>")
		// Builtins never enter the dependency map.
		assert.NotContains(t, triggers, "<builtins.print>")
	})

	t.Run("InheritanceEdges", func(t *testing.T) {
		target, ok := TargetByFQ(a, "a")
		require.True(t, ok)
		collector.Edges() // reset
		collector.CheckTarget(a, target)

		triggers := triggerSet(collector.Edges())
		assert.Contains(t, triggers, "<b.Box>")
		assert.Contains(t, triggers, "<b.Box.v>", "inherited members are edges too")
	})

	t.Run("CollectionOff", func(t *testing.T) {
		quiet := NewChecker(g, diag.NewSink())
		target, _ := TargetByFQ(a, "a.use")
		quiet.CheckTarget(a, target)
		assert.Empty(t, quiet.Edges())
	})
}

func triggerSet(edges []TriggerEdge) map[string]bool {
	out := make(map[string]bool, len(edges))
	for _, e := range edges {
		out[e.Trigger] = true
	}
	return out
}

