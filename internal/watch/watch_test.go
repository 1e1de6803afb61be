package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corbin-ks/lattice/internal/build"
	"github.com/corbin-ks/lattice/internal/fine"
	"github.com/corbin-ks/lattice/internal/resolve"
)

func TestSkipDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	assert.True(t, skipDir(root, filepath.Join(root, ".git"), ".git", nil))
	assert.True(t, skipDir(root, filepath.Join(root, "x", "node_modules"), "node_modules", nil))
	assert.False(t, skipDir(root, filepath.Join(root, "pkg"), "pkg", nil))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("generated/\n"), 0o644))
	matcher := loadGitignoreMatcher(root)
	require.NotNil(t, matcher)
	assert.True(t, skipDir(root, filepath.Join(root, "generated"), "generated", matcher))
	assert.False(t, skipDir(root, filepath.Join(root, "src"), "src", matcher))
}

func TestLoadGitignoreMatcherAbsent(t *testing.T) {
	t.Parallel()
	assert.Nil(t, loadGitignoreMatcher(t.TempDir()))
}

func TestWatcherDeliversDebouncedUpdates(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	write("a.lt", "import b\n\ndef use() -> str:\n    r = b.helper(1)\n    return r\n")
	write("b.lt", "def helper(x: int) -> str:\n    pass\n")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := build.Build(context.Background(), []resolve.Source{{ID: "a"}}, build.Options{
		SearchPath:  []string{root},
		ToolVersion: "test",
		Log:         log,
	})
	require.NoError(t, err)
	require.Empty(t, res.Messages)

	got := make(chan []string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Watcher{
		Manager:    fine.NewManager(res),
		Resolver:   res.Resolver,
		Debounce:   50 * time.Millisecond,
		Log:        log,
		OnMessages: func(msgs []string) { got <- msgs },
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the root before triggering it.
	time.Sleep(200 * time.Millisecond)
	write("b.lt", "def helper(x: int, y: int) -> str:\n    pass\n")

	select {
	case msgs := <-got:
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0], `missing argument for "b.helper"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
