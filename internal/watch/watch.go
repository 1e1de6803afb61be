// Package watch monitors the search-path roots for source changes and
// feeds debounced batches into the fine-grained update engine.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/corbin-ks/lattice/internal/fine"
	"github.com/corbin-ks/lattice/internal/resolve"
)

// DefaultDebounce is the batching window between the first observed change
// and the update call.
const DefaultDebounce = 500 * time.Millisecond

var ignoreDirs = map[string]bool{
	".git":         true,
	".lattice":     true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
}

// Watcher drives incremental updates from filesystem events.
type Watcher struct {
	Manager  *fine.Manager
	Resolver *resolve.Resolver
	Debounce time.Duration
	Log      *slog.Logger

	// OnMessages receives the rendered diagnostics after each update.
	// Nil prints them to stdout.
	OnMessages func([]string)
}

// Run watches the search-path roots until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	for _, root := range w.Resolver.SearchPath() {
		matcher := loadGitignoreMatcher(root)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return nil
			}
			if skipDir(root, path, info.Name(), matcher) {
				return filepath.SkipDir
			}
			return fw.Add(path)
		})
		if err != nil {
			return fmt.Errorf("setting up watcher: %w", err)
		}
	}

	changed := make(map[string]string) // module id -> path
	timer := time.NewTimer(debounce)
	timer.Stop()

	w.Log.Info("watching for changes", "roots", strings.Join(w.Resolver.SearchPath(), ","))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, serr := os.Stat(event.Name); serr == nil && info.IsDir() {
					_ = fw.Add(event.Name)
					continue
				}
			}
			if !strings.HasSuffix(event.Name, resolve.Extension) {
				continue
			}
			id := w.Resolver.ModuleID(event.Name)
			if id == "" {
				continue
			}
			changed[id] = event.Name
			timer.Reset(debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("watch error", "error", err)

		case <-timer.C:
			if len(changed) == 0 {
				continue
			}
			batch := make([]fine.Change, 0, len(changed))
			for id, path := range changed {
				batch = append(batch, fine.Change{ID: id, Path: path})
			}
			changed = make(map[string]string)

			msgs, err := w.Manager.Update(ctx, batch)
			if err != nil {
				return fmt.Errorf("incremental update: %w", err)
			}
			w.report(msgs, len(batch))
		}
	}
}

func (w *Watcher) report(msgs []string, n int) {
	if w.OnMessages != nil {
		w.OnMessages(msgs)
		return
	}
	w.Log.Info("updated", "changed", n, "diagnostics", len(msgs))
	for _, m := range msgs {
		fmt.Println(m)
	}
}

// skipDir reports whether a directory is excluded from watching.
func skipDir(root, path, name string, matcher gitignore.Matcher) bool {
	if ignoreDirs[name] {
		return true
	}
	if matcher == nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return matcher.Match(strings.Split(rel, string(filepath.Separator)), true)
}

// loadGitignoreMatcher reads the root .gitignore, or nil when absent.
func loadGitignoreMatcher(root string) gitignore.Matcher {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	if len(patterns) == 0 {
		return nil
	}
	return gitignore.NewMatcher(patterns)
}
