package resolve

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Directories never descended into, in addition to .gitignore patterns.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".lattice":     true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
}

// walkPackage walks one package directory and collects every module source
// under it, honoring the root's .gitignore.
func walkPackage(root, dir string) ([]Source, error) {
	patterns := loadGitignore(root)
	matcher := gitignore.NewMatcher(patterns)

	var out []Source
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		parts := strings.Split(rel, string(filepath.Separator))

		if d.IsDir() {
			if defaultIgnoreDirs[d.Name()] || matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, Extension) || matcher.Match(parts, false) {
			return nil
		}

		id := strings.TrimSuffix(rel, Extension)
		id = strings.TrimSuffix(id, string(filepath.Separator)+"__init__")
		out = append(out, Source{
			ID:   strings.ReplaceAll(id, string(filepath.Separator), "."),
			Path: path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadGitignore reads the root .gitignore, returning nil when absent.
func loadGitignore(root string) []gitignore.Pattern {
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
	return patterns
}
