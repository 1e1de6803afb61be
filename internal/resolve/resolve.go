// Package resolve maps module ids to source paths.
//
// A module id is a dotted name; "a.b.c" lives at a/b/c.lt or, for a
// package, a/b/c/__init__.lt under one of the search-path roots.
package resolve

import (
	"os"
	"path/filepath"
	"strings"
)

// Extension is the source file extension for lattice modules.
const Extension = ".lt"

// InitFile is the file name that marks a directory as a package.
const InitFile = "__init__" + Extension

// Source is one root source handed to the builder: a module id, an
// optional explicit path, and optional in-memory text that overrides the
// file contents.
type Source struct {
	ID   string
	Path string
	Text []byte
}

// Resolver locates module source files on a search path.
type Resolver struct {
	searchPath []string
}

// New creates a resolver over the given search-path roots.
func New(searchPath []string) *Resolver {
	return &Resolver{searchPath: searchPath}
}

// SearchPath returns the configured roots.
func (r *Resolver) SearchPath() []string {
	return r.searchPath
}

// FindModule returns the source path for a module id, or "" when the module
// cannot be located.
func (r *Resolver) FindModule(id string) string {
	rel := filepath.Join(strings.Split(id, ".")...)
	for _, root := range r.searchPath {
		modPath := filepath.Join(root, rel+Extension)
		if isFile(modPath) {
			return modPath
		}
		pkgPath := filepath.Join(root, rel, InitFile)
		if isFile(pkgPath) {
			return pkgPath
		}
	}
	return ""
}

// FindModulesRecursive returns a Source for every module under the given
// package, walking the package directory on each search-path root. Ignored
// directories (per ignore patterns loaded by the caller) are skipped by the
// walker in walker.go.
func (r *Resolver) FindModulesRecursive(pkg string) ([]Source, error) {
	var out []Source
	rel := filepath.Join(strings.Split(pkg, ".")...)
	for _, root := range r.searchPath {
		dir := filepath.Join(root, rel)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		found, err := walkPackage(root, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// ModuleID derives the module id for a source path relative to a
// search-path root, or "" when the path is under none of the roots.
func (r *Resolver) ModuleID(path string) string {
	for _, root := range r.searchPath {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = strings.TrimSuffix(rel, Extension)
		rel = strings.TrimSuffix(rel, string(filepath.Separator)+"__init__")
		if rel == "__init__" {
			continue
		}
		return strings.ReplaceAll(rel, string(filepath.Separator), ".")
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
