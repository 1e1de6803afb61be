// Package storage provides the analysis cache store.
//
// The cache is a crash-tolerant key-value store keyed by module id. Each
// module has one metadata record and one serialized tree blob. Writes for
// modules with outstanding errors are skipped by the build layer, so
// staleness is detected on the next load via hash and version checks rather
// than guaranteed synchronously.
package storage

import "context"

// Metadata is the per-module cache record consulted before loading a tree.
type Metadata struct {
	// ID is the module id the record belongs to.
	ID string `json:"id"`

	// Path is the source path the module was built from.
	Path string `json:"path"`

	// Deps are the module's direct dependencies, implicit edges included.
	Deps []string `json:"deps"`

	// SourceHash is the SHA-256 of the source text the tree was built from.
	SourceHash string `json:"source_hash"`

	// InterfaceHash fingerprints the module's exported symbol shapes.
	InterfaceHash string `json:"interface_hash"`

	// ToolVersion stamps the analyzer version; a mismatch invalidates the
	// whole cache universe.
	ToolVersion string `json:"tool_version"`
}

// Stats summarizes store contents.
type Stats struct {
	Modules   int
	TreeBytes int
}

// Store is the cache interface. Implementations must tolerate concurrent
// readers but the engine issues writes from a single goroutine.
type Store interface {
	// ReadMetadata returns the metadata for a module, or nil when absent.
	ReadMetadata(ctx context.Context, id string) (*Metadata, error)

	// ReadTree returns the serialized tree blob for a module, or nil when
	// absent.
	ReadTree(ctx context.Context, id string) ([]byte, error)

	// Write stores the metadata record and tree blob for one module.
	Write(ctx context.Context, meta *Metadata, tree []byte) error

	// Delete removes a module's metadata and tree.
	Delete(ctx context.Context, id string) error

	// SweepVersion drops every record whose tool version differs.
	SweepVersion(ctx context.Context, toolVersion string) error

	// Stats reports store contents.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
