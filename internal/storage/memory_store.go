package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory cache store used in tests and for cacheless
// builds.
type MemoryStore struct {
	mu    sync.RWMutex
	metas map[string]*Metadata
	trees map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metas: make(map[string]*Metadata),
		trees: make(map[string][]byte),
	}
}

// ReadMetadata returns the metadata for a module, or nil when absent.
func (s *MemoryStore) ReadMetadata(ctx context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metas[id]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

// ReadTree returns the serialized tree for a module, or nil when absent.
func (s *MemoryStore) ReadTree(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.trees[id]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(tree))
	copy(cp, tree)
	return cp, nil
}

// Write stores the metadata and tree for one module.
func (s *MemoryStore) Write(ctx context.Context, meta *Metadata, tree []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.metas[meta.ID] = &cp
	blob := make([]byte, len(tree))
	copy(blob, tree)
	s.trees[meta.ID] = blob
	return nil
}

// Delete removes a module's records.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metas, id)
	delete(s.trees, id)
	return nil
}

// SweepVersion drops every record stamped with a different tool version.
func (s *MemoryStore) SweepVersion(ctx context.Context, toolVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, meta := range s.metas {
		if meta.ToolVersion != toolVersion {
			delete(s.metas, id)
			delete(s.trees, id)
		}
	}
	return nil
}

// Stats reports store contents.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Modules: len(s.metas)}
	for _, tree := range s.trees {
		stats.TreeBytes += len(tree)
	}
	return stats, nil
}

// Clear removes all records.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas = make(map[string]*Metadata)
	s.trees = make(map[string][]byte)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
