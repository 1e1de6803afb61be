package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for the two record types.
const (
	prefixMeta = "m:" // metadata records
	prefixTree = "t:" // serialized tree blobs
)

// BadgerStore is a BadgerDB-backed cache store.
type BadgerStore struct {
	db *badger.DB
	mu sync.RWMutex
}

// OpenBadger opens or creates the cache database at the given path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// ReadMetadata returns the metadata for a module, or nil when absent.
func (s *BadgerStore) ReadMetadata(ctx context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var meta *Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMeta + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			meta = &Metadata{}
			return json.Unmarshal(val, meta)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", id, err)
	}
	return meta, nil
}

// ReadTree returns the serialized tree for a module, or nil when absent.
func (s *BadgerStore) ReadTree(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tree []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTree + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		tree, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading tree for %s: %w", id, err)
	}
	return tree, nil
}

// Write stores the metadata and tree for one module in a single
// transaction.
func (s *BadgerStore) Write(ctx context.Context, meta *Metadata, tree []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", meta.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixMeta+meta.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(prefixTree+meta.ID), tree)
	})
	if err != nil {
		return fmt.Errorf("writing cache for %s: %w", meta.ID, err)
	}
	return nil
}

// Delete removes a module's records.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixMeta + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixTree + id))
	})
}

// SweepVersion drops every record stamped with a different tool version.
func (s *BadgerStore) SweepVersion(ctx context.Context, toolVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixMeta)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta Metadata
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil || meta.ToolVersion != toolVersion {
				stale = append(stale, meta.ID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweeping cache: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range stale {
			if err := txn.Delete([]byte(prefixMeta + id)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(prefixTree + id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats reports the number of cached modules and total tree bytes.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixMeta)
		metaIt := txn.NewIterator(opts)
		for metaIt.Rewind(); metaIt.Valid(); metaIt.Next() {
			stats.Modules++
		}
		metaIt.Close()

		opts.Prefix = []byte(prefixTree)
		treeIt := txn.NewIterator(opts)
		defer treeIt.Close()
		for treeIt.Rewind(); treeIt.Valid(); treeIt.Next() {
			stats.TreeBytes += int(treeIt.Item().ValueSize())
		}
		return nil
	})
	return stats, err
}

// Clear removes all records.
func (s *BadgerStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DropAll()
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
