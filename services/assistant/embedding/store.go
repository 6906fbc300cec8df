// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

// =============================================================================
// CacheStore — Vector Persistence
// =============================================================================
//
// Embedding vectors are expensive to compute but cheap to store. This store
// persists them in BadgerDB between process restarts so repeated runs over
// the same catalog never re-pay embedding cost.
//
// Design choices:
//
//	1. One key per text hash (not one blob per corpus): the cache is shared
//	   by every component — exemplar warm-up, resolver re-ranks, live query
//	   embedding — and those working sets overlap heavily. Per-key entries
//	   let each component hit exactly what it needs.
//
//	2. The cache key already includes the model name (see CacheKey), so a
//	   model switch is an automatic miss. No invalidation API exists; stale
//	   entries age out through BadgerDB's native TTL.
//
//	3. Writes are atomic per key: BadgerDB transactions mean a cancelled
//	   caller can never leave a torn vector behind.
//
// Storage layout:
//
//	assistant/emb/v1/{cacheKey}  →  gob-encoded []float32
//	                                TTL: 30 days

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// cacheDefaultTTL is the lifetime of a persisted vector. Catalog texts are
// re-embedded well within 30 days whenever they are still in use, so longer
// retention only accumulates dead entries.
const cacheDefaultTTL = 30 * 24 * time.Hour

// CacheKeyPrefix is prepended to the content hash to form the BadgerDB key.
// Versioned (v1) to allow future encoding changes without collision.
const CacheKeyPrefix = "assistant/emb/v1/"

// errStoreMiss distinguishes "key not found" from a genuine storage error.
var errStoreMiss = errors.New("store miss")

// CacheStore persists embedding vectors across process restarts.
//
// # Description
//
// All methods are nil-receiver-tolerant at the call sites: the Cache checks
// for a nil CacheStore and runs in-memory-only, which is the correct mode
// for tests and for deployments without a cache directory configured.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CacheStore interface {
	// Load retrieves one vector. Returns (nil, nil) on miss (absent or TTL
	// expired) and (nil, error) on storage failure.
	Load(ctx context.Context, key string) ([]float32, error)

	// SaveBatch persists a set of vectors in one transaction. Persistence
	// failure is non-fatal for callers: vectors are already in RAM.
	SaveBatch(ctx context.Context, vectors map[string][]float32) error

	// Close releases underlying resources.
	Close() error
}

// BadgerCacheStore implements CacheStore backed by an owned BadgerDB
// directory.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerCacheStore struct {
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// OpenBadgerCacheStore opens (creating if needed) the vector cache at path.
//
// # Inputs
//
//   - path: BadgerDB directory. Must not be empty.
//   - ttl: Lifetime for each entry. Pass 0 to use the default (30 days).
//   - logger: Logger for hit/miss diagnostics. May be nil.
func OpenBadgerCacheStore(path string, ttl time.Duration, logger *slog.Logger) (*BadgerCacheStore, error) {
	if path == "" {
		return nil, errors.New("embedding cache store: path must not be empty")
	}
	if ttl <= 0 {
		ttl = cacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(path).WithLogger(nil)
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache at %s: %w", path, err)
	}
	return &BadgerCacheStore{db: db, ttl: ttl, logger: logger}, nil
}

// Load retrieves one persisted vector, or (nil, nil) on miss.
func (s *BadgerCacheStore) Load(ctx context.Context, key string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(CacheKeyPrefix + key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errStoreMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errStoreMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding store load: %w", err)
	}

	var vec []float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vec); err != nil {
		return nil, fmt.Errorf("embedding store decode: %w", err)
	}
	return vec, nil
}

// SaveBatch persists vectors in one transaction with the configured TTL.
func (s *BadgerCacheStore) SaveBatch(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *dgbadger.Txn) error {
		for key, vec := range vectors {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(vec); err != nil {
				return fmt.Errorf("gob encode %s: %w", shortKey(key), err)
			}
			entry := dgbadger.NewEntry([]byte(CacheKeyPrefix+key), buf.Bytes()).WithTTL(s.ttl)
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("set %s: %w", shortKey(key), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("embedding store save: %w", err)
	}

	s.logger.Debug("embedding store: saved batch",
		slog.Int("vector_count", len(vectors)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// Close flushes and closes the underlying BadgerDB.
func (s *BadgerCacheStore) Close() error {
	return s.db.Close()
}

// shortKey returns the first 8 characters of a cache key for log display.
func shortKey(k string) string {
	if len(k) > 8 {
		return k[:8] + "..."
	}
	return k
}
