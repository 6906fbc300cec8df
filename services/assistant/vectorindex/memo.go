// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

// =============================================================================
// Memoizer — Index Reuse by Corpus Hash
// =============================================================================
//
// Resolver re-ranks rebuild an index per request, but consecutive requests in
// one conversation usually carry the same candidate pool. The memoizer keys
// built indexes by a SHA256 digest of the corpus (IDs, vector bytes, and
// build options), so an unchanged pool reuses the previous graph.
//
// Capacity is a small FIFO. The working set is conversations in flight, not
// a long-tail cache, so recency tracking buys nothing over insertion order.

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
)

// defaultMemoCapacity bounds retained indexes. Exemplar corpora plus a few
// dozen live conversation pools fit comfortably.
const defaultMemoCapacity = 32

// Memoizer caches built indexes by corpus content hash.
//
// # Thread Safety
//
// Safe for concurrent use.
type Memoizer struct {
	capacity int

	mu    sync.Mutex
	byKey map[string]*Index
	order []string
}

// NewMemoizer creates a Memoizer. capacity <= 0 takes the default (32).
func NewMemoizer(capacity int) *Memoizer {
	if capacity <= 0 {
		capacity = defaultMemoCapacity
	}
	return &Memoizer{
		capacity: capacity,
		byKey:    make(map[string]*Index, capacity),
	}
}

// BuildOrReuse returns a cached index for this exact corpus and options, or
// builds, caches, and returns a new one.
func (m *Memoizer) BuildOrReuse(entries []Entry, opts Options) (*Index, error) {
	key := corpusHash(entries, opts)

	m.mu.Lock()
	if idx, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		return idx, nil
	}
	m.mu.Unlock()

	// Build outside the lock. A racing build of the same corpus wastes one
	// construction but stays correct.
	idx, err := Build(entries, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[key]; ok {
		return existing, nil
	}
	if len(m.order) >= m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.byKey, oldest)
	}
	m.byKey[key] = idx
	m.order = append(m.order, key)
	return idx, nil
}

// Len reports the number of cached indexes.
func (m *Memoizer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// corpusHash digests entry IDs, vector contents, and build options into a
// deterministic cache key.
func corpusHash(entries []Entry, opts Options) string {
	opts = opts.withDefaults()
	h := sha256.New()

	var scratch [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		h.Write(scratch[:])
	}
	h.Write([]byte(opts.Metric))
	writeInt(opts.Connectivity)
	writeInt(opts.BuildBreadth)
	writeInt(opts.SearchBreadth)

	for _, e := range entries {
		writeInt(e.ID)
		writeInt(len(e.Vector))
		for _, f := range e.Vector {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(f))
			h.Write(scratch[:4])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
