// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store over a fixed row set.
//
// # Description
//
// Used by tests and by small single-process deployments where the full
// catalog fits comfortably in memory. Matching is a linear scan — the
// resolver only ever queries corpora of catalog scale (thousands of rows),
// where a scan is cheaper than maintaining indexes.
//
// # Thread Safety
//
// Safe for concurrent use. Rows are copied on construction and never
// mutated afterward.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Row
}

// NewMemoryStore creates a MemoryStore over a copy of rows.
func NewMemoryStore(rows []Row) *MemoryStore {
	cp := make([]Row, len(rows))
	copy(cp, rows)
	return &MemoryStore{rows: cp}
}

// Exact returns rows whose field equals value.
func (s *MemoryStore) Exact(ctx context.Context, field Field, value string, caseSensitive bool) ([]Row, error) {
	if !knownFields[field] {
		return nil, ErrUnknownField
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, r := range s.rows {
		v, err := fieldOf(r, field)
		if err != nil {
			return nil, err
		}
		if caseSensitive {
			if v == value {
				out = append(out, r)
			}
		} else if strings.EqualFold(v, value) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ContainsAll returns rows whose field contains every part as a substring.
func (s *MemoryStore) ContainsAll(ctx context.Context, field Field, parts []string) ([]Row, error) {
	if !knownFields[field] {
		return nil, ErrUnknownField
	}
	if len(parts) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, r := range s.rows {
		v, err := fieldOf(r, field)
		if err != nil {
			return nil, err
		}
		all := true
		for _, p := range parts {
			if !strings.Contains(v, p) {
				all = false
				break
			}
		}
		if all {
			out = append(out, r)
		}
	}
	return out, nil
}

// Prefix returns rows whose field starts with prefix.
func (s *MemoryStore) Prefix(ctx context.Context, field Field, prefix string) ([]Row, error) {
	if !knownFields[field] {
		return nil, ErrUnknownField
	}
	if prefix == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, r := range s.rows {
		v, err := fieldOf(r, field)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(v, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

// PriceStatsFor returns price aggregates over rows whose field equals value
// (case-insensitive).
func (s *MemoryStore) PriceStatsFor(ctx context.Context, field Field, value string) (PriceStats, error) {
	rows, err := s.Exact(ctx, field, value, false)
	if err != nil {
		return PriceStats{}, err
	}
	var stats PriceStats
	for _, r := range rows {
		if stats.Count == 0 || r.Price < stats.Min {
			stats.Min = r.Price
		}
		if stats.Count == 0 || r.Price > stats.Max {
			stats.Max = r.Price
		}
		stats.Avg += r.Price
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Avg /= float64(stats.Count)
	}
	return stats, nil
}
