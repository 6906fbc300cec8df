// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog exposes the product/brand/category catalog as a narrow,
// queryable store. The assistant core is read-mostly: it needs exact lookup,
// substring-AND narrowing, prefix matching, and simple price aggregates —
// nothing more. The storage engine behind the interface is deliberately
// replaceable (SQLite in production, in-memory in tests).
package catalog

import (
	"context"
	"errors"
)

// ErrUnknownField is returned when a query names a field the catalog does
// not expose. Field names reach queries from configuration, never from user
// input, so this is a programming/configuration error rather than a
// per-request condition.
var ErrUnknownField = errors.New("catalog: unknown field")

// Field selects which catalog column a query matches against.
type Field string

const (
	FieldName     Field = "name"
	FieldBrand    Field = "brand"
	FieldCategory Field = "category"
	FieldCity     Field = "city"
)

// knownFields is the closed set of queryable columns.
var knownFields = map[Field]bool{
	FieldName:     true,
	FieldBrand:    true,
	FieldCategory: true,
	FieldCity:     true,
}

// Row is one catalog entry. ID is the stable identifier the resolver
// ultimately returns; the remaining columns exist for matching and display.
type Row struct {
	ID       string
	Name     string
	Brand    string
	Category string
	City     string
	Price    float64
}

// PriceStats holds the simple aggregates the price-inquiry handler needs.
type PriceStats struct {
	Count int
	Min   float64
	Max   float64
	Avg   float64
}

// Store is the catalog query contract consumed by the resolver and handlers.
//
// # Description
//
// All methods are read-only and must be safe for concurrent use. Matching
// text is compared against the raw stored value; callers are responsible for
// normalizing their side of the comparison (the resolver normalizes mentions
// before querying).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Exact returns rows whose field equals value. With caseSensitive=false
	// the comparison is case-folded on both sides.
	Exact(ctx context.Context, field Field, value string, caseSensitive bool) ([]Row, error)

	// ContainsAll returns rows whose field contains every part as a
	// substring (substring-AND). An empty parts slice matches nothing.
	ContainsAll(ctx context.Context, field Field, parts []string) ([]Row, error)

	// Prefix returns rows whose field starts with prefix.
	Prefix(ctx context.Context, field Field, prefix string) ([]Row, error)

	// PriceStatsFor returns count/min/max/avg price over rows whose field
	// equals value (case-insensitive). Count 0 means no matching rows.
	PriceStatsFor(ctx context.Context, field Field, value string) (PriceStats, error)
}

// fieldOf extracts the named column value from a row.
func fieldOf(r Row, f Field) (string, error) {
	switch f {
	case FieldName:
		return r.Name, nil
	case FieldBrand:
		return r.Brand, nil
	case FieldCategory:
		return r.Category, nil
	case FieldCity:
		return r.City, nil
	default:
		return "", ErrUnknownField
	}
}
