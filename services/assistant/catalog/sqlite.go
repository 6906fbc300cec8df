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
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by an embedded SQLite database.
//
// # Description
//
// The catalog schema is a single flat products table. The store only issues
// parameterized queries; field names are validated against the closed Field
// set before being interpolated, and LIKE arguments escape the SQL wildcard
// characters so user-derived mention parts can never act as patterns.
//
// modernc.org/sqlite is a pure-Go driver, so the binary stays cgo-free.
//
// # Thread Safety
//
// Safe for concurrent use; database/sql pools connections internally.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	brand    TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	city     TEXT NOT NULL DEFAULT '',
	price    REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
`

// OpenSQLite opens (creating if needed) a catalog database at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure catalog schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load bulk-upserts rows into the catalog. Loader scripts call this once at
// startup; the assistant core itself never writes.
func (s *SQLiteStore) Load(ctx context.Context, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog load: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (id, name, brand, category, city, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, brand=excluded.brand, category=excluded.category,
			city=excluded.city, price=excluded.price`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare catalog load: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Brand, r.Category, r.City, r.Price); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("load catalog row %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog load: %w", err)
	}
	return nil
}

// column validates f and returns the literal column name for interpolation.
func column(f Field) (string, error) {
	if !knownFields[f] {
		return "", ErrUnknownField
	}
	return string(f), nil
}

// escapeLike escapes LIKE wildcard characters so part text matches literally.
// The queries all declare ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Exact returns rows whose field equals value.
func (s *SQLiteStore) Exact(ctx context.Context, field Field, value string, caseSensitive bool) ([]Row, error) {
	col, err := column(field)
	if err != nil {
		return nil, err
	}
	// SQLite LOWER() only folds ASCII, which is fine here: Persian script has
	// no case, so folding only matters for latin brand names and codes.
	q := fmt.Sprintf(`SELECT id, name, brand, category, city, price FROM products WHERE %s = ?`, col)
	arg := value
	if !caseSensitive {
		q = fmt.Sprintf(`SELECT id, name, brand, category, city, price FROM products WHERE LOWER(%s) = LOWER(?)`, col)
	}
	return s.query(ctx, q, arg)
}

// ContainsAll returns rows whose field contains every part as a substring.
func (s *SQLiteStore) ContainsAll(ctx context.Context, field Field, parts []string) ([]Row, error) {
	col, err := column(field)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, name, brand, category, city, price FROM products WHERE 1=1`)
	args := make([]any, 0, len(parts))
	for _, p := range parts {
		fmt.Fprintf(&sb, ` AND %s LIKE ? ESCAPE '\'`, col)
		args = append(args, "%"+escapeLike(p)+"%")
	}
	return s.query(ctx, sb.String(), args...)
}

// Prefix returns rows whose field starts with prefix.
func (s *SQLiteStore) Prefix(ctx context.Context, field Field, prefix string) ([]Row, error) {
	col, err := column(field)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, name, brand, category, city, price FROM products WHERE %s LIKE ? ESCAPE '\'`, col)
	return s.query(ctx, q, escapeLike(prefix)+"%")
}

// PriceStatsFor returns price aggregates over rows whose field equals value.
func (s *SQLiteStore) PriceStatsFor(ctx context.Context, field Field, value string) (PriceStats, error) {
	col, err := column(field)
	if err != nil {
		return PriceStats{}, err
	}
	q := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(MIN(price), 0), COALESCE(MAX(price), 0), COALESCE(AVG(price), 0)
		FROM products WHERE LOWER(%s) = LOWER(?)`, col)

	var stats PriceStats
	row := s.db.QueryRowContext(ctx, q, value)
	if err := row.Scan(&stats.Count, &stats.Min, &stats.Max, &stats.Avg); err != nil {
		return PriceStats{}, fmt.Errorf("catalog price stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Name, &r.Brand, &r.Category, &r.City, &r.Price); err != nil {
			return nil, fmt.Errorf("catalog scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog rows: %w", err)
	}
	return out, nil
}
