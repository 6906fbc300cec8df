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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRows = []Row{
	{ID: "id7", Name: "کمد چهار کشو", Brand: "چوبینه", Category: "کمد", City: "تهران", Price: 4500000},
	{ID: "id8", Name: "کمد دو کشو کد D14", Brand: "چوبینه", Category: "کمد", City: "مشهد", Price: 3200000},
	{ID: "id9", Name: "میز تحریر ساده", Brand: "آرتمن", Category: "میز", City: "تهران", Price: 2100000},
	{ID: "id10", Name: "Samsung Galaxy S24", Brand: "Samsung", Category: "موبایل", City: "تهران", Price: 52000000},
}

// stores returns both implementations so every contract test runs against
// each. The SQLite store uses an in-memory database per test.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	require.NoError(t, sq.Load(context.Background(), testRows))

	return map[string]Store{
		"memory": NewMemoryStore(testRows),
		"sqlite": sq,
	}
}

func TestExact_CaseSensitivity(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rows, err := s.Exact(ctx, FieldBrand, "samsung", true)
			require.NoError(t, err)
			assert.Empty(t, rows, "case-sensitive lookup must not fold case")

			rows, err = s.Exact(ctx, FieldBrand, "samsung", false)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "id10", rows[0].ID)
		})
	}
}

func TestExact_PersianName(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rows, err := s.Exact(context.Background(), FieldName, "کمد چهار کشو", true)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "id7", rows[0].ID)
		})
	}
}

func TestContainsAll_NarrowsToSingleRow(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rows, err := s.ContainsAll(ctx, FieldName, []string{"کمد", "کشو"})
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			rows, err = s.ContainsAll(ctx, FieldName, []string{"کمد", "چهار", "کشو"})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "id7", rows[0].ID)
		})
	}
}

func TestContainsAll_EmptyParts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rows, err := s.ContainsAll(context.Background(), FieldName, nil)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestContainsAll_LikeWildcardsMatchLiterally(t *testing.T) {
	rows := []Row{
		{ID: "w1", Name: "50% تخفیف کمد"},
		{ID: "w2", Name: "کمد ساده"},
	}
	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = sq.Close() }()
	require.NoError(t, sq.Load(context.Background(), rows))

	// "%" must match only the row that literally contains a percent sign.
	got, err := sq.ContainsAll(context.Background(), FieldName, []string{"50%"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].ID)
}

func TestPrefix(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rows, err := s.Prefix(context.Background(), FieldName, "کمد")
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			rows, err = s.Prefix(context.Background(), FieldName, "")
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestPriceStatsFor(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			stats, err := s.PriceStatsFor(context.Background(), FieldCategory, "کمد")
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Count)
			assert.InDelta(t, 3200000, stats.Min, 1)
			assert.InDelta(t, 4500000, stats.Max, 1)
			assert.InDelta(t, 3850000, stats.Avg, 1)
		})
	}
}

func TestUnknownField(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Exact(context.Background(), Field("price; DROP TABLE products"), "x", true)
			assert.ErrorIs(t, err, ErrUnknownField)
		})
	}
}
