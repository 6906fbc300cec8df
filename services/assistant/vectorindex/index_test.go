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

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomCorpus(n, dims int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		entries[i] = Entry{ID: i, Vector: vec}
	}
	return entries
}

func TestBuildRejectsEmptyCorpus(t *testing.T) {
	if _, err := Build(nil, Options{}); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("Build(nil) error = %v, want ErrEmptyCorpus", err)
	}
}

func TestBuildRejectsDimensionMismatch(t *testing.T) {
	entries := []Entry{
		{ID: 1, Vector: []float32{1, 0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
	}
	if _, err := Build(entries, Options{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Build error = %v, want ErrDimensionMismatch", err)
	}
}

func TestBuildRejectsUnknownMetric(t *testing.T) {
	entries := []Entry{{ID: 1, Vector: []float32{1, 0}}}
	if _, err := Build(entries, Options{Metric: "manhattan"}); err == nil {
		t.Error("Build with unknown metric should fail")
	}
}

func TestSearchSelfSimilarity(t *testing.T) {
	entries := randomCorpus(20, 16, 7)
	idx, err := Build(entries, Options{Metric: MetricCosine})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, e := range entries[:5] {
		results, err := idx.Search([][]float32{e.Vector}, 1, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		hit := results[0][0]
		if hit.ID != e.ID {
			t.Errorf("nearest to entry %d is %d, want itself", e.ID, hit.ID)
		}
		if math.Abs(float64(hit.Score)-1.0) > 1e-5 {
			t.Errorf("self cosine = %f, want 1.0", hit.Score)
		}
	}
}

func TestSearchCosineScoresBounded(t *testing.T) {
	entries := randomCorpus(50, 8, 3)
	idx, err := Build(entries, Options{Metric: MetricCosine})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	queries := [][]float32{entries[0].Vector, entries[10].Vector}
	results, err := idx.Search(queries, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for qi, hits := range results {
		for _, h := range hits {
			if h.Score < -1.0001 || h.Score > 1.0001 {
				t.Errorf("query %d: cosine score %f out of [-1, 1]", qi, h.Score)
			}
		}
	}
}

func TestSearchPreservesQueryOrderAndRanks(t *testing.T) {
	entries := randomCorpus(30, 8, 11)
	idx, err := Build(entries, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	queries := [][]float32{entries[3].Vector, entries[17].Vector, entries[3].Vector}
	results, err := idx.Search(queries, 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d result sets, want 3", len(results))
	}
	if results[0][0].ID != 3 || results[2][0].ID != 3 || results[1][0].ID != 17 {
		t.Error("results do not line up with query positions")
	}
	for _, hits := range results {
		for i, h := range hits {
			if h.Rank != i+1 {
				t.Errorf("hit at position %d has rank %d, want %d", i, h.Rank, i+1)
			}
			if i > 0 && hits[i-1].Score < h.Score {
				t.Error("hits not in descending score order")
			}
		}
	}
}

func TestSearchRejectsQueryDimensionMismatch(t *testing.T) {
	idx, err := Build(randomCorpus(5, 8, 1), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := idx.Search([][]float32{make([]float32, 4)}, 1, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search error = %v, want ErrDimensionMismatch", err)
	}
}

func TestGraphPathRecall(t *testing.T) {
	// Above the brute-force threshold the graph path activates. Recall on a
	// few hundred vectors should be near-exact for the top hit.
	entries := randomCorpus(300, 24, 42)
	idx, err := Build(entries, Options{Metric: MetricCosine})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exact := func(q []float32) int {
		best, bestScore := -1, float32(math.Inf(-1))
		qn := make([]float32, len(q))
		copy(qn, q)
		unitNormalize(qn)
		for i, e := range entries {
			vn := make([]float32, len(e.Vector))
			copy(vn, e.Vector)
			unitNormalize(vn)
			if s := dot(qn, vn); s > bestScore {
				best, bestScore = i, s
			}
		}
		return best
	}

	correct := 0
	const trials = 50
	for i := 0; i < trials; i++ {
		query := entries[(i*6)%300].Vector
		results, err := idx.Search([][]float32{query}, 1, 128)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if results[0][0].ID == exact(query) {
			correct++
		}
	}
	if correct < trials*9/10 {
		t.Errorf("top-1 recall %d/%d, want >= 90%%", correct, trials)
	}
}

func TestEuclideanMetricOrdering(t *testing.T) {
	entries := []Entry{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
		{ID: 3, Vector: []float32{5, 5}},
	}
	idx, err := Build(entries, Options{Metric: MetricEuclidean})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := idx.Search([][]float32{{0.1, 0}}, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	hits := results[0]
	if hits[0].ID != 1 || hits[1].ID != 2 || hits[2].ID != 3 {
		t.Errorf("euclidean order = %d,%d,%d, want 1,2,3", hits[0].ID, hits[1].ID, hits[2].ID)
	}
	if hits[0].Score < hits[1].Score || hits[1].Score < hits[2].Score {
		t.Error("euclidean scores must still descend")
	}
}

func TestMemoizerReusesIndex(t *testing.T) {
	m := NewMemoizer(4)
	entries := randomCorpus(10, 8, 5)

	a, err := m.BuildOrReuse(entries, Options{})
	if err != nil {
		t.Fatalf("BuildOrReuse: %v", err)
	}
	b, err := m.BuildOrReuse(entries, Options{})
	if err != nil {
		t.Fatalf("BuildOrReuse: %v", err)
	}
	if a != b {
		t.Error("identical corpus must reuse the cached index")
	}

	c, err := m.BuildOrReuse(entries, Options{Metric: MetricDot})
	if err != nil {
		t.Fatalf("BuildOrReuse: %v", err)
	}
	if c == a {
		t.Error("different options must not share an index")
	}
}

func TestMemoizerEnforcesCapacity(t *testing.T) {
	m := NewMemoizer(2)
	for seed := int64(0); seed < 5; seed++ {
		if _, err := m.BuildOrReuse(randomCorpus(5, 4, seed), Options{}); err != nil {
			t.Fatalf("BuildOrReuse seed %d: %v", seed, err)
		}
	}
	if m.Len() > 2 {
		t.Errorf("memoizer holds %d indexes, capacity 2", m.Len())
	}
}
