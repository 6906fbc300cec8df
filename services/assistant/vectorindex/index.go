// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex provides an in-process approximate-nearest-neighbor
// index over small-to-medium embedding corpora.
//
// The index exists for two call sites: category exemplar matching in the
// router (a few hundred vectors, built once at startup and on hot reload)
// and candidate re-ranking in the resolver (tens of vectors, built per
// request). Both need microsecond lookups with zero network dependency,
// which rules out a remote vector database. Corpora at or below
// bruteForceThreshold skip graph construction entirely and use an exact
// linear scan.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Metric selects the similarity function for an index.
type Metric string

const (
	// MetricCosine scores by cosine similarity. Input vectors do not need
	// to be pre-normalized; the index normalizes copies at build time.
	MetricCosine Metric = "cosine"
	// MetricEuclidean scores by negated L2 distance, so higher is still
	// better and Hit ordering is uniform across metrics.
	MetricEuclidean Metric = "euclidean"
	// MetricDot scores by raw inner product. Appropriate when vectors are
	// already unit-normalized upstream.
	MetricDot Metric = "dot"
)

// Construction and search defaults. Tuned for corpora of tens to low
// thousands of vectors, which is the full operating range here.
const (
	defaultConnectivity  = 16
	defaultBuildBreadth  = 128
	defaultSearchBreadth = 64

	// bruteForceThreshold is the corpus size at or below which Build skips
	// graph construction. For tiny corpora an exact scan is both faster and
	// recall-perfect.
	bruteForceThreshold = 64
)

// ErrDimensionMismatch reports an entry whose vector length disagrees with
// the rest of the corpus or with a query.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrEmptyCorpus reports a Build call with no entries.
var ErrEmptyCorpus = errors.New("empty corpus")

// Options configures index construction and search.
type Options struct {
	// Metric selects the similarity function. Default MetricCosine.
	Metric Metric
	// Connectivity is the per-node neighbor budget (M in HNSW terms).
	// Default 16.
	Connectivity int
	// BuildBreadth is the candidate beam width during construction.
	// Default 128.
	BuildBreadth int
	// SearchBreadth is the default candidate beam width during search,
	// overridable per call. Default 64.
	SearchBreadth int
}

func (o Options) withDefaults() Options {
	if o.Metric == "" {
		o.Metric = MetricCosine
	}
	if o.Connectivity <= 0 {
		o.Connectivity = defaultConnectivity
	}
	if o.BuildBreadth <= 0 {
		o.BuildBreadth = defaultBuildBreadth
	}
	if o.SearchBreadth <= 0 {
		o.SearchBreadth = defaultSearchBreadth
	}
	return o
}

func (o Options) validate() error {
	switch o.Metric {
	case MetricCosine, MetricEuclidean, MetricDot:
		return nil
	default:
		return fmt.Errorf("unknown metric %q", o.Metric)
	}
}

// Entry is one indexed vector with its caller-assigned identifier.
type Entry struct {
	ID     int
	Vector []float32
}

// Hit is one search result. Rank is 1-based and dense within a result set.
// Score is oriented so higher is always better, regardless of metric
// (euclidean scores are negated distances).
type Hit struct {
	Rank  int
	ID    int
	Score float32
}

// Index is an immutable ANN index over one corpus.
//
// # Thread Safety
//
// Safe for concurrent Search calls after Build returns.
type Index struct {
	opts    Options
	dims    int
	ids     []int
	vectors [][]float32
	graph   *hnswGraph // nil when the brute-force path is active
}

// Build constructs an index over entries.
//
// # Description
//
// All vectors must share one dimension; a mismatch fails the build with
// ErrDimensionMismatch. For MetricCosine the index stores unit-normalized
// copies so search reduces to dot products. Corpora at or below the
// brute-force threshold skip graph construction.
//
// # Inputs
//
//   - entries: The corpus. Must be non-empty. Vectors are copied; callers
//     may reuse their slices.
//   - opts: Construction parameters. Zero values take defaults.
//
// # Outputs
//
//   - *Index: Ready for Search. Nil on error.
//   - error: ErrEmptyCorpus, ErrDimensionMismatch, or an Options error.
func Build(entries []Entry, opts Options) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("vectorindex: %w", err)
	}

	dims := len(entries[0].Vector)
	if dims == 0 {
		return nil, fmt.Errorf("vectorindex: entry %d: %w: zero-length vector", entries[0].ID, ErrDimensionMismatch)
	}

	idx := &Index{
		opts:    opts,
		dims:    dims,
		ids:     make([]int, len(entries)),
		vectors: make([][]float32, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) != dims {
			return nil, fmt.Errorf("vectorindex: entry %d has %d dims, corpus has %d: %w",
				e.ID, len(e.Vector), dims, ErrDimensionMismatch)
		}
		vec := make([]float32, dims)
		copy(vec, e.Vector)
		if opts.Metric == MetricCosine {
			unitNormalize(vec)
		}
		idx.ids[i] = e.ID
		idx.vectors[i] = vec
	}

	if len(entries) > bruteForceThreshold {
		idx.graph = buildGraph(idx.vectors, opts, idx.distance)
	}
	return idx, nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int { return len(idx.ids) }

// Dimensions returns the corpus vector dimension.
func (idx *Index) Dimensions() int { return idx.dims }

// Search finds the k best entries for each query, preserving query order.
//
// # Description
//
// Result i corresponds to queries[i]. Each result holds at most k hits in
// descending score order, Rank 1 being the best. searchBreadth overrides
// the index default beam width when positive; it is clamped up to k.
//
// # Outputs
//
//   - [][]Hit: One slice per query, in query order.
//   - error: ErrDimensionMismatch if any query disagrees with the corpus.
func (idx *Index) Search(queries [][]float32, k int, searchBreadth int) ([][]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: k must be positive, got %d", k)
	}
	breadth := idx.opts.SearchBreadth
	if searchBreadth > 0 {
		breadth = searchBreadth
	}
	if breadth < k {
		breadth = k
	}

	out := make([][]Hit, len(queries))
	for qi, q := range queries {
		if len(q) != idx.dims {
			return nil, fmt.Errorf("vectorindex: query %d has %d dims, corpus has %d: %w",
				qi, len(q), idx.dims, ErrDimensionMismatch)
		}
		query := q
		if idx.opts.Metric == MetricCosine {
			query = make([]float32, idx.dims)
			copy(query, q)
			unitNormalize(query)
		}

		var hits []Hit
		if idx.graph == nil {
			hits = idx.bruteForce(query, k)
		} else {
			hits = idx.graphSearch(query, k, breadth)
		}
		out[qi] = hits
	}
	return out, nil
}

// bruteForce scans all vectors and keeps the top k by score.
func (idx *Index) bruteForce(query []float32, k int) []Hit {
	hits := make([]Hit, 0, len(idx.ids))
	for i, vec := range idx.vectors {
		hits = append(hits, Hit{ID: idx.ids[i], Score: idx.score(query, vec)})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

// graphSearch runs a beam search over the HNSW graph.
func (idx *Index) graphSearch(query []float32, k, breadth int) []Hit {
	found := idx.graph.search(query, breadth)
	sort.SliceStable(found, func(a, b int) bool { return found[a].dist < found[b].dist })
	if len(found) > k {
		found = found[:k]
	}
	hits := make([]Hit, len(found))
	for i, c := range found {
		hits[i] = Hit{Rank: i + 1, ID: idx.ids[c.node], Score: idx.score(query, idx.vectors[c.node])}
	}
	return hits
}

// score returns the caller-facing higher-is-better score for a vector pair.
func (idx *Index) score(a, b []float32) float32 {
	switch idx.opts.Metric {
	case MetricEuclidean:
		return -l2(a, b)
	default:
		// Cosine vectors are pre-normalized, so dot covers both.
		return dot(a, b)
	}
}

// distance returns the internal lower-is-better distance for graph routing.
func (idx *Index) distance(a, b []float32) float32 {
	switch idx.opts.Metric {
	case MetricEuclidean:
		return l2sq(a, b)
	default:
		return 1 - dot(a, b)
	}
}

// =============================================================================
// Vector Math
// =============================================================================

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func l2sq(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func l2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(l2sq(a, b))))
}

func unitNormalize(vec []float32) {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(float64(sum)))
	for i := range vec {
		vec[i] *= inv
	}
}
