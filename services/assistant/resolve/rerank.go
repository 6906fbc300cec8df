// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"log/slog"

	"github.com/bazaryar/bazaryar/services/assistant/catalog"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
	"github.com/bazaryar/bazaryar/services/assistant/vectorindex"
)

// =============================================================================
// Embedding Re-Rank
// =============================================================================

// directCosineMax is the pool size at or below which the re-ranker scores
// by direct cosine against every candidate. Building even a small graph
// index costs more than two dozen dot products.
const directCosineMax = 24

// reranker scores a candidate pool against the mention embedding and picks
// the top hit, accepting it only above the similarity threshold.
type reranker struct {
	cache  *embedding.Cache
	memo   *vectorindex.Memoizer
	accept float64
	logger *slog.Logger
}

// best returns the highest-similarity row in pool and whether it clears the
// acceptance threshold.
//
// A degraded embedding batch (provider outage produced placeholder vectors)
// never accepts: re-ranking on noise is guessing, and the resolver's
// contract is to say "not found" instead. Only context cancellation
// surfaces as an error.
func (r *reranker) best(ctx context.Context, mention string, pool []catalog.Row) (catalog.Row, float64, bool, error) {
	if len(pool) == 0 {
		return catalog.Row{}, 0, false, nil
	}

	texts := make([]string, 0, len(pool)+1)
	texts = append(texts, mention)
	for _, row := range pool {
		texts = append(texts, row.Name)
	}

	vecs, complete, err := r.cache.EmbedBatchChecked(ctx, texts)
	if err != nil {
		return catalog.Row{}, 0, false, err
	}
	if !complete {
		r.logger.Warn("resolve: rerank skipped, embedding batch degraded",
			slog.Int("pool_size", len(pool)))
		return catalog.Row{}, 0, false, nil
	}

	query, candidates := vecs[0], vecs[1:]

	var bestIdx int
	var bestScore float32
	if len(pool) <= directCosineMax {
		bestIdx, bestScore = bestByDirectCosine(query, candidates)
	} else {
		var ok bool
		bestIdx, bestScore, ok = r.bestByIndex(query, candidates)
		if !ok {
			return catalog.Row{}, 0, false, nil
		}
	}

	score := float64(bestScore)
	if score < r.accept {
		r.logger.Debug("resolve: rerank below acceptance",
			slog.Float64("score", score),
			slog.String("candidate", pool[bestIdx].Name))
		return catalog.Row{}, score, false, nil
	}
	return pool[bestIdx], score, true, nil
}

// bestByDirectCosine scans the pool linearly. Vectors from the cache are
// unit-normalized, so the dot product is the cosine.
func bestByDirectCosine(query []float32, candidates [][]float32) (int, float32) {
	bestIdx, bestScore := 0, float32(-2)
	for i, vec := range candidates {
		var dot float32
		for j := range vec {
			dot += query[j] * vec[j]
		}
		if dot > bestScore {
			bestIdx, bestScore = i, dot
		}
	}
	return bestIdx, bestScore
}

// bestByIndex builds (or reuses) a cosine index over the pool and takes the
// top-1 hit.
func (r *reranker) bestByIndex(query []float32, candidates [][]float32) (int, float32, bool) {
	entries := make([]vectorindex.Entry, len(candidates))
	for i, vec := range candidates {
		entries[i] = vectorindex.Entry{ID: i, Vector: vec}
	}
	idx, err := r.memo.BuildOrReuse(entries, vectorindex.Options{Metric: vectorindex.MetricCosine})
	if err != nil {
		r.logger.Warn("resolve: rerank index build failed", slog.Any("error", err))
		return 0, 0, false
	}
	hits, err := idx.Search([][]float32{query}, 1, 0)
	if err != nil || len(hits[0]) == 0 {
		return 0, 0, false
	}
	top := hits[0][0]
	return top.ID, top.Score, true
}
