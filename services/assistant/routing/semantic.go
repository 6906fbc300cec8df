// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

// =============================================================================
// Semantic Scorer
// =============================================================================
//
// Scores a query against every category by embedding similarity to that
// category's exemplars. One vector index is built over ALL exemplars (ids
// encode the category); a category's score is the mean of the query's top-3
// cosine matches within that category. Mean-of-top-3 smooths over a single
// lucky exemplar without letting the long tail of a category dilute a
// genuine hit.
//
// When the embedding provider is unavailable the scorer degrades to BM25
// lexical overlap over the same corpus rather than reporting signal-absent.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bazaryar/bazaryar/services/assistant/config"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
	"github.com/bazaryar/bazaryar/services/assistant/vectorindex"
)

// semanticTopK is how many per-category matches are averaged into the score.
const semanticTopK = 3

// SemanticScores is the scorer's output for one query.
type SemanticScores struct {
	// ByCategory maps category to similarity in [0, 1] (embedding path) or
	// normalized BM25 (lexical path).
	ByCategory map[Category]float64
	// Lexical is true when the BM25 degradation path produced the scores.
	Lexical bool
}

// Best returns the highest-scoring category. ok is false for empty scores.
func (s SemanticScores) Best() (Category, float64, bool) {
	best, bestScore, ok := CategoryGeneral, 0.0, false
	for c, v := range s.ByCategory {
		if !ok || v > bestScore || (v == bestScore && c < best) {
			best, bestScore, ok = c, v, true
		}
	}
	return best, bestScore, ok
}

// exemplarEntry ties an index id back to its category.
type exemplarEntry struct {
	category Category
	text     string
}

// SemanticScorer computes per-category similarity scores.
//
// # Thread Safety
//
// Safe for concurrent use. ReplaceExemplars swaps the corpus for hot
// reload; the index rebuilds lazily on the next Score call.
type SemanticScorer struct {
	cache  *embedding.Cache
	memo   *vectorindex.Memoizer
	logger *slog.Logger

	mu      sync.RWMutex
	gen     int // bumped by ReplaceExemplars; guards lazy index installs
	entries []exemplarEntry
	bm25    *BM25Index
	index   *vectorindex.Index // nil until first successful embed
}

// NewSemanticScorer creates a scorer over the given exemplar corpus.
func NewSemanticScorer(exemplars *config.ExemplarsConfig, cache *embedding.Cache, memo *vectorindex.Memoizer, logger *slog.Logger) *SemanticScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if memo == nil {
		memo = vectorindex.NewMemoizer(0)
	}
	s := &SemanticScorer{cache: cache, memo: memo, logger: logger}
	s.ReplaceExemplars(exemplars)
	return s
}

// ReplaceExemplars installs a new exemplar corpus. The BM25 index rebuilds
// immediately (it is cheap and has no network dependency); the vector index
// rebuilds lazily on the next Score.
func (s *SemanticScorer) ReplaceExemplars(exemplars *config.ExemplarsConfig) {
	var entries []exemplarEntry
	names := make([]string, 0, len(exemplars.Categories))
	for name := range exemplars.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		category, ok := ParseCategory(name)
		if !ok {
			s.logger.Warn("semantic scorer: skipping unknown category in exemplars",
				slog.String("category", name))
			continue
		}
		for _, text := range exemplars.Categories[name] {
			entries = append(entries, exemplarEntry{category: category, text: text})
		}
	}

	s.mu.Lock()
	s.gen++
	s.entries = entries
	s.bm25 = BuildBM25Index(exemplars.Categories)
	s.index = nil
	s.mu.Unlock()
}

// Score computes per-category scores for query.
//
// # Description
//
// Embeds the corpus (cache-served after the first call) and the query, then
// averages each category's top-3 cosine similarities. If any embedding came
// back as a fallback vector, the call degrades to BM25 and reports
// Lexical=true. The only error returned is context cancellation; everything
// else degrades.
func (s *SemanticScorer) Score(ctx context.Context, query string) (SemanticScores, error) {
	s.mu.RLock()
	gen := s.gen
	entries := s.entries
	index := s.index
	bm25 := s.bm25
	s.mu.RUnlock()

	if len(entries) == 0 {
		return SemanticScores{ByCategory: map[Category]float64{}}, nil
	}

	if index == nil {
		built, err := s.buildIndex(ctx, entries, gen)
		if err != nil {
			return SemanticScores{}, err
		}
		if built == nil {
			semanticPath.WithLabelValues("lexical").Inc()
			return SemanticScores{ByCategory: bm25.Score(query), Lexical: true}, nil
		}
		index = built
	}

	queryVecs, complete, err := s.cache.EmbedBatchChecked(ctx, []string{query})
	if err != nil {
		return SemanticScores{}, fmt.Errorf("semantic scorer: %w", err)
	}
	if !complete {
		semanticPath.WithLabelValues("lexical").Inc()
		return SemanticScores{ByCategory: bm25.Score(query), Lexical: true}, nil
	}

	// Pull enough hits that each category can contribute its top 3.
	k := len(entries)
	results, err := index.Search(queryVecs, k, 0)
	if err != nil {
		return SemanticScores{}, fmt.Errorf("semantic scorer: %w", err)
	}

	perCategory := make(map[Category][]float64)
	for _, hit := range results[0] {
		c := entries[hit.ID].category
		if len(perCategory[c]) < semanticTopK {
			perCategory[c] = append(perCategory[c], float64(hit.Score))
		}
	}

	scores := make(map[Category]float64, len(perCategory))
	for c, top := range perCategory {
		var sum float64
		for _, v := range top {
			sum += v
		}
		scores[c] = clamp01(sum / float64(len(top)))
	}
	semanticPath.WithLabelValues("embedding").Inc()
	return SemanticScores{ByCategory: scores}, nil
}

// buildIndex embeds the corpus and builds the vector index, memoized by
// corpus content. Returns (nil, nil) when embeddings are incomplete and the
// caller should take the lexical path.
func (s *SemanticScorer) buildIndex(ctx context.Context, entries []exemplarEntry, gen int) (*vectorindex.Index, error) {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.text
	}

	vecs, complete, err := s.cache.EmbedBatchChecked(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("semantic scorer: embedding exemplars: %w", err)
	}
	if !complete {
		s.logger.Warn("semantic scorer: exemplar embeddings incomplete, using lexical scoring")
		return nil, nil
	}

	corpus := make([]vectorindex.Entry, len(entries))
	for i, v := range vecs {
		corpus[i] = vectorindex.Entry{ID: i, Vector: v}
	}
	index, err := s.memo.BuildOrReuse(corpus, vectorindex.Options{Metric: vectorindex.MetricCosine})
	if err != nil {
		return nil, fmt.Errorf("semantic scorer: building index: %w", err)
	}

	s.mu.Lock()
	// Install only if the corpus has not been replaced meanwhile. A racing
	// build of the same generation is equivalent; keep the first.
	if s.gen == gen {
		if s.index == nil {
			s.index = index
		}
		index = s.index
	}
	s.mu.Unlock()
	return index, nil
}
