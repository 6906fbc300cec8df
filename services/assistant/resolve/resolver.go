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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bazaryar/bazaryar/services/assistant/catalog"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
	"github.com/bazaryar/bazaryar/services/assistant/vectorindex"
)

// =============================================================================
// Types
// =============================================================================

// MatchKind identifies which resolution stage produced a candidate.
type MatchKind string

const (
	MatchExact         MatchKind = "exact"
	MatchCombinatorial MatchKind = "combinatorial"
	MatchEmbedding     MatchKind = "embedding"
	MatchFallback      MatchKind = "fallback"
)

// EntityCandidate is the resolver's answer: a catalog identifier, the text
// it was matched on, the stage that settled it, and that stage's score.
type EntityCandidate struct {
	ID          string    `json:"id"`
	DisplayText string    `json:"display_text"`
	Kind        MatchKind `json:"match_kind"`
	Score       float64   `json:"score"`
}

// defaultAcceptThreshold is the minimum re-rank similarity for accepting an
// embedding-stage candidate. Below it the resolver reports not-found rather
// than guessing.
const defaultAcceptThreshold = 0.72

// =============================================================================
// Metrics
// =============================================================================

var (
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Resolution outcomes by the stage that settled them.",
	}, []string{"stage"})

	resolveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assistant",
		Subsystem: "resolver",
		Name:      "latency_seconds",
		Help:      "End-to-end resolution latency.",
		Buckets:   prometheus.DefBuckets,
	})
)

var resolveTracer = otel.Tracer("bazaryar.assistant.resolve")

// =============================================================================
// Resolver
// =============================================================================

// Resolver maps noisy mentions to catalog rows through the progressive
// strategy described in the package comment.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type Resolver struct {
	store  catalog.Store
	field  catalog.Field
	rerank reranker
	logger *slog.Logger

	maxCombinations int
}

// ResolverParams configures NewResolver. Store and Cache are required.
type ResolverParams struct {
	Store catalog.Store
	Cache *embedding.Cache
	Memo  *vectorindex.Memoizer

	// Field is the catalog column mentions resolve against. Defaults to
	// the name column.
	Field catalog.Field

	// AcceptThreshold overrides the re-rank acceptance similarity when
	// positive.
	AcceptThreshold float64

	// MaxCombinations overrides the per-size combination cap when positive.
	MaxCombinations int

	Logger *slog.Logger
}

// NewResolver creates a resolver over the given catalog and embedding cache.
func NewResolver(p ResolverParams) *Resolver {
	if p.Store == nil {
		panic("resolve.NewResolver: Store must not be nil")
	}
	if p.Cache == nil {
		panic("resolve.NewResolver: Cache must not be nil")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Field == "" {
		p.Field = catalog.FieldName
	}
	if p.AcceptThreshold <= 0 {
		p.AcceptThreshold = defaultAcceptThreshold
	}
	if p.MaxCombinations <= 0 {
		p.MaxCombinations = maxCombinationsPerSize
	}
	if p.Memo == nil {
		p.Memo = vectorindex.NewMemoizer(0)
	}
	return &Resolver{
		store: p.Store,
		field: p.Field,
		rerank: reranker{
			cache:  p.Cache,
			memo:   p.Memo,
			accept: p.AcceptThreshold,
			logger: p.Logger,
		},
		logger:          p.Logger,
		maxCombinations: p.MaxCombinations,
	}
}

// Resolve maps mention to at most one catalog entity.
//
// # Description
//
//	Stages run in order, each only when the previous produced zero or
//	ambiguous results: exact equality (case-sensitive, then folded),
//	combinatorial substring narrowing over the mention's important parts,
//	embedding re-rank over the surviving pool, and a right-truncation
//	prefix fallback for mentions with no usable parts. External failures
//	degrade to not-found; only context cancellation returns an error.
//
// # Outputs
//
//   - EntityCandidate: The winning candidate. Zero value when ok is false.
//   - bool: Whether resolution succeeded.
//   - error: Non-nil only on context cancellation.
func (r *Resolver) Resolve(ctx context.Context, mention string) (EntityCandidate, bool, error) {
	start := time.Now()
	defer func() { resolveLatency.Observe(time.Since(start).Seconds()) }()

	ctx, span := resolveTracer.Start(ctx, "resolver.Resolve")
	defer span.End()

	mention = strings.TrimSpace(mention)
	if mention == "" {
		resolutions.WithLabelValues("not_found").Inc()
		return EntityCandidate{}, false, nil
	}

	candidate, ok, err := r.resolve(ctx, mention)
	if err != nil {
		return EntityCandidate{}, false, err
	}
	if !ok {
		resolutions.WithLabelValues("not_found").Inc()
		span.SetAttributes(attribute.String("resolve.outcome", "not_found"))
		return EntityCandidate{}, false, nil
	}

	resolutions.WithLabelValues(string(candidate.Kind)).Inc()
	span.SetAttributes(
		attribute.String("resolve.outcome", string(candidate.Kind)),
		attribute.Float64("resolve.score", candidate.Score),
	)
	r.logger.Debug("resolve: accepted",
		slog.String("kind", string(candidate.Kind)),
		slog.String("id", candidate.ID),
		slog.Float64("score", candidate.Score))
	return candidate, true, nil
}

func (r *Resolver) resolve(ctx context.Context, mention string) (EntityCandidate, bool, error) {
	// ExactMatch: raw mention first, folded second.
	if c, ok, err := r.exact(ctx, mention); err != nil || ok {
		return c, ok, err
	}

	parts, _ := decompose(mention)
	if len(parts) == 0 {
		return r.fallback(ctx, mention)
	}

	// CombinatorialNarrowing.
	pool, c, ok, err := r.combinatorial(ctx, parts)
	if err != nil || ok {
		return c, ok, err
	}

	// EmbeddingRerank over the tightest pool the narrowing found.
	row, score, ok, err := r.rerank.best(ctx, embedding.Normalize(mention), pool)
	if err != nil || !ok {
		return EntityCandidate{}, false, err
	}
	return EntityCandidate{ID: row.ID, DisplayText: row.Name, Kind: MatchEmbedding, Score: score}, true, nil
}

// exact tries case-sensitive then case-insensitive equality. A unique hit
// wins at score 1.0 regardless of anything a later stage might prefer.
func (r *Resolver) exact(ctx context.Context, mention string) (EntityCandidate, bool, error) {
	for _, attempt := range []struct {
		value         string
		caseSensitive bool
	}{
		{mention, true},
		{embedding.Normalize(mention), false},
	} {
		rows, err := r.store.Exact(ctx, r.field, attempt.value, attempt.caseSensitive)
		if err != nil {
			if ctx.Err() != nil {
				return EntityCandidate{}, false, ctx.Err()
			}
			r.logger.Warn("resolve: exact lookup failed", slog.Any("error", err))
			continue
		}
		if len(rows) == 1 {
			return EntityCandidate{
				ID:          rows[0].ID,
				DisplayText: rows[0].Name,
				Kind:        MatchExact,
				Score:       1.0,
			}, true, nil
		}
	}
	return EntityCandidate{}, false, nil
}

// combinatorial runs substring-AND queries over part combinations of
// increasing size. Exactly one row settles resolution immediately; multiple
// rows replace the running pool only when strictly smaller, so the search
// converges on the tightest nonempty pool.
func (r *Resolver) combinatorial(ctx context.Context, parts []string) ([]catalog.Row, EntityCandidate, bool, error) {
	var (
		bestPool []catalog.Row
		winner   EntityCandidate
		won      bool
		ctxErr   error
	)

	for _, size := range combinationSizes {
		if size > len(parts) {
			continue
		}
		forEachCombination(len(parts), size, r.maxCombinations, func(idx []int) bool {
			rows, err := r.store.ContainsAll(ctx, r.field, partsAt(parts, idx))
			if err != nil {
				if ctx.Err() != nil {
					ctxErr = ctx.Err()
					return false
				}
				r.logger.Warn("resolve: narrowing query failed", slog.Any("error", err))
				return true
			}
			switch {
			case len(rows) == 1:
				winner = EntityCandidate{
					ID:          rows[0].ID,
					DisplayText: rows[0].Name,
					Kind:        MatchCombinatorial,
					Score:       1.0,
				}
				won = true
				return false
			case len(rows) > 1 && (bestPool == nil || len(rows) < len(bestPool)):
				bestPool = rows
			}
			return true
		})
		if won || ctxErr != nil {
			break
		}
	}
	return bestPool, winner, won, ctxErr
}

// fallback handles mentions that decompose into no usable parts: truncate
// word-by-word from the right, take the first prefix query that returns
// rows, and let the re-rank stage decide.
func (r *Resolver) fallback(ctx context.Context, mention string) (EntityCandidate, bool, error) {
	for _, prefix := range truncations(mention) {
		rows, err := r.store.Prefix(ctx, r.field, prefix)
		if err != nil {
			if ctx.Err() != nil {
				return EntityCandidate{}, false, ctx.Err()
			}
			r.logger.Warn("resolve: prefix fallback failed", slog.Any("error", err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		row, score, ok, err := r.rerank.best(ctx, embedding.Normalize(mention), rows)
		if err != nil || !ok {
			return EntityCandidate{}, false, err
		}
		return EntityCandidate{ID: row.ID, DisplayText: row.Name, Kind: MatchFallback, Score: score}, true, nil
	}
	return EntityCandidate{}, false, nil
}
