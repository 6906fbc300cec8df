// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

// =============================================================================
// Cache — Batched Embedding with Memory + Disk Tiers
// =============================================================================
//
// The cache sits between every embedding consumer (router exemplars, resolver
// re-ranks, live queries) and the provider. Lookup order:
//
//	1. In-memory map (keyed by CacheKey: SHA256 of normalized text + model)
//	2. BadgerDB store, when configured
//	3. Provider, in chunks of 16 with a bounded fan-out
//
// Two guarantees matter to callers:
//
//	1. EmbedBatch never fails the whole batch for one bad text. A chunk that
//	   the provider rejects gets deterministic pseudo-random unit vectors,
//	   seeded from each text's hash, so downstream cosine math stays defined
//	   and repeated runs stay reproducible. Fallback vectors are never cached.
//
//	2. Output order mirrors input order, including duplicates. Deduplication
//	   happens internally; callers index results positionally.
//
// All vectors are unit-normalized on the way in, so cosine similarity
// downstream reduces to a dot product.

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// batchChunkSize is the number of texts sent to the provider per request.
// Large enough to amortize HTTP overhead, small enough that one provider
// failure poisons at most 16 vectors.
const batchChunkSize = 16

// batchConcurrency bounds in-flight provider requests during a batch fill.
const batchConcurrency = 8

// defaultFlushInterval is how often dirty vectors are written to the store.
const defaultFlushInterval = 30 * time.Second

// =============================================================================
// Metrics
// =============================================================================

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_embedding_cache_lookups_total",
		Help: "Embedding cache lookups by outcome (hit_memory, hit_store, miss).",
	}, []string{"outcome"})

	cacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_embedding_fallback_vectors_total",
		Help: "Deterministic fallback vectors issued after provider failures.",
	})

	providerChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_embedding_provider_chunks_total",
		Help: "Provider chunk requests by outcome (ok, error).",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_embedding_batch_seconds",
		Help:    "Wall time of EmbedBatch calls.",
		Buckets: prometheus.DefBuckets,
	})
)

// =============================================================================
// Cache
// =============================================================================

// Cache provides batched, memory- and disk-cached access to an embedding
// Provider.
//
// # Description
//
// The in-memory tier holds every vector seen this process lifetime. The
// optional CacheStore tier survives restarts. Writes to the store are
// asynchronous: vectors accumulate in a dirty set and a background flusher
// persists them on an interval, with a final synchronous flush in Close.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	provider Provider
	store    CacheStore
	logger   *slog.Logger

	mu      sync.RWMutex
	vectors map[string][]float32
	dirty   map[string][]float32

	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// CacheOption customizes Cache construction.
type CacheOption func(*Cache)

// WithFlushInterval overrides the background persistence interval.
func WithFlushInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// NewCache creates a Cache over the given provider.
//
// # Inputs
//
//   - provider: Embedding backend. Must not be nil.
//   - store: Persistence tier. May be nil for in-memory-only operation.
//   - logger: May be nil; slog.Default() is used.
//
// # Outputs
//
//   - *Cache: Ready to use. Call Close to stop the flusher and persist
//     remaining dirty vectors.
func NewCache(provider Provider, store CacheStore, logger *slog.Logger, opts ...CacheOption) *Cache {
	if provider == nil {
		panic("embedding.NewCache: provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		provider:      provider,
		store:         store,
		logger:        logger,
		vectors:       make(map[string][]float32),
		dirty:         make(map[string][]float32),
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store != nil {
		c.wg.Add(1)
		go c.flushLoop()
	}
	return c
}

// EmbedOne embeds a single text through the cache.
//
// # Outputs
//
//   - []float32: Unit-normalized vector of provider.Dimensions() length.
//     A fallback vector if the provider failed for this text.
func (c *Cache) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, returning vectors in input order.
//
// # Description
//
// Texts are normalized and deduplicated internally; duplicates share one
// provider slot but each input position gets its vector. Uncached texts are
// fetched in chunks of 16 with at most 8 concurrent provider requests. A
// failed chunk yields deterministic fallback vectors for its texts instead
// of failing the batch; fallbacks are not cached, so the next call retries
// the provider.
//
// # Outputs
//
//   - [][]float32: len(texts) unit-normalized vectors, position i for
//     texts[i].
//   - error: Non-nil only on context cancellation or empty-dimension
//     provider misconfiguration, never on per-text provider failure.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, _, err := c.EmbedBatchChecked(ctx, texts)
	return vecs, err
}

// EmbedBatchChecked is EmbedBatch plus a completeness flag: complete is
// false when any returned vector is a fallback rather than a real
// embedding. Callers that degrade to a lexical path on provider outage
// (the semantic scorer) use this variant; everyone else uses EmbedBatch.
func (c *Cache) EmbedBatchChecked(ctx context.Context, texts []string) (vecs [][]float32, complete bool, err error) {
	if len(texts) == 0 {
		return nil, true, nil
	}
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	model := c.provider.Model()
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(t, model)
	}

	// Resolve memory tier and collect unique misses.
	resolved := make(map[string][]float32, len(texts))
	var missKeys []string
	missText := make(map[string]string)
	c.mu.RLock()
	for i, k := range keys {
		if _, seen := resolved[k]; seen {
			continue
		}
		if v, ok := c.vectors[k]; ok {
			resolved[k] = v
			cacheLookups.WithLabelValues("hit_memory").Inc()
			continue
		}
		resolved[k] = nil
		missKeys = append(missKeys, k)
		missText[k] = texts[i]
	}
	c.mu.RUnlock()

	// Store tier. A store error degrades to a provider fetch.
	if c.store != nil && len(missKeys) > 0 {
		still := missKeys[:0]
		for _, k := range missKeys {
			vec, err := c.store.Load(ctx, k)
			if err != nil {
				c.logger.Warn("embedding cache: store load failed, treating as miss",
					slog.String("key", shortKey(k)), slog.Any("error", err))
			}
			if vec != nil {
				resolved[k] = vec
				cacheLookups.WithLabelValues("hit_store").Inc()
				c.mu.Lock()
				c.vectors[k] = vec
				c.mu.Unlock()
				continue
			}
			still = append(still, k)
		}
		missKeys = still
	}

	for range missKeys {
		cacheLookups.WithLabelValues("miss").Inc()
	}

	fallbacks := 0
	if len(missKeys) > 0 {
		fallbacks, err = c.fillMisses(ctx, missKeys, missText, resolved)
		if err != nil {
			return nil, false, err
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		out[i] = resolved[k]
	}
	return out, fallbacks == 0, nil
}

// fillMisses fetches vectors for missKeys from the provider in bounded
// parallel chunks, writing results (or fallbacks) into resolved. Returns
// the number of fallback vectors issued.
func (c *Cache) fillMisses(ctx context.Context, missKeys []string, missText map[string]string, resolved map[string][]float32) (int, error) {
	type chunkResult struct {
		keys     []string
		vectors  [][]float32
		fallback bool
	}

	chunks := make([][]string, 0, (len(missKeys)+batchChunkSize-1)/batchChunkSize)
	for i := 0; i < len(missKeys); i += batchChunkSize {
		end := min(i+batchChunkSize, len(missKeys))
		chunks = append(chunks, missKeys[i:end])
	}

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, batchConcurrency)

	for ci, chunk := range chunks {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			chunkTexts := make([]string, len(chunk))
			for j, k := range chunk {
				chunkTexts[j] = Normalize(missText[k])
			}

			vecs, err := c.provider.EmbedBatch(gctx, chunkTexts)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				providerChunks.WithLabelValues("error").Inc()
				c.logger.Warn("embedding cache: provider chunk failed, issuing fallback vectors",
					slog.Int("chunk_size", len(chunk)), slog.Any("error", err))
				fb := make([][]float32, len(chunk))
				for j, k := range chunk {
					fb[j] = fallbackVector(missText[k], c.provider.Dimensions())
					cacheFallbacks.Inc()
				}
				results[ci] = chunkResult{keys: chunk, vectors: fb, fallback: true}
				return nil
			}

			providerChunks.WithLabelValues("ok").Inc()
			for j := range vecs {
				normalizeUnit(vecs[j])
			}
			results[ci] = chunkResult{keys: chunk, vectors: vecs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("embedding batch: %w", err)
	}

	fallbacks := 0
	c.mu.Lock()
	for _, r := range results {
		for j, k := range r.keys {
			resolved[k] = r.vectors[j]
			if r.fallback {
				// Fallbacks stay out of both tiers so the provider is
				// retried on the next request for this text.
				fallbacks++
				continue
			}
			c.vectors[k] = r.vectors[j]
			c.dirty[k] = r.vectors[j]
		}
	}
	c.mu.Unlock()
	return fallbacks, nil
}

// Flush synchronously persists the current dirty set to the store.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.dirty
	c.dirty = make(map[string][]float32)
	c.mu.Unlock()

	if err := c.store.SaveBatch(ctx, batch); err != nil {
		// Put the batch back so the next flush retries it.
		c.mu.Lock()
		for k, v := range batch {
			if _, ok := c.dirty[k]; !ok {
				c.dirty[k] = v
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("embedding cache flush: %w", err)
	}
	return nil
}

// Close stops the background flusher, performs a final flush, and closes
// the store if one is configured.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if c.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ferr := c.Flush(ctx); ferr != nil {
				c.logger.Warn("embedding cache: final flush failed", slog.Any("error", ferr))
			}
			err = c.store.Close()
		}
	})
	return err
}

// flushLoop persists dirty vectors on an interval until Close.
func (c *Cache) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("embedding cache: periodic flush failed", slog.Any("error", err))
			}
			cancel()
		case <-c.done:
			return
		}
	}
}

// =============================================================================
// Fallback Vectors
// =============================================================================

// fallbackVector builds a deterministic pseudo-random unit vector for a text
// whose embedding could not be fetched. Seeding from the normalized text's
// FNV-64 hash makes repeated failures reproducible, which keeps downstream
// ranking stable across retries within one outage.
func fallbackVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 1
	}
	h := fnv.New64a()
	h.Write([]byte(Normalize(text)))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	normalizeUnit(vec)
	return vec
}

// normalizeUnit scales vec to unit length in place. Zero vectors are left
// untouched.
func normalizeUnit(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
