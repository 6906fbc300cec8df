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
// Router — Signal Fusion State Machine
// =============================================================================
//
// Per query: HardSignalCheck → (FastAccept | FullAnalysis) → Fused →
// Decided.
//
// HardSignalCheck runs the deterministic rules. A proposal at or above the
// fast-accept threshold decides immediately; intent and semantic never run.
// Otherwise FullAnalysis runs intent extraction and semantic scoring
// concurrently, each degrading to signal-absent on failure, and fusion
// combines whatever arrived:
//
//	score(category) = Σ signal.confidence × weight(source)
//
// with hard 1.0 > intent 0.6 > semantic 0.35, decision confidence the
// winning aggregate over the weight sum (1.95), clamped. Ties break by
// source priority. If every signal is absent the router answers general at
// confidence 0; it never fails a request.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Fusion weights by signal source. The denominator normalizes the winning
// aggregate into a confidence.
const (
	weightHardSignal = 1.0
	weightIntent     = 0.6
	weightSemantic   = 0.35
	fusionDenom      = weightHardSignal + weightIntent + weightSemantic
)

// Exploratory-category boost at the turn ceiling.
const conclusionBoostFloor = 0.8

var routerTracer = otel.Tracer("bazaryar.assistant.routing")

// turnState tracks one conversation's budget. Guarded by Router.turnMu.
type turnState struct {
	turnCount      int
	lastCategories []Category
}

// Router fuses the three signal paths into routing decisions.
//
// # Thread Safety
//
// Safe for concurrent use. Turn state is per conversation id under an
// internal mutex; signal paths are stateless or internally synchronized.
type Router struct {
	detector *HardSignalDetector
	intent   *IntentExtractor
	semantic *SemanticScorer
	logger   *slog.Logger

	turnCeiling          int
	semanticLowThreshold float64

	turnMu sync.Mutex
	turns  map[string]*turnState
}

// RouterParams collects Router dependencies.
type RouterParams struct {
	Detector *HardSignalDetector
	Intent   *IntentExtractor
	Semantic *SemanticScorer
	Logger   *slog.Logger

	// TurnCeiling is the conversation turn budget. Zero uses 6.
	TurnCeiling int
	// SemanticLowThreshold is the floor below which semantic similarity
	// cannot override the general fallback. Zero uses 0.35.
	SemanticLowThreshold float64
}

// NewRouter creates a Router. Detector must not be nil; Intent and Semantic
// may be nil, making their signals permanently absent (degraded deploys and
// tests).
func NewRouter(p RouterParams) *Router {
	if p.Detector == nil {
		panic("routing.NewRouter: Detector must not be nil")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.TurnCeiling <= 0 {
		p.TurnCeiling = 6
	}
	if p.SemanticLowThreshold <= 0 {
		p.SemanticLowThreshold = 0.35
	}
	return &Router{
		detector:             p.Detector,
		intent:               p.Intent,
		semantic:             p.Semantic,
		logger:               p.Logger,
		turnCeiling:          p.TurnCeiling,
		semanticLowThreshold: p.SemanticLowThreshold,
		turns:                make(map[string]*turnState),
	}
}

// Route classifies one query within a conversation.
//
// # Description
//
// Never returns an error for signal failures; the zero-information answer
// is general at confidence 0. The turn counter for conversationID advances
// exactly once per call.
func (r *Router) Route(ctx context.Context, conversationID, query string) RoutingDecision {
	start := time.Now()
	defer func() { routerLatency.Observe(time.Since(start).Seconds()) }()

	ctx, span := routerTracer.Start(ctx, "router.Route")
	defer span.End()

	turnCount := r.advanceTurn(conversationID)
	atCeiling := turnCount >= r.turnCeiling

	// HardSignalCheck.
	hardSignals := r.detector.Detect(query)
	threshold := r.detector.FastAcceptThreshold()
	for _, sig := range hardSignals {
		if sig.Confidence >= threshold {
			decision := r.decide(conversationID, RoutingDecision{
				Category:        sig.Category,
				Confidence:      clamp01(sig.Confidence),
				Rationale:       append([]string{"fast_accept"}, sig.RationaleTags...),
				ExtractedFields: sig.ExtractedFields,
			}, atCeiling)
			routerDecisions.WithLabelValues(decision.Category.String(), "fast_accept").Inc()
			span.SetAttributes(
				attribute.String("routing.category", decision.Category.String()),
				attribute.String("routing.path", "fast_accept"),
			)
			return decision
		}
	}

	// FullAnalysis: intent and semantic concurrently, each optional.
	signals := hardSignals
	signals = append(signals, r.fullAnalysis(ctx, query)...)

	if len(signals) == 0 {
		decision := r.decide(conversationID, RoutingDecision{
			Category:   CategoryGeneral,
			Confidence: 0,
			Rationale:  []string{"all_signals_absent"},
		}, atCeiling)
		routerDecisions.WithLabelValues(decision.Category.String(), "default").Inc()
		return decision
	}

	decision := r.decide(conversationID, r.fuse(signals), atCeiling)
	routerDecisions.WithLabelValues(decision.Category.String(), "full_analysis").Inc()
	span.SetAttributes(
		attribute.String("routing.category", decision.Category.String()),
		attribute.String("routing.path", "full_analysis"),
		attribute.Float64("routing.confidence", decision.Confidence),
	)
	return decision
}

// fullAnalysis runs the intent and semantic paths concurrently. Errors are
// logged and converted to signal absence.
func (r *Router) fullAnalysis(ctx context.Context, query string) []RoutingSignal {
	var (
		mu      sync.Mutex
		signals []RoutingSignal
	)
	g, gctx := errgroup.WithContext(ctx)

	if r.intent != nil {
		g.Go(func() error {
			intent, err := r.intent.Extract(gctx, query)
			if err != nil {
				routerSignalAbsent.WithLabelValues(SourceIntent.String()).Inc()
				r.logger.Warn("router: intent signal absent", slog.Any("error", err))
				return nil
			}
			if sig, ok := intentSignal(intent); ok {
				mu.Lock()
				signals = append(signals, sig)
				mu.Unlock()
			}
			return nil
		})
	}

	if r.semantic != nil {
		g.Go(func() error {
			scores, err := r.semantic.Score(gctx, query)
			if err != nil {
				routerSignalAbsent.WithLabelValues(SourceSemantic.String()).Inc()
				r.logger.Warn("router: semantic signal absent", slog.Any("error", err))
				return nil
			}
			if sig, ok := r.semanticSignal(scores); ok {
				mu.Lock()
				signals = append(signals, sig)
				mu.Unlock()
			}
			return nil
		})
	}

	// Goroutines always return nil; Wait only propagates a canceled group
	// context, which also means absent signals.
	_ = g.Wait()
	return signals
}

// intentSignal converts a normalized Intent into a RoutingSignal.
func intentSignal(intent Intent) (RoutingSignal, bool) {
	if !intent.CategorySet || intent.Confidence == 0 {
		return RoutingSignal{}, false
	}
	fields := map[string]string{}
	if intent.Brand != "" {
		fields["brand"] = intent.Brand
	}
	if intent.ProductType != "" {
		fields["product_type"] = intent.ProductType
	}
	return RoutingSignal{
		Source:          SourceIntent,
		Category:        intent.Category,
		Confidence:      intent.Confidence,
		RationaleTags:   []string{"intent"},
		ExtractedFields: fields,
	}, true
}

// semanticSignal converts semantic scores into a RoutingSignal. Below the
// low threshold, semantic similarity may not steer routing away from the
// general fallback, so no signal is emitted.
func (r *Router) semanticSignal(scores SemanticScores) (RoutingSignal, bool) {
	best, score, ok := scores.Best()
	if !ok || score < r.semanticLowThreshold {
		return RoutingSignal{}, false
	}
	tag := "semantic"
	if scores.Lexical {
		tag = "semantic_lexical"
	}
	return RoutingSignal{
		Source:        SourceSemantic,
		Category:      best,
		Confidence:    score,
		RationaleTags: []string{tag},
	}, true
}

// fuse aggregates signals into a decision by weighted vote.
func (r *Router) fuse(signals []RoutingSignal) RoutingDecision {
	type tally struct {
		aggregate  float64
		bestSource SignalSource
	}
	votes := make(map[Category]*tally)
	fields := map[string]string{}
	var rationale []string

	for _, sig := range signals {
		t := votes[sig.Category]
		if t == nil {
			t = &tally{bestSource: sig.Source}
			votes[sig.Category] = t
		}
		t.aggregate += sig.Confidence * sourceWeight(sig.Source)
		if sig.Source < t.bestSource {
			t.bestSource = sig.Source
		}
		rationale = append(rationale, sig.RationaleTags...)
		for k, v := range sig.ExtractedFields {
			fields[k] = v
		}
	}

	var (
		winner  Category
		winning *tally
	)
	for _, c := range Categories() {
		t, ok := votes[c]
		if !ok {
			continue
		}
		if winning == nil ||
			t.aggregate > winning.aggregate ||
			(t.aggregate == winning.aggregate && t.bestSource < winning.bestSource) {
			winner, winning = c, t
		}
	}
	if winning == nil {
		return RoutingDecision{Category: CategoryGeneral, Rationale: []string{"all_signals_absent"}}
	}

	if len(fields) == 0 {
		fields = nil
	}
	return RoutingDecision{
		Category:        winner,
		Confidence:      clamp01(winning.aggregate / fusionDenom),
		Rationale:       rationale,
		ExtractedFields: fields,
	}
}

func sourceWeight(s SignalSource) float64 {
	switch s {
	case SourceHardSignal:
		return weightHardSignal
	case SourceIntent:
		return weightIntent
	case SourceSemantic:
		return weightSemantic
	default:
		return 0
	}
}

// decide applies turn-ceiling policy and records the category in the
// conversation's history.
func (r *Router) decide(conversationID string, decision RoutingDecision, atCeiling bool) RoutingDecision {
	if atCeiling {
		decision.ForceConclusion = true
		forcedConclusions.Inc()
		// An exploratory winner at the ceiling gets a confidence floor so
		// the dispatch layer commits to a concrete recommendation instead
		// of asking another clarifying question.
		if decision.Category == CategoryRecommendation && decision.Confidence < conclusionBoostFloor {
			decision.Confidence = conclusionBoostFloor
			decision.Rationale = append(decision.Rationale, "conclusion_boost")
		}
	}

	r.turnMu.Lock()
	if st := r.turns[conversationID]; st != nil {
		st.lastCategories = append(st.lastCategories, decision.Category)
	}
	r.turnMu.Unlock()
	return decision
}

// advanceTurn increments and returns the conversation's turn count.
func (r *Router) advanceTurn(conversationID string) int {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	st := r.turns[conversationID]
	if st == nil {
		st = &turnState{}
		r.turns[conversationID] = st
	}
	st.turnCount++
	return st.turnCount
}

// TurnCount reports the turns consumed by a conversation so far.
func (r *Router) TurnCount(conversationID string) int {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	if st := r.turns[conversationID]; st != nil {
		return st.turnCount
	}
	return 0
}

// LastCategories returns a copy of the conversation's decided categories in
// order.
func (r *Router) LastCategories(conversationID string) []Category {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	st := r.turns[conversationID]
	if st == nil {
		return nil
	}
	out := make([]Category, len(st.lastCategories))
	copy(out, st.lastCategories)
	return out
}
