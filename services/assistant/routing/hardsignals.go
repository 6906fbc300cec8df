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
// Hard-Signal Detector
// =============================================================================
//
// Deterministic pattern rules over the normalized query. Rules run in a
// fixed priority order and each proposes (category, confidence, tags,
// extracted fields). The router fast-accepts the first proposal whose
// confidence clears the threshold; rule matches are cheap and the
// unambiguous cases (explicit product codes, two identifiers plus
// comparison language) are common, so this path skips the LLM and the
// embedding lookup for a large share of traffic.

import (
	"strings"
	"sync/atomic"

	"github.com/bazaryar/bazaryar/services/assistant/config"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
)

// HardSignalDetector evaluates the rule set against queries.
//
// # Thread Safety
//
// Safe for concurrent use. ReplaceRules swaps the rule set atomically for
// hot reload.
type HardSignalDetector struct {
	rules atomic.Pointer[config.SignalRulesConfig]
}

// NewHardSignalDetector creates a detector over the given rule set.
func NewHardSignalDetector(rules *config.SignalRulesConfig) *HardSignalDetector {
	d := &HardSignalDetector{}
	d.rules.Store(rules)
	return d
}

// ReplaceRules swaps in a new rule set. In-flight detections finish on the
// old set.
func (d *HardSignalDetector) ReplaceRules(rules *config.SignalRulesConfig) {
	d.rules.Store(rules)
}

// FastAcceptThreshold returns the active rule set's short-circuit threshold.
func (d *HardSignalDetector) FastAcceptThreshold() float64 {
	return d.rules.Load().FastAcceptThreshold
}

// Detect runs the rules in priority order and returns every proposal, best
// first. An empty slice means no rule fired.
//
// The query is canonicalized before matching (digit folding, Arabic letter
// variants, lowercasing), so rules never see raw user spelling.
func (d *HardSignalDetector) Detect(query string) []RoutingSignal {
	rules := d.rules.Load()
	text := embedding.Normalize(query)
	var signals []RoutingSignal

	// 1. Explicit product code.
	if code, ok := matchProductCode(rules, text); ok {
		signals = append(signals, RoutingSignal{
			Source:          SourceHardSignal,
			Category:        CategoryProductInfo,
			Confidence:      rules.ProductCodeConfidence,
			RationaleTags:   []string{"product_code"},
			ExtractedFields: map[string]string{"product_code": code},
		})
	}

	// 2. Two or more identifiers plus comparison language.
	idents := matchIdentifiers(rules, text)
	if len(idents) >= 2 && containsAny(text, rules.ComparisonVocabulary) {
		signals = append(signals, RoutingSignal{
			Source:          SourceHardSignal,
			Category:        CategoryComparison,
			Confidence:      rules.ComparisonConfidence,
			RationaleTags:   []string{"multi_identifier", "comparison_vocab"},
			ExtractedFields: map[string]string{"identifiers": strings.Join(idents, "|")},
		})
	}

	// 3. Price language.
	if containsAny(text, rules.PriceVocabulary) {
		signals = append(signals, RoutingSignal{
			Source:        SourceHardSignal,
			Category:      CategoryPriceInquiry,
			Confidence:    rules.PriceConfidence,
			RationaleTags: []string{"price_vocab"},
		})
	}

	// 4. Seller language.
	if containsAny(text, rules.SellerVocabulary) {
		signals = append(signals, RoutingSignal{
			Source:        SourceHardSignal,
			Category:      CategorySellerInfo,
			Confidence:    rules.SellerConfidence,
			RationaleTags: []string{"seller_vocab"},
		})
	}

	// 5. Recommendation language.
	if containsAny(text, rules.RecommendationVocabulary) {
		signals = append(signals, RoutingSignal{
			Source:        SourceHardSignal,
			Category:      CategoryRecommendation,
			Confidence:    rules.RecommendationConfidence,
			RationaleTags: []string{"recommendation_vocab"},
		})
	}

	// 6. Catalog vocabulary. Low confidence, never fast-accepts.
	if containsAny(text, rules.CatalogVocabulary) {
		signals = append(signals, RoutingSignal{
			Source:        SourceHardSignal,
			Category:      CategoryProductInfo,
			Confidence:    rules.CatalogConfidence,
			RationaleTags: []string{"catalog_vocab"},
		})
	}

	return signals
}

func matchProductCode(rules *config.SignalRulesConfig, text string) (string, bool) {
	for _, re := range rules.ProductCodeRegexps() {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return m[0], true
	}
	return "", false
}

// matchIdentifiers returns the distinct identifier strings found in text.
func matchIdentifiers(rules *config.SignalRulesConfig, text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, re := range rules.IdentifierRegexps() {
		for _, m := range re.FindAllString(text, -1) {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func containsAny(text string, vocabulary []string) bool {
	for _, word := range vocabulary {
		if word != "" && strings.Contains(text, embedding.Normalize(word)) {
			return true
		}
	}
	return false
}
