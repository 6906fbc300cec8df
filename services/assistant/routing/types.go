// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing classifies Persian shopping queries into handler
// categories by fusing three independent signals: deterministic pattern
// rules, LLM-extracted structured intent, and embedding similarity to a
// fixed exemplar corpus.
package routing

import "fmt"

// =============================================================================
// Category
// =============================================================================

// Category is the closed set of handler categories. Routing code switches
// over it exhaustively; adding a category means updating every switch, which
// is the point.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryProductInfo
	CategoryComparison
	CategoryPriceInquiry
	CategorySellerInfo
	CategoryRecommendation
)

// Categories lists every category in a stable order, general first.
func Categories() []Category {
	return []Category{
		CategoryGeneral,
		CategoryProductInfo,
		CategoryComparison,
		CategoryPriceInquiry,
		CategorySellerInfo,
		CategoryRecommendation,
	}
}

// String returns the category's wire name.
func (c Category) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryProductInfo:
		return "product_info"
	case CategoryComparison:
		return "comparison"
	case CategoryPriceInquiry:
		return "price_inquiry"
	case CategorySellerInfo:
		return "seller_info"
	case CategoryRecommendation:
		return "recommendation"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory maps a wire name to a Category.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "general":
		return CategoryGeneral, true
	case "product_info":
		return CategoryProductInfo, true
	case "comparison":
		return CategoryComparison, true
	case "price_inquiry":
		return CategoryPriceInquiry, true
	case "seller_info":
		return CategorySellerInfo, true
	case "recommendation":
		return CategoryRecommendation, true
	default:
		return CategoryGeneral, false
	}
}

// MarshalText implements encoding.TextMarshaler so categories serialize as
// their wire names in JSON and YAML.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, ok := ParseCategory(string(text))
	if !ok {
		return fmt.Errorf("unknown category %q", string(text))
	}
	*c = parsed
	return nil
}

// =============================================================================
// Signals and Decisions
// =============================================================================

// SignalSource identifies which path produced a RoutingSignal. Sources are
// ordered by fusion priority: hard signals outrank intent, which outranks
// semantic similarity.
type SignalSource int

const (
	SourceHardSignal SignalSource = iota
	SourceIntent
	SourceSemantic
)

func (s SignalSource) String() string {
	switch s {
	case SourceHardSignal:
		return "hard_signal"
	case SourceIntent:
		return "intent"
	case SourceSemantic:
		return "semantic"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// RoutingSignal is one path's weighted opinion about a query's category.
// Signals are ephemeral: produced per query, consumed by fusion, discarded.
type RoutingSignal struct {
	Source        SignalSource
	Category      Category
	Confidence    float64
	RationaleTags []string
	// ExtractedFields carries structured values a rule or the intent
	// extractor pulled from the query (product codes, brand names).
	ExtractedFields map[string]string
}

// RoutingDecision is the router's final answer for one query.
type RoutingDecision struct {
	Category        Category          `json:"category"`
	Confidence      float64           `json:"confidence"`
	Rationale       []string          `json:"rationale"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	ForceConclusion bool              `json:"force_conclusion"`
}

// Intent is the strict, normalized form of the LLM intent extraction. All
// slices are non-nil; absent string fields are empty; Confidence is in
// [0, 1]. Produced only by normalizeIntent.
type Intent struct {
	Category     Category
	CategorySet  bool
	Identifiers  []string
	Attributes   []string
	PriceInquiry bool
	Brand        string
	ProductType  string
	Confidence   float64
}
