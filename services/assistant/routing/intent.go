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
// Structured Intent Extraction
// =============================================================================
//
// The model is asked for a JSON object, but model output is hostile input:
// list fields arrive as strings, strings arrive as "none"/"null", numbers
// arrive as strings. Parsing is therefore two-stage. Stage one unmarshals
// into a permissive struct of any-typed fields; stage two is normalizeIntent,
// a pure function that coerces the mess into a strict Intent. Stage two has
// no network dependency and carries the unit tests.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bazaryar/bazaryar/services/llm"
)

const intentSystemPrompt = `You classify Persian shopping-assistant queries.
Respond with ONLY a JSON object, no explanation, no markdown:
{
  "category": one of "product_info" | "comparison" | "price_inquiry" | "seller_info" | "recommendation" | "general",
  "identifiers": list of product/brand/model names mentioned,
  "attributes": list of product attributes asked about (color, size, ...),
  "price_inquiry": true if the user asks about price or cost,
  "brand": brand name if one is mentioned, else "",
  "product_type": product category if one is mentioned, else "",
  "confidence": your confidence in the category, 0.0 to 1.0
}`

// IntentExtractor asks a chat model for a structured intent and normalizes
// the reply.
//
// # Thread Safety
//
// Safe for concurrent use.
type IntentExtractor struct {
	client llm.ChatClient
	logger *slog.Logger
}

// NewIntentExtractor creates an extractor over the given chat client.
func NewIntentExtractor(client llm.ChatClient, logger *slog.Logger) *IntentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentExtractor{client: client, logger: logger}
}

// Extract classifies query. The error return covers transport and parse
// failures alike; the router treats both as signal-absent.
func (e *IntentExtractor) Extract(ctx context.Context, query string) (Intent, error) {
	response, err := e.client.Generate(ctx, llm.ChatRequest{
		System:   intentSystemPrompt,
		User:     query,
		JSONMode: true,
		MaxTokens: 256,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("intent extraction: %w", err)
	}

	jsonText, err := llm.ExtractJSON(response)
	if err != nil {
		return Intent{}, fmt.Errorf("intent extraction: %w", err)
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return Intent{}, fmt.Errorf("intent extraction: unmarshal: %w", err)
	}
	return normalizeIntent(raw), nil
}

// rawIntent is the permissive stage-one shape. Every field tolerates the
// model's favorite type confusions.
type rawIntent struct {
	Category     any `json:"category"`
	Identifiers  any `json:"identifiers"`
	Attributes   any `json:"attributes"`
	PriceInquiry any `json:"price_inquiry"`
	Brand        any `json:"brand"`
	ProductType  any `json:"product_type"`
	Confidence   any `json:"confidence"`
}

// normalizeIntent coerces a rawIntent into a strict Intent. Pure function;
// all the parsing edge cases live here and in its tests.
func normalizeIntent(raw rawIntent) Intent {
	intent := Intent{
		Identifiers: normalizeList(raw.Identifiers),
		Attributes:  normalizeList(raw.Attributes),
		Brand:       normalizeString(raw.Brand),
		ProductType: normalizeString(raw.ProductType),
	}

	if cat, ok := ParseCategory(normalizeString(raw.Category)); ok {
		intent.Category = cat
		intent.CategorySet = true
	}
	intent.PriceInquiry = normalizeBool(raw.PriceInquiry)
	intent.Confidence = clamp01(normalizeFloat(raw.Confidence))
	return intent
}

// normalizeString collapses nil, "none", "null", and whitespace to "".
func normalizeString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null", "nil", "n/a":
		return ""
	}
	return s
}

// normalizeList accepts a JSON array, a single string, or garbage, and
// always returns a non-nil slice of cleaned strings.
func normalizeList(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s := normalizeString(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		// Models sometimes return "a, b" instead of ["a", "b"].
		for _, part := range strings.Split(val, ",") {
			if s := normalizeString(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func normalizeBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

func normalizeFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
