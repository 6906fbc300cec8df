// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Signal Rules
// =============================================================================

//go:embed signal_rules.yaml
var defaultSignalRulesYAML []byte

// MaxYAMLFileSize bounds config files read from disk or embed. Rule and
// exemplar files are hand-maintained; anything past 1MB is a mistake.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Signal Rules Configuration Types
// =============================================================================

// SignalRulesConfig defines the hard-signal detector's vocabulary and
// pattern set.
//
// Description:
//
//	The detector's rule ORDER is fixed in code (product codes, then
//	multi-identifier comparison, then price, seller, recommendation, and
//	finally catalog vocabulary). This config supplies the vocabularies,
//	patterns, and confidences those rules consume.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type SignalRulesConfig struct {
	// Version tags the rule set for logging and cache keys.
	Version int `yaml:"version"`

	// FastAcceptThreshold is the confidence at or above which a hard-signal
	// proposal short-circuits routing without intent or semantic analysis.
	FastAcceptThreshold float64 `yaml:"fast_accept_threshold"`

	// ProductCodePatterns are regexes that capture explicit product codes
	// (e.g. "کد D14"). The first capture group, when present, is the code.
	ProductCodePatterns []string `yaml:"product_code_patterns"`

	// IdentifierPatterns match catalog identifiers: brand names and model
	// designations. Two or more distinct matches plus comparison vocabulary
	// proposes the comparison category.
	IdentifierPatterns []string `yaml:"identifier_patterns"`

	// ComparisonVocabulary, PriceVocabulary, SellerVocabulary and
	// RecommendationVocabulary are keyword lists matched against the
	// normalized query.
	ComparisonVocabulary     []string `yaml:"comparison_vocabulary"`
	PriceVocabulary          []string `yaml:"price_vocabulary"`
	SellerVocabulary         []string `yaml:"seller_vocabulary"`
	RecommendationVocabulary []string `yaml:"recommendation_vocabulary"`

	// CatalogVocabulary lists brand and category words that weakly suggest
	// product_info. This rule never clears the fast-accept threshold.
	CatalogVocabulary []string `yaml:"catalog_vocabulary"`

	// Confidences per rule, all in [0,1].
	ProductCodeConfidence    float64 `yaml:"product_code_confidence"`
	ComparisonConfidence     float64 `yaml:"comparison_confidence"`
	PriceConfidence          float64 `yaml:"price_confidence"`
	SellerConfidence         float64 `yaml:"seller_confidence"`
	RecommendationConfidence float64 `yaml:"recommendation_confidence"`
	CatalogConfidence        float64 `yaml:"catalog_confidence"`

	compiledProductCode []*regexp.Regexp
	compiledIdentifier  []*regexp.Regexp
}

// ProductCodeRegexps returns the compiled product-code patterns.
func (c *SignalRulesConfig) ProductCodeRegexps() []*regexp.Regexp { return c.compiledProductCode }

// IdentifierRegexps returns the compiled identifier patterns.
func (c *SignalRulesConfig) IdentifierRegexps() []*regexp.Regexp { return c.compiledIdentifier }

// Defaults applied when the YAML omits a value.
const (
	DefaultFastAcceptThreshold      = 0.85
	DefaultProductCodeConfidence    = 0.92
	DefaultComparisonConfidence     = 0.9
	DefaultPriceConfidence          = 0.88
	DefaultSellerConfidence         = 0.88
	DefaultRecommendationConfidence = 0.86
	DefaultCatalogConfidence        = 0.45
)

// =============================================================================
// Loading
// =============================================================================

// DefaultSignalRules loads the embedded default rule set.
func DefaultSignalRules() (*SignalRulesConfig, error) {
	return LoadSignalRules(defaultSignalRulesYAML)
}

// LoadSignalRules parses and validates a SignalRulesConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing confidences, compiles all
//	regex patterns, and validates value ranges. Compilation failure of any
//	pattern fails the whole load; a half-working detector is worse than a
//	startup error.
//
// Outputs:
//
//   - *SignalRulesConfig: The validated configuration.
//   - error: Non-nil if parsing, compilation, or validation fails.
func LoadSignalRules(data []byte) (*SignalRulesConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadSignalRules: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadSignalRules: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg SignalRulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadSignalRules: parsing YAML: %w", err)
	}

	if cfg.FastAcceptThreshold == 0 {
		cfg.FastAcceptThreshold = DefaultFastAcceptThreshold
	}
	if cfg.ProductCodeConfidence == 0 {
		cfg.ProductCodeConfidence = DefaultProductCodeConfidence
	}
	if cfg.ComparisonConfidence == 0 {
		cfg.ComparisonConfidence = DefaultComparisonConfidence
	}
	if cfg.PriceConfidence == 0 {
		cfg.PriceConfidence = DefaultPriceConfidence
	}
	if cfg.SellerConfidence == 0 {
		cfg.SellerConfidence = DefaultSellerConfidence
	}
	if cfg.RecommendationConfidence == 0 {
		cfg.RecommendationConfidence = DefaultRecommendationConfidence
	}
	if cfg.CatalogConfidence == 0 {
		cfg.CatalogConfidence = DefaultCatalogConfidence
	}

	for _, conf := range []struct {
		name string
		v    float64
	}{
		{"fast_accept_threshold", cfg.FastAcceptThreshold},
		{"product_code_confidence", cfg.ProductCodeConfidence},
		{"comparison_confidence", cfg.ComparisonConfidence},
		{"price_confidence", cfg.PriceConfidence},
		{"seller_confidence", cfg.SellerConfidence},
		{"recommendation_confidence", cfg.RecommendationConfidence},
		{"catalog_confidence", cfg.CatalogConfidence},
	} {
		if conf.v < 0 || conf.v > 1 {
			return nil, fmt.Errorf("LoadSignalRules: %s %.3f out of [0,1]", conf.name, conf.v)
		}
	}

	var err error
	if cfg.compiledProductCode, err = compileAll(cfg.ProductCodePatterns); err != nil {
		return nil, fmt.Errorf("LoadSignalRules: product_code_patterns: %w", err)
	}
	if cfg.compiledIdentifier, err = compileAll(cfg.IdentifierPatterns); err != nil {
		return nil, fmt.Errorf("LoadSignalRules: identifier_patterns: %w", err)
	}
	if len(cfg.compiledProductCode) == 0 && len(cfg.compiledIdentifier) == 0 &&
		len(cfg.ComparisonVocabulary) == 0 && len(cfg.PriceVocabulary) == 0 {
		return nil, fmt.Errorf("LoadSignalRules: rule set is empty")
	}

	return &cfg, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
