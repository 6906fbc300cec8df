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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Server.Addr)
	assert.Equal(t, "test-key", cfg.Embedding.APIKey)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 6, cfg.Router.TurnCeiling)
	assert.InDelta(t, 0.35, cfg.Router.SemanticLowThreshold, 1e-9)
	assert.InDelta(t, 0.72, cfg.Resolver.AcceptThreshold, 1e-9)
	assert.Equal(t, 40, cfg.Resolver.MaxCombinations)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load("")
	assert.Error(t, err, "empty api key must fail validation")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  shutdown_grace: 5s
embedding:
  api_key: "k"
  model: "text-embedding-3-large"
  timeout: 5s
chat:
  api_key: "k"
  model: "gpt-4o"
  timeout: 20s
router:
  turn_ceiling: 3
  semantic_low_threshold: 0.5
resolver:
  accept_threshold: 0.8
  max_combinations: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Router.TurnCeiling)
	assert.InDelta(t, 0.8, cfg.Resolver.AcceptThreshold, 1e-9)
}

func TestDefaultSignalRules(t *testing.T) {
	cfg, err := DefaultSignalRules()
	require.NoError(t, err)

	assert.InDelta(t, 0.85, cfg.FastAcceptThreshold, 1e-9)
	assert.NotEmpty(t, cfg.ProductCodeRegexps())
	assert.NotEmpty(t, cfg.IdentifierRegexps())
	assert.NotEmpty(t, cfg.ComparisonVocabulary)
	assert.NotEmpty(t, cfg.PriceVocabulary)
	assert.Less(t, cfg.CatalogConfidence, cfg.FastAcceptThreshold,
		"catalog vocabulary must never fast-accept")
}

func TestLoadSignalRulesRejectsBadRegex(t *testing.T) {
	_, err := LoadSignalRules([]byte(`
version: 1
product_code_patterns: ["([unclosed"]
comparison_vocabulary: ["x"]
price_vocabulary: ["y"]
`))
	assert.Error(t, err)
}

func TestLoadSignalRulesRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := LoadSignalRules([]byte(`
version: 1
price_confidence: 1.5
price_vocabulary: ["قیمت"]
comparison_vocabulary: ["مقایسه"]
`))
	assert.Error(t, err)
}

func TestDefaultExemplars(t *testing.T) {
	cfg, err := DefaultExemplars()
	require.NoError(t, err)

	for _, cat := range []string{"product_info", "comparison", "price_inquiry", "seller_info", "recommendation", "general"} {
		assert.GreaterOrEqual(t, len(cfg.Categories[cat]), minExemplarsPerCategory,
			"category %s is too thin for mean top-3 scoring", cat)
	}
}

func TestLoadExemplarsRejectsThinCategory(t *testing.T) {
	_, err := LoadExemplars([]byte(`
version: 1
categories:
  general: ["سلام"]
`))
	assert.Error(t, err)
}

func TestWatcherReloadsSignalRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	valid := []byte(`
version: 2
comparison_vocabulary: ["مقایسه"]
price_vocabulary: ["قیمت"]
`)
	require.NoError(t, os.WriteFile(path, valid, 0o600))

	var got atomic.Pointer[SignalRulesConfig]
	w, err := NewWatcher(path, "", func(c *SignalRulesConfig) { got.Store(c) }, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, valid, 0o600))

	require.Eventually(t, func() bool {
		c := got.Load()
		return c != nil && c.Version == 2
	}, 3*time.Second, 50*time.Millisecond, "watcher did not deliver reloaded rules")
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nprice_vocabulary: [\"x\"]\ncomparison_vocabulary: [\"y\"]\n"), 0o600))

	var calls atomic.Int64
	w, err := NewWatcher(path, "", func(*SignalRulesConfig) { calls.Add(1) }, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(": not yaml : ["), 0o600))
	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, calls.Load(), "invalid file must not reach the callback")
}
