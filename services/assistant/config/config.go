// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the assistant's configuration: the
// top-level service config, the hard-signal rule set, and the semantic
// exemplar corpus. All three ship with embedded defaults so the binary runs
// with no files on disk; files, when given, replace the embedded content
// wholesale.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultConfigYAML []byte

// Config is the top-level service configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	Server    ServerConfig    `yaml:"server" validate:"required"`
	Embedding EmbeddingConfig `yaml:"embedding" validate:"required"`
	Chat      ChatConfig      `yaml:"chat" validate:"required"`
	Router    RouterConfig    `yaml:"router" validate:"required"`
	Resolver  ResolverConfig  `yaml:"resolver" validate:"required"`
	Catalog   CatalogConfig   `yaml:"catalog"`

	// SignalRulesPath and ExemplarsPath override the embedded rule and
	// exemplar files. Empty uses the embedded defaults. When set, the
	// files are also watched for hot reload.
	SignalRulesPath string `yaml:"signal_rules_path" validate:"omitempty,filepath"`
	ExemplarsPath   string `yaml:"exemplars_path" validate:"omitempty,filepath"`
}

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8085".
	Addr string `yaml:"addr" validate:"required"`
	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"min=0"`
}

type EmbeddingConfig struct {
	// APIKey authenticates against the embedding provider. ${VAR}
	// references are expanded from the environment at load time.
	APIKey string `yaml:"api_key" validate:"required"`
	// BaseURL overrides the provider endpoint for compatible gateways.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Model is the embedding model name.
	Model string `yaml:"model" validate:"required"`
	// Timeout bounds each embedding request.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
	// CacheDir is the BadgerDB directory for the persistent vector cache.
	// Empty runs in-memory only.
	CacheDir string `yaml:"cache_dir"`
	// CacheTTL is the persisted vector lifetime. Zero uses 30 days.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"min=0"`
}

type ChatConfig struct {
	APIKey  string        `yaml:"api_key" validate:"required"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Model   string        `yaml:"model" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type RouterConfig struct {
	// TurnCeiling is the conversation turn budget. At the ceiling the
	// router forces conclusion.
	TurnCeiling int `yaml:"turn_ceiling" validate:"min=1"`
	// SemanticLowThreshold is the floor below which semantic similarity
	// cannot override the general fallback.
	SemanticLowThreshold float64 `yaml:"semantic_low_threshold" validate:"min=0,max=1"`
}

type ResolverConfig struct {
	// AcceptThreshold is the minimum re-rank similarity for an embedding
	// match to be returned instead of "not found".
	AcceptThreshold float64 `yaml:"accept_threshold" validate:"min=0,max=1"`
	// MaxCombinations caps substring-AND queries per combination size.
	MaxCombinations int `yaml:"max_combinations" validate:"min=1"`
}

type CatalogConfig struct {
	// SQLitePath is the catalog database. Empty uses an empty in-memory
	// store, which is only useful for smoke tests.
	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads configuration from path, or the embedded defaults when path is
// empty, expands ${VAR} environment references, and validates the result.
//
// Validation failure is returned to the caller, which treats it as fatal at
// startup. Nothing downstream tolerates a half-valid config.
func Load(path string) (*Config, error) {
	data := defaultConfigYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("config: file exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}
