// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bazaryar/bazaryar/services/assistant/catalog"
	"github.com/bazaryar/bazaryar/services/assistant/config"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
	"github.com/bazaryar/bazaryar/services/assistant/resolve"
	"github.com/bazaryar/bazaryar/services/assistant/routing"
	"github.com/bazaryar/bazaryar/services/assistant/vectorindex"
	"github.com/bazaryar/bazaryar/services/llm"
)

// core holds the wired assistant components and everything that needs
// closing on shutdown.
type core struct {
	cfg      *config.Config
	router   *routing.Router
	resolver *resolve.Resolver

	cache   *embedding.Cache
	sqlite  *catalog.SQLiteStore
	watcher *config.Watcher
	logger  *slog.Logger
}

// buildCore wires the assistant from configuration.
//
// Configuration and dimension errors are fatal and returned; degraded
// external dependencies (unavailable cache directory, missing catalog file)
// log a warning and fall back, matching the runtime degradation policy.
func buildCore(cfg *config.Config, logger *slog.Logger) (*core, error) {
	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIProviderConfig{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	// Persistent vector cache. Unavailable storage degrades to memory-only.
	var store embedding.CacheStore
	if cfg.Embedding.CacheDir != "" {
		badgerStore, err := embedding.OpenBadgerCacheStore(cfg.Embedding.CacheDir, cfg.Embedding.CacheTTL, logger)
		if err != nil {
			logger.Warn("embedding cache store unavailable, running in-memory only",
				slog.String("path", cfg.Embedding.CacheDir),
				slog.Any("error", err))
		} else {
			store = badgerStore
		}
	}
	cache := embedding.NewCache(provider, store, logger)

	chat, err := llm.NewOpenAIChatClient(llm.OpenAIChatConfig{
		APIKey:  cfg.Chat.APIKey,
		BaseURL: cfg.Chat.BaseURL,
		Model:   cfg.Chat.Model,
		Timeout: cfg.Chat.Timeout,
	}, logger)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("chat client: %w", err)
	}

	rules, err := loadSignalRules(cfg.SignalRulesPath)
	if err != nil {
		cache.Close()
		return nil, err
	}
	exemplars, err := loadExemplars(cfg.ExemplarsPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	detector := routing.NewHardSignalDetector(rules)
	memo := vectorindex.NewMemoizer(0)
	scorer := routing.NewSemanticScorer(exemplars, cache, memo, logger)
	router := routing.NewRouter(routing.RouterParams{
		Detector:             detector,
		Intent:               routing.NewIntentExtractor(chat, logger),
		Semantic:             scorer,
		Logger:               logger,
		TurnCeiling:          cfg.Router.TurnCeiling,
		SemanticLowThreshold: cfg.Router.SemanticLowThreshold,
	})

	c := &core{
		cfg:    cfg,
		router: router,
		cache:  cache,
		logger: logger,
	}

	catalogStore, err := c.openCatalog()
	if err != nil {
		cache.Close()
		return nil, err
	}
	c.resolver = resolve.NewResolver(resolve.ResolverParams{
		Store:           catalogStore,
		Cache:           cache,
		Memo:            memo,
		AcceptThreshold: cfg.Resolver.AcceptThreshold,
		MaxCombinations: cfg.Resolver.MaxCombinations,
		Logger:          logger,
	})

	// Hot reload for rule and exemplar files, only when file-backed.
	if cfg.SignalRulesPath != "" || cfg.ExemplarsPath != "" {
		watcher, err := config.NewWatcher(cfg.SignalRulesPath, cfg.ExemplarsPath,
			detector.ReplaceRules, scorer.ReplaceExemplars, logger)
		if err != nil {
			logger.Warn("config watcher unavailable, hot reload disabled", slog.Any("error", err))
		} else {
			c.watcher = watcher
		}
	}

	return c, nil
}

// openCatalog opens the SQLite catalog, or an empty in-memory store when no
// path is configured.
func (c *core) openCatalog() (catalog.Store, error) {
	if c.cfg.Catalog.SQLitePath == "" {
		c.logger.Warn("no catalog configured, resolution will always miss")
		return catalog.NewMemoryStore(nil), nil
	}
	sqlite, err := catalog.OpenSQLite(c.cfg.Catalog.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c.sqlite = sqlite
	return sqlite, nil
}

// close releases everything buildCore opened, flushing the embedding cache
// last writes included.
func (c *core) close() {
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			c.logger.Warn("closing config watcher", slog.Any("error", err))
		}
	}
	if err := c.cache.Close(); err != nil {
		c.logger.Warn("closing embedding cache", slog.Any("error", err))
	}
	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil {
			c.logger.Warn("closing catalog", slog.Any("error", err))
		}
	}
}

func loadSignalRules(path string) (*config.SignalRulesConfig, error) {
	if path == "" {
		return config.DefaultSignalRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signal rules: %w", err)
	}
	return config.LoadSignalRules(data)
}

func loadExemplars(path string) (*config.ExemplarsConfig, error) {
	if path == "" {
		return config.DefaultExemplars()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("exemplars: %w", err)
	}
	return config.LoadExemplars(data)
}

// loadConfig is shared by every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
