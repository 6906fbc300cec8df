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

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Provider converts text to vectors by calling an external embedding service.
//
// # Description
//
// Implementations wrap one remote deployment with a fixed output dimension.
// EmbedBatch issues exactly one remote call for the whole slice — the cache
// layer above decides chunk sizes and concurrency.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order, from a
	// single remote call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector dimension of the deployment.
	Dimensions() int

	// Model identifies the embedding model; it participates in cache keys.
	Model() string
}

// embeddingDimensions maps known embedding models to their output dimension.
var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// defaultEmbedTimeout bounds a single remote embedding call. Timeouts are
// treated like any other provider failure: the cache degrades to a
// deterministic fallback vector and the pipeline keeps moving.
const defaultEmbedTimeout = 10 * time.Second

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// OpenAIProviderConfig configures an OpenAIProvider.
type OpenAIProviderConfig struct {
	// APIKey authenticates against the service. Required.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible gateways.
	// Empty uses the default OpenAI endpoint.
	BaseURL string

	// Model is the embedding model name. Default: text-embedding-3-small.
	Model string

	// Dimensions overrides the output dimension for models not in the known
	// table. Zero uses the table (falling back to 1536).
	Dimensions int

	// Timeout bounds each remote call. Zero uses the default (10s).
	Timeout time.Duration
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible service.
func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("embedding provider: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		if known, ok := embeddingDimensions[model]; ok {
			dims = known
		} else {
			dims = 1536
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dims,
		timeout:    timeout,
	}, nil
}

// Embed returns the vector for one text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one remote call, preserving input order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding call: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// The API reports an Index per datum; order by it rather than trusting
	// response ordering.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding call: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		copy(vec, d.Embedding)
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embedding call: missing vector for input %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the fixed output dimension.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}
