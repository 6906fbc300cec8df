// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps chat-completion providers behind a small interface used
// by the intent classifier and the response generator. Callers never touch
// provider SDK types; they hand over a system prompt and a user message and
// get text back.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultChatTimeout = 30 * time.Second
	defaultMaxTokens   = 1024
)

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	// System is the system prompt. May be empty.
	System string
	// User is the user message. Must not be empty.
	User string
	// JSONMode requests a JSON-object response from providers that support
	// response_format. Callers still validate through ExtractJSON; JSONMode
	// only reduces the fence-stripping the parser has to do.
	JSONMode bool
	// MaxTokens caps the completion length. Zero takes the default.
	MaxTokens int
	// Temperature in [0, 2]. The zero value maps to deterministic output,
	// which is what classification calls want.
	Temperature float32
}

// ChatClient produces chat completions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChatClient interface {
	// Generate returns the completion text for req, or an error on
	// transport failure, provider rejection, or empty completion.
	Generate(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIChatConfig configures an OpenAIChatClient.
type OpenAIChatConfig struct {
	// APIKey authenticates requests. Must not be empty.
	APIKey string
	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways
	// and for tests. Empty uses the provider default.
	BaseURL string
	// Model selects the chat model. Empty uses gpt-4o-mini.
	Model string
	// Timeout bounds each request. Zero uses 30 seconds.
	Timeout time.Duration
}

// OpenAIChatClient implements ChatClient over the OpenAI chat completions
// API, or any endpoint speaking the same wire format.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIChatClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIChatClient creates a chat client from cfg.
func NewOpenAIChatClient(cfg OpenAIChatConfig, logger *slog.Logger) (*OpenAIChatClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIChatClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Generate performs one chat completion.
func (c *OpenAIChatClient) Generate(ctx context.Context, req ChatRequest) (string, error) {
	if req.User == "" {
		return "", errors.New("llm: user message must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("llm: empty completion")
	}

	c.logger.Debug("llm: completion",
		slog.String("model", c.model),
		slog.Duration("latency", time.Since(start)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
