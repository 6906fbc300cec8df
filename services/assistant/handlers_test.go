// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bazaryar/bazaryar/services/assistant/catalog"
	"github.com/bazaryar/bazaryar/services/assistant/config"
	"github.com/bazaryar/bazaryar/services/assistant/embedding"
	"github.com/bazaryar/bazaryar/services/assistant/resolve"
	"github.com/bazaryar/bazaryar/services/assistant/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenProvider embeds text as a bag of whitespace-token axes so cosine
// similarity is token overlap.
type tokenProvider struct {
	axes map[string]int
}

const tokenProviderDims = 64

func (p *tokenProvider) axisOf(token string) int {
	if axis, ok := p.axes[token]; ok {
		return axis
	}
	axis := len(p.axes)
	if axis >= tokenProviderDims {
		panic("tokenProvider: vocabulary exceeds dimensions")
	}
	p.axes[token] = axis
	return axis
}

func (p *tokenProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *tokenProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, tokenProviderDims)
		for _, tok := range strings.Fields(t) {
			vec[p.axisOf(tok)] += 1
		}
		out[i] = vec
	}
	return out, nil
}

func (p *tokenProvider) Dimensions() int { return tokenProviderDims }
func (p *tokenProvider) Model() string   { return "token-test" }

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()

	rules, err := config.DefaultSignalRules()
	if err != nil {
		t.Fatalf("DefaultSignalRules: %v", err)
	}
	router := routing.NewRouter(routing.RouterParams{
		Detector: routing.NewHardSignalDetector(rules),
	})

	cache := embedding.NewCache(&tokenProvider{axes: map[string]int{}}, nil, nil)
	t.Cleanup(func() { cache.Close() })
	resolver := resolve.NewResolver(resolve.ResolverParams{
		Store: catalog.NewMemoryStore([]catalog.Row{
			{ID: "id7", Name: "کمد چهار کشو"},
			{ID: "id8", Name: "میز تحریر ساده"},
		}),
		Cache: cache,
	})

	return NewEngine(NewHandlers(router, resolver, nil))
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandleRouteFastAccept(t *testing.T) {
	engine := newTestEngine(t)

	w := postJSON(t, engine, "/v1/assistant/route", RouteRequest{
		Query: "مقایسه آیفون 15 با سامسونگ S24",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp RouteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Decision.Category != routing.CategoryComparison {
		t.Errorf("category = %s, want comparison", resp.Decision.Category)
	}
	if resp.ConversationID == "" {
		t.Error("response must carry a generated conversation id")
	}
	if resp.Envelope.Message == "" {
		t.Error("envelope message must not be empty")
	}
	if resp.Envelope.PrimaryIDs == nil || resp.Envelope.SecondaryIDs == nil {
		t.Error("envelope id lists must be present, not null")
	}
}

func TestHandleRouteKeepsConversationID(t *testing.T) {
	engine := newTestEngine(t)

	w := postJSON(t, engine, "/v1/assistant/route", RouteRequest{
		ConversationID: "conv-42",
		Query:          "سلام",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RouteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ConversationID != "conv-42" {
		t.Errorf("conversation_id = %q, want conv-42", resp.ConversationID)
	}
}

func TestHandleRouteRejectsMissingQuery(t *testing.T) {
	engine := newTestEngine(t)

	w := postJSON(t, engine, "/v1/assistant/route", map[string]string{"conversation_id": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", resp.Code)
	}
}

func TestHandleResolveFound(t *testing.T) {
	engine := newTestEngine(t)

	w := postJSON(t, engine, "/v1/assistant/resolve", ResolveRequest{
		Mention: "کمد چهار کشو کد D14",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Found || resp.Candidate == nil {
		t.Fatalf("response = %+v, want found candidate", resp)
	}
	if resp.Candidate.ID != "id7" {
		t.Errorf("candidate id = %q, want id7", resp.Candidate.ID)
	}
	if len(resp.Envelope.PrimaryIDs) != 1 || resp.Envelope.PrimaryIDs[0] != "id7" {
		t.Errorf("primary_ids = %v, want [id7]", resp.Envelope.PrimaryIDs)
	}
}

func TestHandleResolveNotFound(t *testing.T) {
	engine := newTestEngine(t)

	w := postJSON(t, engine, "/v1/assistant/resolve", ResolveRequest{
		Mention: "دوچرخه کوهستان حرفه ای",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("not-found must be 200, got %d", w.Code)
	}
	var resp ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Found || resp.Candidate != nil {
		t.Errorf("response = %+v, want not found", resp)
	}
	if resp.Envelope.Message == "" {
		t.Error("not-found envelope still needs a message")
	}
	if len(resp.Envelope.PrimaryIDs) != 0 {
		t.Errorf("primary_ids = %v, want empty", resp.Envelope.PrimaryIDs)
	}
}

func TestHandleHealth(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/assistant/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "assistant_") {
		t.Error("metrics output should include assistant namespace metrics")
	}
}
