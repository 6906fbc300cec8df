// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant is the HTTP surface over the routing and resolution
// core. Handlers stay thin: they bind a request, call one core operation,
// and format the uniform response envelope. All interesting behavior lives
// in the subpackages.
package assistant

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bazaryar/bazaryar/services/assistant/resolve"
	"github.com/bazaryar/bazaryar/services/assistant/routing"
)

// =============================================================================
// Wire Types
// =============================================================================

// Envelope is the uniform response shape every handler returns regardless
// of which path produced the answer.
type Envelope struct {
	Message      string   `json:"message"`
	PrimaryIDs   []string `json:"primary_ids"`
	SecondaryIDs []string `json:"secondary_ids"`
}

// ErrorResponse is the error shape for 4xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RouteRequest is the body of POST /v1/assistant/route.
type RouteRequest struct {
	// ConversationID ties the request to a turn budget. Empty means a new
	// conversation; the response carries the generated ID.
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query" binding:"required"`
}

// RouteResponse carries the routing decision plus the envelope the dispatch
// layer would hand to the end user.
type RouteResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Decision       routing.RoutingDecision `json:"decision"`
	Envelope       Envelope                `json:"envelope"`
}

// ResolveRequest is the body of POST /v1/assistant/resolve.
type ResolveRequest struct {
	Mention string `json:"mention" binding:"required"`
}

// ResolveResponse carries the winning candidate, when there is one, plus
// the envelope.
type ResolveResponse struct {
	Found     bool                     `json:"found"`
	Candidate *resolve.EntityCandidate `json:"candidate,omitempty"`
	Envelope  Envelope                 `json:"envelope"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers binds the HTTP surface to the routing and resolution core.
//
// # Thread Safety
//
// Safe for concurrent use; handlers hold no per-request state.
type Handlers struct {
	router   *routing.Router
	resolver *resolve.Resolver
	logger   *slog.Logger
}

// NewHandlers creates the handler set. Router and resolver are required.
func NewHandlers(router *routing.Router, resolver *resolve.Resolver, logger *slog.Logger) *Handlers {
	if router == nil {
		panic("assistant.NewHandlers: router must not be nil")
	}
	if resolver == nil {
		panic("assistant.NewHandlers: resolver must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{router: router, resolver: resolver, logger: logger}
}

// categoryMessages are the user-facing Persian acknowledgements per routed
// category. The dispatch layer's real answer generation is out of scope
// here; the envelope still needs a message.
var categoryMessages = map[routing.Category]string{
	routing.CategoryGeneral:        "چطور می‌تونم کمکتون کنم؟",
	routing.CategoryProductInfo:    "مشخصات محصول رو براتون پیدا می‌کنم.",
	routing.CategoryComparison:     "این موارد رو براتون مقایسه می‌کنم.",
	routing.CategoryPriceInquiry:   "قیمت‌ها رो براتون بررسی می‌کنم.",
	routing.CategorySellerInfo:     "اطلاعات فروشنده رو براتون می‌آورم.",
	routing.CategoryRecommendation: "این‌ها می‌تونن گزینه‌های خوبی باشن.",
}

const notFoundMessage = "موردی با این مشخصات پیدا نکردم."

// HandleRoute handles POST /v1/assistant/route.
//
// A routing failure never surfaces as an HTTP error: the router's contract
// already degrades to general/confidence 0, and the handler passes that
// through.
func (h *Handlers) HandleRoute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleRoute"))

	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query must not be blank",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	decision := h.router.Route(c.Request.Context(), conversationID, req.Query)
	logger.Debug("routed",
		slog.String("category", decision.Category.String()),
		slog.Float64("confidence", decision.Confidence))

	c.JSON(http.StatusOK, RouteResponse{
		ConversationID: conversationID,
		Decision:       decision,
		Envelope: Envelope{
			Message:      categoryMessages[decision.Category],
			PrimaryIDs:   []string{},
			SecondaryIDs: []string{},
		},
	})
}

// HandleResolve handles POST /v1/assistant/resolve.
//
// Resolution failure is a 200 with found=false and a generic not-found
// message, never an error status: "I don't know" is a valid answer.
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleResolve"))

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "mention is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	candidate, ok, err := h.resolver.Resolve(c.Request.Context(), req.Mention)
	if err != nil {
		// Only context cancellation reaches here; the client is gone.
		logger.Warn("resolution canceled", slog.Any("error", err))
		c.Status(http.StatusRequestTimeout)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, ResolveResponse{
			Found: false,
			Envelope: Envelope{
				Message:      notFoundMessage,
				PrimaryIDs:   []string{},
				SecondaryIDs: []string{},
			},
		})
		return
	}

	c.JSON(http.StatusOK, ResolveResponse{
		Found:     true,
		Candidate: &candidate,
		Envelope: Envelope{
			Message:      candidate.DisplayText,
			PrimaryIDs:   []string{candidate.ID},
			SecondaryIDs: []string{},
		},
	})
}

// HandleHealth handles GET /v1/assistant/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// getOrCreateRequestID returns the caller's X-Request-ID or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
