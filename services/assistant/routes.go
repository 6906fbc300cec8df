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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the assistant routes with the router group.
//
// Description:
//
//	Registers all /v1/assistant/* endpoints with the given Gin router
//	group. The group should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/assistant/route - Classify a query into a handler category
//	POST /v1/assistant/resolve - Resolve a mention to a catalog identifier
//	GET  /v1/assistant/health - Health check
//
// Example:
//
//	handlers := assistant.NewHandlers(router, resolver, logger)
//
//	v1 := engine.Group("/v1")
//	assistant.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	a := rg.Group("/assistant")
	{
		a.POST("/route", handlers.HandleRoute)
		a.POST("/resolve", handlers.HandleResolve)
		a.GET("/health", handlers.HandleHealth)
	}
}

// NewEngine builds the gin engine with tracing middleware, the /v1 routes,
// and the Prometheus scrape endpoint.
func NewEngine(handlers *Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("bazaryar-assistant"))

	v1 := engine.Group("/v1")
	RegisterRoutes(v1, handlers)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return engine
}
