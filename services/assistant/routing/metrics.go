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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Routing decisions by category and path: fast_accept, full_analysis, default",
	}, []string{"category", "path"})

	routerSignalAbsent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "router",
		Name:      "signal_absent_total",
		Help:      "Signal sources that errored or timed out and were treated as absent",
	}, []string{"source"})

	semanticPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "router",
		Name:      "semantic_path_total",
		Help:      "Semantic scoring path taken: embedding, lexical",
	}, []string{"path"})

	routerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assistant",
		Subsystem: "router",
		Name:      "route_latency_seconds",
		Help:      "End-to-end latency of Route calls",
		Buckets:   []float64{0.005, 0.05, 0.2, 0.5, 1.0, 2.0, 5.0},
	})

	forcedConclusions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "router",
		Name:      "forced_conclusions_total",
		Help:      "Decisions where the turn ceiling forced conclusion",
	})
)
