// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bazaryar runs the Persian shopping-assistant core.
//
// Usage:
//
//	bazaryar serve                      # start the API server
//	bazaryar serve --config conf.yaml   # with a config file
//	bazaryar route "قیمت یخچال چنده؟"   # one-shot routing decision
//	bazaryar resolve "کمد چهار کشو"     # one-shot entity resolution
//
// Example requests against a running server:
//
//	curl http://localhost:8085/v1/assistant/health
//
//	curl -X POST http://localhost:8085/v1/assistant/route \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "مقایسه آیفون 15 با سامسونگ S24"}'
//
//	curl -X POST http://localhost:8085/v1/assistant/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"mention": "کمد چهار کشو کد D14"}'
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// configPath and debugMode hold global flag values.
var (
	configPath string
	debugMode  bool
)

func main() {
	root := &cobra.Command{
		Use:           "bazaryar",
		Short:         "Persian shopping-assistant core: routing, resolution, embeddings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(debugMode)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (empty uses embedded defaults)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging and gin debug mode")

	root.AddCommand(newServeCommand())
	root.AddCommand(newRouteCommand())
	root.AddCommand(newResolveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging installs a JSON slog handler as the process default.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
