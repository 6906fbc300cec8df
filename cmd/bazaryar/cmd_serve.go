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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/bazaryar/bazaryar/services/assistant"
)

// traceStdout holds the --trace-stdout flag for the serve command.
var traceStdout bool

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant API server",
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "Export OTel spans to stdout (development)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	// Config validation failures are fatal at startup; nothing downstream
	// tolerates a half-valid config.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from incoming
	// headers through otelgin to the router and resolver spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTracing, err := setupTracing(traceStdout)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	core, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}

	handlers := assistant.NewHandlers(core.router, core.resolver, logger)
	engine := assistant.NewEngine(handlers)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting bazaryar assistant server", slog.String("address", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		core.close()
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	grace := cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", slog.Any("error", err))
	}

	// Close the core after in-flight requests drain: the cache flush is the
	// step that must not race active embedding calls.
	core.close()
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("flushing spans", slog.Any("error", err))
	}
	return nil
}

// setupTracing installs a stdout span exporter when enabled. The returned
// function flushes and shuts the provider down.
func setupTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
