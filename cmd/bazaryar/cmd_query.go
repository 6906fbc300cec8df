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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// oneShotTimeout bounds a single CLI routing or resolution call.
const oneShotTimeout = 30 * time.Second

func newRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route [query]",
		Short: "Classify one query and print the routing decision as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withCore(func(ctx context.Context, c *core) error {
				decision := c.router.Route(ctx, "cli", query)
				return printJSON(decision)
			})
		},
	}
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [mention]",
		Short: "Resolve one mention to a catalog identifier and print it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mention := strings.Join(args, " ")
			return withCore(func(ctx context.Context, c *core) error {
				candidate, ok, err := c.resolver.Resolve(ctx, mention)
				if err != nil {
					return err
				}
				if !ok {
					return printJSON(map[string]any{"found": false})
				}
				return printJSON(map[string]any{"found": true, "candidate": candidate})
			})
		},
	}
}

// withCore builds the assistant core for a one-shot call and tears it down
// afterwards, flushing the embedding cache.
func withCore(fn func(ctx context.Context, c *core) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := buildCore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer cancel()
	return fn(ctx, c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
