// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"context"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/config"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions, reset tokens and stale login attempts once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSweepWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

func runSweepWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper, err := auth.NewSweeper(cfg.Auth.Sweep, rt.svc)
	if err != nil {
		return err
	}
	stats, err := sweeper.RunOnce(ctx)

	for _, kind := range slices.Sorted(maps.Keys(stats)) {
		cmd.Printf("%s: %d removed\n", kind, stats[kind])
	}
	return err
}
