// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ucpanel/ucpanel/internal/config"
	"github.com/ucpanel/ucpanel/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the UCPanel CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ucpanel",
		Short: "UCPanel - game server control panel",
		Long: `UCPanel is the control panel for a game server. It owns player
accounts, logins, sessions and password recovery.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/ucpanel/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewBanCmd(true))
	cmd.AddCommand(NewBanCmd(false))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setupLogging installs the configured default logger.
func setupLogging(cfg config.Config) (*slog.Logger, error) {
	return logging.SetDefault(logging.Options{
		Service: "ucpanel",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
}
