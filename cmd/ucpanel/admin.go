// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/config"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin with the configured Argon2id parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			hasher, err := auth.NewArgon2idHasher(cfg.Auth.Argon2)
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return oops.Code("INPUT_READ_FAILED").Wrap(err)
				}
				return oops.Code("INPUT_EMPTY").Errorf("no password on stdin")
			}
			password := strings.TrimRight(scanner.Text(), "\r")
			if password == "" {
				return oops.Code("INPUT_EMPTY").Errorf("no password on stdin")
			}

			encoded, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			cmd.Println(encoded)
			return nil
		},
	}
}

// NewBanCmd creates the ban subcommand, or unban when banned is false.
func NewBanCmd(banned bool) *cobra.Command {
	use, short := "ban USERNAME|EMAIL", "Ban an account and end its sessions"
	if !banned {
		use, short = "unban USERNAME|EMAIL", "Lift a ban"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runBanWithDeps(cmd.Context(), cfg, cmd, args[0], banned, nil)
		},
	}
}

func runBanWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, identifier string, banned bool, deps *ServeDeps) error {
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

	identity, err := rt.store.Identities().GetByLogin(ctx, identifier)
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code("IDENTITY_NOT_FOUND").With("identifier", identifier).Errorf("no account matches %q", identifier)
	}
	if err != nil {
		return err
	}

	if err := rt.store.Identities().SetBanned(ctx, identity.ID, banned, time.Now()); err != nil {
		return err
	}
	if !banned {
		logger.Info("ban lifted", "identity_id", identity.ID.String())
		cmd.Printf("%s unbanned\n", identity.Username)
		return nil
	}

	ended, err := rt.svc.Sessions().DestroyAllFor(ctx, identity.ID, "")
	if err != nil {
		return err
	}
	logger.Info("identity banned", "identity_id", identity.ID.String(), "sessions_ended", ended)
	cmd.Printf("%s banned, %d session(s) ended\n", identity.Username, ended)
	return nil
}
