// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/memory"
	"github.com/ucpanel/ucpanel/internal/auth/postgres"
	authredis "github.com/ucpanel/ucpanel/internal/auth/redis"
	"github.com/ucpanel/ucpanel/internal/config"
	"github.com/ucpanel/ucpanel/internal/mail"
	"github.com/ucpanel/ucpanel/internal/observability"
	"github.com/ucpanel/ucpanel/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the primary store. The returned func releases it.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Store, func(), error)

	// AttemptLogOpener opens the Redis attempt log when it is selected.
	// Default: openAttemptLog
	AttemptLogOpener func(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.LoginAttemptLog, func(), error)

	// MailerFactory builds the outgoing mail dispatcher.
	// Default: newMailer
	MailerFactory func(cfg config.Config, logger *slog.Logger) (auth.Mailer, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Ready is called with the API address once it accepts connections.
	Ready func(addr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = openStore
	}
	if out.AttemptLogOpener == nil {
		out.AttemptLogOpener = openAttemptLog
	}
	if out.MailerFactory == nil {
		out.MailerFactory = newMailer
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, registrars...)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.Ready == nil {
		out.Ready = func(string) {}
	}
	return &out
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using the in-memory store, accounts are lost on exit")
		return memory.New(), func() {}, nil
	}
	pool, err := store.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

func openAttemptLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.LoginAttemptLog, func(), error) {
	client, err := authredis.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := authredis.NewAttemptLog(client, cfg.Redis.KeyPrefix, cfg.Auth.Lockout.Window)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("login attempts kept in redis", "addr", cfg.Redis.Addr)
	return attempts, func() {
		if err := client.Close(); err != nil {
			logger.Debug("error closing redis client", "error", err)
		}
	}, nil
}

func newMailer(cfg config.Config, logger *slog.Logger) (auth.Mailer, func(), error) {
	templates, err := mail.LoadTemplates(cfg.Mail.TemplatesDir)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Mail.Enabled {
		logger.Warn("email delivery disabled, messages will only be logged")
		return mail.NewLogMailer(templates, logger), func() {}, nil
	}
	dispatcher, err := mail.NewDispatcher(cfg.Mail, templates, logger)
	if err != nil {
		return nil, nil, err
	}
	return dispatcher, dispatcher.Close, nil
}

// runtime is the assembled auth core shared by the commands that need it.
type runtime struct {
	svc   *auth.Service
	store auth.Store
	close func()
}

// buildRuntime opens the stores and mailer and wires the auth service.
func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *ServeDeps) (*runtime, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st, closeStore, err := deps.StoreOpener(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeStore)

	if cfg.Auth.AttemptBackend == config.AttemptBackendRedis {
		attempts, closeAttempts, err := deps.AttemptLogOpener(ctx, cfg, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, closeAttempts)
		st = auth.WithAttemptLog(st, attempts)
	}

	mailer, closeMailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeMailer)

	svc, err := auth.NewService(cfg.AuthCore(), auth.ServiceDeps{
		Store:  st,
		Mailer: mailer,
		Logger: logger,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, svc.Flush)
	return &runtime{svc: svc, store: st, close: closeAll}, nil
}
