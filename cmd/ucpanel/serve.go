// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/captcha"
	"github.com/ucpanel/ucpanel/internal/config"
	"github.com/ucpanel/ucpanel/internal/observability"
	"github.com/ucpanel/ucpanel/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the panel API",
		Long: `Start the panel API together with the background sweeper and the
metrics/health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the panel with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting ucpanel",
		"version", version,
		"store", cfg.Store,
		"attempt_backend", cfg.Auth.AttemptBackend,
		"http_addr", cfg.HTTP.Addr)

	rt, err := buildRuntime(ctx, cfg, logger, deps)
	if err != nil {
		return oops.With("operation", "build auth runtime").Wrap(err)
	}
	defer rt.close()

	var captchaSource web.CaptchaSource
	if cfg.Auth.Captcha.Enabled {
		client, err := captcha.NewClient(cfg.Captcha, nil, logger)
		if err != nil {
			return err
		}
		captchaSource = client
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper, err := auth.NewSweeper(cfg.Auth.Sweep, rt.svc)
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, auth.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	api, err := web.NewServer(web.Options{
		CookieName:        cfg.HTTP.CookieName,
		CookieSecure:      cfg.HTTP.CookieSecure,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
	}, web.Deps{
		Service: rt.svc,
		Captcha: captchaSource,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		stopObservability(obsServer, cfg, logger)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, cfg, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := web.HTTPServer(cfg.HTTP.Addr, api, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	ready.Store(true)
	cmd.Println("UCPanel started")
	logger.Info("panel api listening", "addr", listener.Addr().String())
	deps.Ready(listener.Addr().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping panel api", "error", err)
	}
	stopObservability(obsServer, cfg, logger)

	logger.Info("shutdown complete")
	return runErr
}

func stopObservability(obsServer ObservabilityServer, cfg config.Config, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
