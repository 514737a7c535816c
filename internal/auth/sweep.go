// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/pkg/errutil"
)

// DefaultSweepInterval is how often the Sweeper runs when unconfigured.
const DefaultSweepInterval = 5 * time.Minute

// Sweep kinds, used as log keys and metric labels.
const (
	SweepSessions    = "sessions"
	SweepResetTokens = "reset_tokens"
	SweepAttempts    = "login_attempts"
)

// Pruner deletes records that are no longer live at now and reports how many it removed.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// SweepConfig configures the Sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// SweepStats reports the outcome of one sweep.
type SweepStats map[string]int64

// Sweeper periodically removes expired sessions, reset tokens and stale login
// attempts. Expiry is always enforced on read, so sweeping only reclaims space.
type Sweeper struct {
	interval time.Duration
	targets  []sweepTarget
	logger   *slog.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type sweepTarget struct {
	kind   string
	pruner Pruner
}

// NewSweeper creates a Sweeper over the service's housekeeping components.
func NewSweeper(cfg SweepConfig, svc *Service) (*Sweeper, error) {
	if svc == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("service is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	return &Sweeper{
		interval: cfg.Interval,
		targets: []sweepTarget{
			{kind: SweepSessions, pruner: svc.Sessions()},
			{kind: SweepResetTokens, pruner: svc.Resets()},
			{kind: SweepAttempts, pruner: svc.Lockout()},
		},
		logger: svc.logger,
		clock:  svc.now,
	}, nil
}

// RunOnce executes a single sweep. Every target is attempted even if earlier
// ones fail; errors are combined.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	now := w.clock()
	stats := make(SweepStats, len(w.targets))
	var errs []error

	for _, t := range w.targets {
		n, err := t.pruner.Prune(ctx, now)
		if err != nil {
			errutil.LogErrorContext(ctx, w.logger, "sweep failed", err, "kind", t.kind)
			errs = append(errs, err)
			continue
		}
		stats[t.kind] = n
		if n > 0 {
			SweptTotal.WithLabelValues(t.kind).Add(float64(n))
			w.logger.InfoContext(ctx, "swept expired records", "kind", t.kind, "count", n)
		}
	}
	return stats, errors.Join(errs...)
}

// Start begins periodic sweeping.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				errutil.LogErrorContext(ctx, w.logger, "sweep cycle failed", err)
			}
		}
	}
}
