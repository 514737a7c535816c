// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// LockoutTracker throttles login attempts per submitted identifier using a
// sliding window over the append-only LoginAttemptLog.
type LockoutTracker struct {
	log    LoginAttemptLog
	config LockoutConfig
}

// NewLockoutTracker creates a LockoutTracker.
func NewLockoutTracker(log LoginAttemptLog, config LockoutConfig) (*LockoutTracker, error) {
	if log == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("login attempt log is required")
	}
	if config.MaxAttempts < 1 || config.Window <= 0 {
		return nil, oops.Code(CodeInvalidConfig).
			With("max_attempts", config.MaxAttempts).
			With("window", config.Window.String()).
			Errorf("invalid lockout configuration")
	}
	return &LockoutTracker{log: log, config: config}, nil
}

// Config returns the tracker configuration.
func (t *LockoutTracker) Config() LockoutConfig {
	return t.config
}

// WithLog returns a copy of the tracker bound to a different attempt log.
func (t *LockoutTracker) WithLog(log LoginAttemptLog) *LockoutTracker {
	return &LockoutTracker{log: log, config: t.config}
}

// NormalizeIdentifier folds case variants of an identifier into one bucket.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// RecordFailure appends a failed attempt for identifier.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identifier, sourceAddress string, now time.Time) error {
	attempt := &LoginAttempt{
		ID:            ulid.Make(),
		Identifier:    NormalizeIdentifier(identifier),
		SourceAddress: sourceAddress,
		AttemptedAt:   now,
	}
	if err := t.log.Append(ctx, attempt); err != nil {
		return oops.Code("LOCKOUT_RECORD_FAILED").With("operation", "record failure").Wrap(err)
	}
	return nil
}

// Reserve appends an attempt for identifier ahead of the credential check and
// reports whether the count including it exceeds MaxAttempts. Every request in
// a concurrent burst counts after its own append, so at most MaxAttempts of
// them are admitted per window. The count reaches one window past now so
// reservations stamped by slightly later requests are seen too.
func (t *LockoutTracker) Reserve(ctx context.Context, identifier, sourceAddress string, now time.Time) (*LoginAttempt, bool, error) {
	attempt := &LoginAttempt{
		ID:            ulid.Make(),
		Identifier:    NormalizeIdentifier(identifier),
		SourceAddress: sourceAddress,
		AttemptedAt:   now,
	}
	if err := t.log.Append(ctx, attempt); err != nil {
		return nil, false, oops.Code("LOCKOUT_RECORD_FAILED").With("operation", "reserve attempt").Wrap(err)
	}
	count, err := t.log.CountSince(ctx, attempt.Identifier, now.Add(-t.config.Window), now.Add(t.config.Window))
	if err != nil {
		return attempt, false, oops.Code("LOCKOUT_CHECK_FAILED").With("operation", "count attempts").Wrap(err)
	}
	return attempt, count > t.config.MaxAttempts, nil
}

// Release withdraws a reservation that did not end as a failed guess.
func (t *LockoutTracker) Release(ctx context.Context, attempt *LoginAttempt) error {
	if attempt == nil {
		return nil
	}
	if err := t.log.Delete(ctx, attempt.Identifier, attempt.ID); err != nil {
		return oops.Code("LOCKOUT_RELEASE_FAILED").With("operation", "release attempt").Wrap(err)
	}
	return nil
}

// IsLocked reports whether identifier has at least MaxAttempts failures in [now-Window, now].
func (t *LockoutTracker) IsLocked(ctx context.Context, identifier string, now time.Time) (bool, error) {
	count, err := t.log.CountSince(ctx, NormalizeIdentifier(identifier), now.Add(-t.config.Window), now)
	if err != nil {
		return false, oops.Code("LOCKOUT_CHECK_FAILED").With("operation", "count attempts").Wrap(err)
	}
	return count >= t.config.MaxAttempts, nil
}

// Clear removes all attempt history for identifier.
func (t *LockoutTracker) Clear(ctx context.Context, identifier string) error {
	if err := t.log.DeleteByIdentifier(ctx, NormalizeIdentifier(identifier)); err != nil {
		return oops.Code("LOCKOUT_CLEAR_FAILED").With("operation", "clear attempts").Wrap(err)
	}
	return nil
}

// Prune deletes attempts that can no longer influence a lockout decision at now.
func (t *LockoutTracker) Prune(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.log.DeleteOlderThan(ctx, now.Add(-t.config.Window))
	if err != nil {
		return 0, oops.Code("LOCKOUT_PRUNE_FAILED").With("operation", "prune attempts").Wrap(err)
	}
	return n, nil
}
