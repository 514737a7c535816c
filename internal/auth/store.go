// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// LoginAttempt is one failed login for a submitted identifier.
type LoginAttempt struct {
	ID            ulid.ULID
	Identifier    string
	SourceAddress string
	AttemptedAt   time.Time
}

// LoginAttemptLog is the append-only failed attempt log behind the LockoutTracker.
type LoginAttemptLog interface {
	// Append durably records an attempt. Concurrent appends must never be lost.
	Append(ctx context.Context, attempt *LoginAttempt) error

	// CountSince counts attempts for identifier within [since, until].
	CountSince(ctx context.Context, identifier string, since, until time.Time) (int, error)

	// Delete removes a single attempt. Missing attempts are not an error.
	Delete(ctx context.Context, identifier string, id ulid.ULID) error

	// DeleteByIdentifier removes every attempt for identifier.
	DeleteByIdentifier(ctx context.Context, identifier string) error

	// DeleteOlderThan removes attempts before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResetToken is a single-use password reset credential. Only the token hash is stored.
type ResetToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// ActiveAt reports whether the token is unconsumed and unexpired at now.
// A token is still valid at exactly its expiry instant.
func (r *ResetToken) ActiveAt(now time.Time) bool {
	return r.ConsumedAt == nil && !now.After(r.ExpiresAt)
}

// ResetTokenRepository manages reset token persistence.
type ResetTokenRepository interface {
	// Upsert stores the token, atomically replacing any prior token for the same identity.
	Upsert(ctx context.Context, token *ResetToken) error

	// GetByTokenHash retrieves a token by hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// MarkConsumed consumes the token if it is still active at now.
	// Returns false when no active token matched.
	MarkConsumed(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// DeleteInactive removes consumed tokens and tokens expired before now.
	DeleteInactive(ctx context.Context, now time.Time) (int64, error)
}

// Session is a server-side login session. Only the handle hash is stored.
type Session struct {
	ID             ulid.ULID
	IdentityID     ulid.ULID
	TokenHash      string
	IdleTimeout    time.Duration
	SourceAddress  string
	UserAgent      string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// IdleAt reports whether now is past the session's idle deadline.
func (s *Session) IdleAt(now time.Time) bool {
	return now.Sub(s.LastActivityAt) > s.IdleTimeout
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by handle hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Touch advances last activity to at if the session is still within its
	// idle timeout at that moment. Last activity never moves backwards.
	// Returns ErrNotFound when no live session matched.
	Touch(ctx context.Context, tokenHash string, at time.Time) error

	// DeleteByTokenHash removes a session. Missing sessions are not an error.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteByIdentity removes every session of the identity except the one
	// whose hash equals keepTokenHash (empty keeps none).
	DeleteByIdentity(ctx context.Context, identityID ulid.ULID, keepTokenHash string) (int64, error)

	// DeleteExpired removes sessions idle at now, and when maxLifetime is
	// positive also sessions created more than maxLifetime before now.
	DeleteExpired(ctx context.Context, now time.Time, maxLifetime time.Duration) (int64, error)
}

// Login history statuses.
const (
	LoginStatusSuccess        = "success"
	LoginStatusFailedPassword = "failed_password"
)

// LoginRecord is one entry of an identity's login history.
type LoginRecord struct {
	ID            ulid.ULID `json:"id"`
	IdentityID    ulid.ULID `json:"-"`
	SourceAddress string    `json:"source_address"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

// LoginHistoryRepository manages login history persistence.
type LoginHistoryRepository interface {
	Append(ctx context.Context, record *LoginRecord) error
	// List returns up to limit records for the identity, newest first.
	List(ctx context.Context, identityID ulid.ULID, limit int) ([]*LoginRecord, error)
}

// Store aggregates the repositories the auth core needs.
type Store interface {
	Identities() IdentityRepository
	Attempts() LoginAttemptLog
	Resets() ResetTokenRepository
	Sessions() SessionRepository
	History() LoginHistoryRepository

	// InTx runs fn with a Store whose repositories share one transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// WithAttemptLog returns a Store that serves Attempts from log and everything
// else from base. Used to keep the attempt log in redis.
func WithAttemptLog(base Store, log LoginAttemptLog) Store {
	return &attemptOverride{Store: base, log: log}
}

type attemptOverride struct {
	Store
	log LoginAttemptLog
}

func (s *attemptOverride) Attempts() LoginAttemptLog { return s.log }

func (s *attemptOverride) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.Store.InTx(ctx, func(tx Store) error {
		return fn(&attemptOverride{Store: tx, log: s.log})
	})
}
