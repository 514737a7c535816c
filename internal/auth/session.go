// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionMeta is request metadata recorded with a new session.
type SessionMeta struct {
	SourceAddress string
	UserAgent     string
}

// SessionManager creates, validates, refreshes and destroys sessions.
// Expiry is evaluated lazily: an expired session is deleted when it is next
// presented and reported exactly like one that never existed.
type SessionManager struct {
	repo   SessionRepository
	config SessionConfig
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(repo SessionRepository, config SessionConfig) (*SessionManager, error) {
	if repo == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("session repository is required")
	}
	if config.IdleTimeout <= 0 {
		return nil, oops.Code(CodeInvalidConfig).With("idle_timeout", config.IdleTimeout.String()).
			Errorf("session idle timeout must be positive")
	}
	if config.MaxLifetime < 0 {
		return nil, oops.Code(CodeInvalidConfig).With("max_lifetime", config.MaxLifetime.String()).
			Errorf("session max lifetime cannot be negative")
	}
	return &SessionManager{repo: repo, config: config}, nil
}

// WithRepository returns a copy of the manager bound to repo, typically a transaction-scoped one.
func (m *SessionManager) WithRepository(repo SessionRepository) *SessionManager {
	return &SessionManager{repo: repo, config: m.config}
}

// Config returns the manager configuration.
func (m *SessionManager) Config() SessionConfig {
	return m.config
}

// Open starts a session for the identity and returns its handle.
func (m *SessionManager) Open(ctx context.Context, identityID ulid.ULID, meta SessionMeta, now time.Time) (string, *Session, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return "", nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}

	handle, hash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	session := &Session{
		ID:             ulid.Make(),
		IdentityID:     identityID,
		TokenHash:      hash,
		IdleTimeout:    m.config.IdleTimeout,
		SourceAddress:  meta.SourceAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return "", nil, oops.Code("SESSION_CREATE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return handle, session, nil
}

// Validate resolves handle to its identity. Expired sessions are destroyed
// and reported as invalid.
func (m *SessionManager) Validate(ctx context.Context, handle string, now time.Time) (ulid.ULID, bool, error) {
	session, err := m.live(ctx, handle, now)
	if err != nil || session == nil {
		return ulid.ULID{}, false, err
	}
	return session.IdentityID, true, nil
}

// Touch records activity on a live session. Last activity never moves backwards.
func (m *SessionManager) Touch(ctx context.Context, handle string, now time.Time) error {
	session, err := m.live(ctx, handle, now)
	if err != nil {
		return err
	}
	if session == nil {
		return oops.Code(CodeSessionInvalid).Errorf("session not found or expired")
	}
	err = m.repo.Touch(ctx, session.TokenHash, now)
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeSessionInvalid).Errorf("session not found or expired")
	}
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}
	return nil
}

// Destroy removes the session. Unknown handles are not an error.
func (m *SessionManager) Destroy(ctx context.Context, handle string) error {
	if !wellFormedToken(handle) {
		return nil
	}
	if err := m.repo.DeleteByTokenHash(ctx, HashToken(handle)); err != nil {
		return oops.Code("SESSION_DESTROY_FAILED").Wrap(err)
	}
	return nil
}

// DestroyAllFor removes every session of the identity except keepHandle (empty keeps none).
func (m *SessionManager) DestroyAllFor(ctx context.Context, identityID ulid.ULID, keepHandle string) (int64, error) {
	keep := ""
	if keepHandle != "" {
		keep = HashToken(keepHandle)
	}
	n, err := m.repo.DeleteByIdentity(ctx, identityID, keep)
	if err != nil {
		return 0, oops.Code("SESSION_DESTROY_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return n, nil
}

// Prune deletes sessions that are expired at now.
func (m *SessionManager) Prune(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, now, m.config.MaxLifetime)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

// expiredAt reports whether the session is idle or past its absolute lifetime.
func (m *SessionManager) expiredAt(s *Session, now time.Time) bool {
	if s.IdleAt(now) {
		return true
	}
	return m.config.MaxLifetime > 0 && now.Sub(s.CreatedAt) > m.config.MaxLifetime
}

// live returns the session for handle, or nil when it is missing or expired.
func (m *SessionManager) live(ctx context.Context, handle string, now time.Time) (*Session, error) {
	if !wellFormedToken(handle) {
		return nil, nil
	}
	hash := HashToken(handle)
	session, err := m.repo.GetByTokenHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	if m.expiredAt(session, now) {
		if err := m.repo.DeleteByTokenHash(ctx, hash); err != nil {
			return nil, oops.Code("SESSION_DESTROY_FAILED").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		return nil, nil
	}
	return session, nil
}
