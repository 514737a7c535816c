// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, identity_id, token_hash, idle_timeout_seconds,
			source_address, user_agent, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID.String(),
		session.IdentityID.String(),
		session.TokenHash,
		seconds(session.IdleTimeout),
		session.SourceAddress,
		session.UserAgent,
		session.CreatedAt,
		session.LastActivityAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("SESSION_CONFLICT").Wrap(auth.ErrConflict)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("identity_id", session.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		s                  auth.Session
		idStr, identityStr string
		idleSeconds        int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, identity_id, token_hash, idle_timeout_seconds,
		       source_address, user_agent, created_at, last_activity_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(&idStr, &identityStr, &s.TokenHash, &idleSeconds,
		&s.SourceAddress, &s.UserAgent, &s.CreatedAt, &s.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "get session by token hash").Wrap(err)
	}
	if s.ID, err = parseULID(idStr, "id"); err != nil {
		return nil, err
	}
	if s.IdentityID, err = parseULID(identityStr, "identity_id"); err != nil {
		return nil, err
	}
	s.IdleTimeout = time.Duration(idleSeconds) * time.Second
	return &s, nil
}

// Touch advances last_activity_at to at if the session is still live at at.
// Activity never moves backwards.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE token_hash = $1
		  AND last_activity_at + idle_timeout_seconds * INTERVAL '1 second' >= $2
	`, tokenHash, at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").With("operation", "touch session").Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByTokenHash removes a session. Removing a missing session is not an error.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "delete session").Wrap(err)
	}
	return nil
}

// DeleteByIdentity removes every session of identityID except keepTokenHash.
func (r *SessionRepository) DeleteByIdentity(ctx context.Context, identityID ulid.ULID, keepTokenHash string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE identity_id = $1 AND token_hash <> $2
	`, identityID.String(), keepTokenHash)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete identity sessions").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions idle at now or older than maxLifetime.
// A zero maxLifetime disables the absolute limit.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time, maxLifetime time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE last_activity_at + idle_timeout_seconds * INTERVAL '1 second' < $1
		   OR ($2::bigint > 0 AND created_at + $2::bigint * INTERVAL '1 second' < $1)
	`, now, seconds(maxLifetime))
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").With("operation", "prune sessions").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
