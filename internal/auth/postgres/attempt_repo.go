// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// AttemptLog implements auth.LoginAttemptLog using PostgreSQL.
type AttemptLog struct {
	db DBTX
}

// NewAttemptLog creates a new AttemptLog.
func NewAttemptLog(db DBTX) *AttemptLog {
	return &AttemptLog{db: db}
}

// Append records a failed attempt.
func (l *AttemptLog) Append(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO login_attempts (id, identifier, source_address, attempted_at)
		VALUES ($1, $2, $3, $4)
	`, attempt.ID.String(), attempt.Identifier, attempt.SourceAddress, attempt.AttemptedAt)
	if err != nil {
		return oops.Code("ATTEMPT_APPEND_FAILED").With("operation", "insert login attempt").Wrap(err)
	}
	return nil
}

// CountSince counts attempts for identifier in the closed interval [since, until].
func (l *AttemptLog) CountSince(ctx context.Context, identifier string, since, until time.Time) (int, error) {
	var n int
	err := l.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND attempted_at >= $2 AND attempted_at <= $3
	`, identifier, since, until).Scan(&n)
	if err != nil {
		return 0, oops.Code("ATTEMPT_COUNT_FAILED").With("operation", "count login attempts").Wrap(err)
	}
	return n, nil
}

// Delete removes a single attempt.
func (l *AttemptLog) Delete(ctx context.Context, identifier string, id ulid.ULID) error {
	_, err := l.db.Exec(ctx, `DELETE FROM login_attempts WHERE id = $1 AND identifier = $2`, id.String(), identifier)
	if err != nil {
		return oops.Code("ATTEMPT_DELETE_FAILED").With("operation", "delete login attempt").Wrap(err)
	}
	return nil
}

// DeleteByIdentifier removes every attempt for identifier.
func (l *AttemptLog) DeleteByIdentifier(ctx context.Context, identifier string) error {
	_, err := l.db.Exec(ctx, `DELETE FROM login_attempts WHERE identifier = $1`, identifier)
	if err != nil {
		return oops.Code("ATTEMPT_DELETE_FAILED").With("operation", "delete login attempts").Wrap(err)
	}
	return nil
}

// DeleteOlderThan removes attempts made before cutoff.
func (l *AttemptLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("ATTEMPT_PRUNE_FAILED").With("operation", "prune login attempts").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
