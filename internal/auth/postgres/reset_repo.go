// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
// Each identity holds at most one row; issuing a new token overwrites it.
type ResetTokenRepository struct {
	db DBTX
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(db DBTX) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Upsert stores token, replacing any previous token of the same identity.
func (r *ResetTokenRepository) Upsert(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, identity_id, token_hash, created_at, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (identity_id) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return oops.Code("RESET_UPSERT_FAILED").
			With("operation", "upsert reset token").
			With("identity_id", token.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash.
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	var (
		rt                 auth.ResetToken
		idStr, identityStr string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, identity_id, token_hash, created_at, expires_at, consumed_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&idStr, &identityStr, &rt.TokenHash, &rt.CreatedAt, &rt.ExpiresAt, &rt.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").With("operation", "get reset token").Wrap(err)
	}
	if rt.ID, err = parseULID(idStr, "id"); err != nil {
		return nil, err
	}
	if rt.IdentityID, err = parseULID(identityStr, "identity_id"); err != nil {
		return nil, err
	}
	return &rt, nil
}

// MarkConsumed consumes the token if it is unconsumed and unexpired at now.
// The conditional update makes concurrent redemptions succeed at most once.
func (r *ResetTokenRepository) MarkConsumed(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE password_reset_tokens SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at >= $2
	`, tokenHash, now)
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").With("operation", "consume reset token").Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteInactive removes consumed and expired tokens.
func (r *ResetTokenRepository) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE consumed_at IS NOT NULL OR expires_at < $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").With("operation", "prune reset tokens").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
