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

// Unique index names from the schema, mapped to the field they protect.
const (
	identityUsernameIndex = "identities_username_key"
	identityEmailIndex    = "identities_email_key"
)

const identityColumns = `id, username, email, password_hash, banned, email_verified,
	verification_token_hash, last_login_ip, created_at, updated_at,
	last_login_at, password_changed_at`

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db DBTX
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db DBTX) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create stores a new identity. Username and email uniqueness is enforced by
// case-insensitive unique indexes.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		identity.ID.String(),
		identity.Username,
		identity.Email,
		identity.PasswordHash,
		identity.Banned,
		identity.EmailVerified,
		nullIfEmpty(identity.VerificationTokenHash),
		identity.LastLoginIP,
		identity.CreatedAt,
		identity.UpdatedAt,
		identity.LastLoginAt,
		identity.PasswordChangedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		conflict := oops.Code(auth.CodeIdentityConflict).With("constraint", pgErr.ConstraintName)
		switch pgErr.ConstraintName {
		case identityUsernameIndex:
			conflict = conflict.With("field", auth.FieldUsername)
		case identityEmailIndex:
			conflict = conflict.With("field", auth.FieldEmail)
		}
		return conflict.Wrap(auth.ErrConflict)
	}
	return oops.Code("IDENTITY_CREATE_FAILED").
		With("operation", "insert identity").
		With("identity_id", identity.ID.String()).
		Wrap(err)
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	return r.getOne(ctx, "get identity by id", `WHERE id = $1`, id.String())
}

// GetByUsername retrieves an identity by username (case-insensitive).
func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	return r.getOne(ctx, "get identity by username", `WHERE LOWER(username) = LOWER($1)`, username)
}

// GetByEmail retrieves an identity by email (case-insensitive).
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return r.getOne(ctx, "get identity by email", `WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByLogin retrieves an identity whose username or email matches identifier.
// A username match wins over an email match.
func (r *IdentityRepository) GetByLogin(ctx context.Context, identifier string) (*auth.Identity, error) {
	return r.getOne(ctx, "get identity by login", `
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		ORDER BY (LOWER(username) = LOWER($1)) DESC
		LIMIT 1`, identifier)
}

// GetByVerificationTokenHash retrieves the unverified identity holding tokenHash.
func (r *IdentityRepository) GetByVerificationTokenHash(ctx context.Context, tokenHash string) (*auth.Identity, error) {
	return r.getOne(ctx, "get identity by verification token",
		`WHERE verification_token_hash = $1 AND NOT email_verified`, tokenHash)
}

func (r *IdentityRepository) getOne(ctx context.Context, operation, where string, arg any) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities `+where, arg)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeIdentityNotFound).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("operation", operation).Wrap(err)
	}
	return identity, nil
}

// RecordLogin stamps the last login time and source address.
func (r *IdentityRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time, sourceAddress string) error {
	return r.update(ctx, "record login", id, `
		UPDATE identities SET last_login_at = $2, last_login_ip = $3, updated_at = $2
		WHERE id = $1
	`, at, sourceAddress)
}

// UpdatePassword replaces the password hash and stamps password_changed_at.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.update(ctx, "update password", id, `
		UPDATE identities SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, passwordHash, at)
}

// UpgradePasswordHash swaps in a rehash of the unchanged password.
func (r *IdentityRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, "upgrade password hash", id, `
		UPDATE identities SET password_hash = $2 WHERE id = $1
	`, passwordHash)
}

// MarkEmailVerified sets email_verified and clears the verification token.
func (r *IdentityRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, "mark email verified", id, `
		UPDATE identities SET email_verified = TRUE, verification_token_hash = NULL, updated_at = $2
		WHERE id = $1
	`, at)
}

// SetBanned sets or lifts the ban flag.
func (r *IdentityRepository) SetBanned(ctx context.Context, id ulid.ULID, banned bool, at time.Time) error {
	return r.update(ctx, "set banned", id, `
		UPDATE identities SET banned = $2, updated_at = $3 WHERE id = $1
	`, banned, at)
}

func (r *IdentityRepository) update(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{id.String()}, args...)...)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", operation).
			With("identity_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeIdentityNotFound).
			With("identity_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		i         auth.Identity
		idStr     string
		tokenHash *string
	)
	err := row.Scan(
		&idStr,
		&i.Username,
		&i.Email,
		&i.PasswordHash,
		&i.Banned,
		&i.EmailVerified,
		&tokenHash,
		&i.LastLoginIP,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastLoginAt,
		&i.PasswordChangedAt,
	)
	if err != nil {
		return nil, err
	}
	if i.ID, err = parseULID(idStr, "identity_id"); err != nil {
		return nil, err
	}
	i.VerificationTokenHash = derefString(tokenHash)
	return &i, nil
}
