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

// Identity represents a control panel account.
type Identity struct {
	ID                    ulid.ULID
	Username              string
	Email                 string
	PasswordHash          string
	Banned                bool
	EmailVerified         bool
	VerificationTokenHash string
	LastLoginIP           string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastLoginAt           *time.Time
	PasswordChangedAt     *time.Time
}

// NewIdentity creates a validated Identity. The password must already be hashed.
func NewIdentity(username, email, passwordHash string, now time.Time) (*Identity, error) {
	if username == "" {
		return nil, oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("IDENTITY_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &Identity{
		ID:           ulid.Make(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// View returns the sanitized representation handed to callers.
func (i *Identity) View() IdentityView {
	return IdentityView{
		ID:            i.ID.String(),
		Username:      i.Username,
		Email:         i.Email,
		EmailVerified: i.EmailVerified,
		CreatedAt:     i.CreatedAt,
		LastLoginAt:   i.LastLoginAt,
	}
}

// IdentityView is an Identity without the password hash or internal flags.
type IdentityView struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity. Returns an error wrapping ErrConflict
	// when the username or email is already taken.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByUsername retrieves an identity by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Identity, error)

	// GetByEmail retrieves an identity by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// GetByLogin retrieves an identity whose username or email matches identifier.
	GetByLogin(ctx context.Context, identifier string) (*Identity, error)

	// GetByVerificationTokenHash retrieves the identity awaiting verification with the given token hash.
	GetByVerificationTokenHash(ctx context.Context, tokenHash string) (*Identity, error)

	// RecordLogin stamps last_login_at and the source address.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time, sourceAddress string) error

	// UpdatePassword replaces the password hash and stamps password_changed_at.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error

	// UpgradePasswordHash swaps in a rehash of the same password. password_changed_at is untouched.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// MarkEmailVerified sets email_verified and clears the verification token.
	MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetBanned sets or lifts the ban flag. Bans are an administrative action.
	SetBanned(ctx context.Context, id ulid.ULID, banned bool, at time.Time) error
}
