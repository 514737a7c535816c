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

// ResetTokenStore issues, looks up and consumes single-use password reset tokens.
type ResetTokenStore struct {
	repo   ResetTokenRepository
	config ResetConfig
}

// NewResetTokenStore creates a ResetTokenStore.
func NewResetTokenStore(repo ResetTokenRepository, config ResetConfig) (*ResetTokenStore, error) {
	if repo == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("reset token repository is required")
	}
	if config.TokenTTL <= 0 {
		return nil, oops.Code(CodeInvalidConfig).With("token_ttl", config.TokenTTL.String()).
			Errorf("reset token ttl must be positive")
	}
	return &ResetTokenStore{repo: repo, config: config}, nil
}

// WithRepository returns a copy of the store bound to repo, typically a transaction-scoped one.
func (s *ResetTokenStore) WithRepository(repo ResetTokenRepository) *ResetTokenStore {
	return &ResetTokenStore{repo: repo, config: s.config}
}

// Issue creates a token for the identity, replacing any prior token it had.
// The plaintext token is returned once and never stored.
func (s *ResetTokenStore) Issue(ctx context.Context, identityID ulid.ULID, now time.Time) (string, time.Time, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	rt := &ResetToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		TokenHash:  hash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.TokenTTL),
	}
	if err := s.repo.Upsert(ctx, rt); err != nil {
		return "", time.Time{}, oops.Code("RESET_ISSUE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return token, rt.ExpiresAt, nil
}

// Lookup resolves token to its identity. valid is false for unknown, consumed
// and expired tokens alike.
func (s *ResetTokenStore) Lookup(ctx context.Context, token string, now time.Time) (ulid.ULID, bool, error) {
	if !wellFormedToken(token) {
		return ulid.ULID{}, false, nil
	}
	rt, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return ulid.ULID{}, false, nil
	}
	if err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_LOOKUP_FAILED").Wrap(err)
	}
	if !rt.ActiveAt(now) {
		return ulid.ULID{}, false, nil
	}
	return rt.IdentityID, true, nil
}

// Consume marks token used if it is active at now. It succeeds at most once per token.
func (s *ResetTokenStore) Consume(ctx context.Context, token string, now time.Time) (bool, error) {
	if !wellFormedToken(token) {
		return false, nil
	}
	ok, err := s.repo.MarkConsumed(ctx, HashToken(token), now)
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}
	return ok, nil
}

// Prune deletes consumed and expired tokens.
func (s *ResetTokenStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.DeleteInactive(ctx, now)
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}
