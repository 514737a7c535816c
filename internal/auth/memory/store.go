// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package memory provides an in-process auth.Store for tests and development runs.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/ucpanel/ucpanel/internal/auth"
)

type state struct {
	identities map[ulid.ULID]*auth.Identity
	attempts   []*auth.LoginAttempt
	resets     map[ulid.ULID]*auth.ResetToken // keyed by identity
	sessions   map[string]*auth.Session       // keyed by token hash
	history    []*auth.LoginRecord
}

func newState() *state {
	return &state{
		identities: make(map[ulid.ULID]*auth.Identity),
		resets:     make(map[ulid.ULID]*auth.ResetToken),
		sessions:   make(map[string]*auth.Session),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.identities {
		out.identities[k] = copyIdentity(v)
	}
	for _, a := range st.attempts {
		c := *a
		out.attempts = append(out.attempts, &c)
	}
	for k, v := range st.resets {
		out.resets[k] = copyReset(v)
	}
	for k, v := range st.sessions {
		c := *v
		out.sessions[k] = &c
	}
	for _, h := range st.history {
		c := *h
		out.history = append(out.history, &c)
	}
	return out
}

// Store is an auth.Store held in memory. All operations serialize on one mutex;
// InTx holds it for the whole transaction and restores a snapshot on error.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

// Identities returns the identity repository.
func (s *Store) Identities() auth.IdentityRepository { return &identityRepo{s} }

// Attempts returns the login attempt log.
func (s *Store) Attempts() auth.LoginAttemptLog { return &attemptLog{s} }

// Resets returns the reset token repository.
func (s *Store) Resets() auth.ResetTokenRepository { return &resetRepo{s} }

// Sessions returns the session repository.
func (s *Store) Sessions() auth.SessionRepository { return &sessionRepo{s} }

// History returns the login history repository.
func (s *Store) History() auth.LoginHistoryRepository { return &historyRepo{s} }

// InTx runs fn atomically with respect to every other Store operation.
func (s *Store) InTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// do runs fn against the state, taking the lock unless a transaction already holds it.
func (s *Store) do(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

func copyIdentity(i *auth.Identity) *auth.Identity {
	c := *i
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		c.LastLoginAt = &t
	}
	if i.PasswordChangedAt != nil {
		t := *i.PasswordChangedAt
		c.PasswordChangedAt = &t
	}
	return &c
}

func copyReset(r *auth.ResetToken) *auth.ResetToken {
	c := *r
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

// Compile-time interface check.
var _ auth.Store = (*Store)(nil)
