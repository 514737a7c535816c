// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package postgres implements auth.Store on PostgreSQL.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// DBTX abstracts query execution for both a pool and a pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions. *pgxpool.Pool satisfies it.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements auth.Store. A Store returned inside InTx runs every
// repository call on the transaction.
type Store struct {
	pool Pool
	db   DBTX
}

// New creates a Store backed by pool.
func New(pool Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Identities returns the identity repository.
func (s *Store) Identities() auth.IdentityRepository { return &IdentityRepository{db: s.db} }

// Attempts returns the login attempt log.
func (s *Store) Attempts() auth.LoginAttemptLog { return &AttemptLog{db: s.db} }

// Resets returns the reset token repository.
func (s *Store) Resets() auth.ResetTokenRepository { return &ResetTokenRepository{db: s.db} }

// Sessions returns the session repository.
func (s *Store) Sessions() auth.SessionRepository { return &SessionRepository{db: s.db} }

// History returns the login history repository.
func (s *Store) History() auth.LoginHistoryRepository { return &HistoryRepository{db: s.db} }

// InTx begins a transaction and calls fn with a Store bound to it.
// If fn returns nil the transaction is committed, otherwise it is rolled back.
// Calls made on a transactional Store join the running transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// parseULID parses a TEXT id column, naming the column on failure.
func parseULID(s, column string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "parse "+column).With(column, s).Wrap(err)
	}
	return id, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// seconds renders a duration as whole seconds for interval arithmetic in SQL.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Compile-time interface check.
var _ auth.Store = (*Store)(nil)
