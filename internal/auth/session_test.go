// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/memory"
	"github.com/ucpanel/ucpanel/pkg/errutil"
)

func newSessionManager(t *testing.T, cfg auth.SessionConfig) (*auth.SessionManager, auth.SessionRepository) {
	t.Helper()
	repo := memory.New().Sessions()
	m, err := auth.NewSessionManager(repo, cfg)
	require.NoError(t, err)
	return m, repo
}

var defaultSessionConfig = auth.SessionConfig{IdleTimeout: 30 * time.Minute, MaxLifetime: 24 * time.Hour}

func TestSessionManager_OpenAndValidate(t *testing.T) {
	ctx := context.Background()
	m, repo := newSessionManager(t, defaultSessionConfig)
	id := ulid.Make()

	handle, session, err := m.Open(ctx, id, auth.SessionMeta{SourceAddress: "10.0.0.1", UserAgent: "test"}, t0)
	require.NoError(t, err)
	assert.Len(t, handle, 64)
	assert.NotEqual(t, handle, session.TokenHash, "handle is never stored in plaintext")
	assert.Equal(t, 30*time.Minute, session.IdleTimeout)

	stored, err := repo.GetByTokenHash(ctx, auth.HashToken(handle))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", stored.SourceAddress)

	got, ok, err := m.Validate(ctx, handle, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "valid at exactly the idle timeout")
	assert.Equal(t, id, got)
}

func TestSessionManager_OpenRejectsZeroIdentity(t *testing.T) {
	m, _ := newSessionManager(t, defaultSessionConfig)
	_, _, err := m.Open(context.Background(), ulid.ULID{}, auth.SessionMeta{}, t0)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_IDENTITY")
}

func TestSessionManager_HandlesAreUnique(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, defaultSessionConfig)
	id := ulid.Make()

	seen := map[string]bool{}
	for range 20 {
		handle, _, err := m.Open(ctx, id, auth.SessionMeta{}, t0)
		require.NoError(t, err)
		assert.False(t, seen[handle])
		seen[handle] = true
	}
}

func TestSessionManager_IdleExpiryIsFinal(t *testing.T) {
	ctx := context.Background()
	m, repo := newSessionManager(t, defaultSessionConfig)

	handle, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)

	_, ok, err := m.Validate(ctx, handle, t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetByTokenHash(ctx, auth.HashToken(handle))
	assert.ErrorIs(t, err, auth.ErrNotFound, "expired session is destroyed on detection")

	_, ok, err = m.Validate(ctx, handle, t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "no resurrection")

	err = m.Touch(ctx, handle, t0.Add(32*time.Minute))
	errutil.AssertErrorCode(t, err, auth.CodeSessionInvalid)
}

func TestSessionManager_TouchExtendsIdleWindow(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, defaultSessionConfig)

	handle, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)

	require.NoError(t, m.Touch(ctx, handle, t0.Add(20*time.Minute)))
	require.NoError(t, m.Touch(ctx, handle, t0.Add(40*time.Minute)))

	_, ok, err := m.Validate(ctx, handle, t0.Add(65*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionManager_TouchIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m, repo := newSessionManager(t, defaultSessionConfig)

	handle, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)

	require.NoError(t, m.Touch(ctx, handle, t0.Add(20*time.Minute)))
	require.NoError(t, m.Touch(ctx, handle, t0.Add(10*time.Minute)))

	stored, err := repo.GetByTokenHash(ctx, auth.HashToken(handle))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(20*time.Minute), stored.LastActivityAt)
}

func TestSessionManager_MaxLifetime(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, auth.SessionConfig{IdleTimeout: 30 * time.Minute, MaxLifetime: time.Hour})

	handle, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)

	for _, at := range []time.Duration{20 * time.Minute, 40 * time.Minute, 59 * time.Minute} {
		require.NoError(t, m.Touch(ctx, handle, t0.Add(at)))
	}

	_, ok, err := m.Validate(ctx, handle, t0.Add(61*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "absolute lifetime caps an active session")
}

func TestSessionManager_Destroy(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, defaultSessionConfig)

	handle, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, handle))
	require.NoError(t, m.Destroy(ctx, handle), "destroy is idempotent")
	require.NoError(t, m.Destroy(ctx, "garbage"))

	_, ok, err := m.Validate(ctx, handle, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionManager_DestroyAllFor(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, defaultSessionConfig)
	id := ulid.Make()
	other := ulid.Make()

	keep, _, err := m.Open(ctx, id, auth.SessionMeta{}, t0)
	require.NoError(t, err)
	drop, _, err := m.Open(ctx, id, auth.SessionMeta{}, t0)
	require.NoError(t, err)
	unrelated, _, err := m.Open(ctx, other, auth.SessionMeta{}, t0)
	require.NoError(t, err)

	n, err := m.DestroyAllFor(ctx, id, keep)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, _ := m.Validate(ctx, keep, t0)
	assert.True(t, ok)
	_, ok, _ = m.Validate(ctx, drop, t0)
	assert.False(t, ok)
	_, ok, _ = m.Validate(ctx, unrelated, t0)
	assert.True(t, ok)

	n, err = m.DestroyAllFor(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSessionManager_Prune(t *testing.T) {
	ctx := context.Background()
	m, _ := newSessionManager(t, defaultSessionConfig)

	_, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0)
	require.NoError(t, err)
	fresh, _, err := m.Open(ctx, ulid.Make(), auth.SessionMeta{}, t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := m.Prune(ctx, t0.Add(time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := m.Validate(ctx, fresh, t0.Add(time.Hour+time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSessionManager_Validation(t *testing.T) {
	_, err := auth.NewSessionManager(nil, defaultSessionConfig)
	errutil.AssertErrorCode(t, err, auth.CodeMissingDependency)

	_, err = auth.NewSessionManager(memory.New().Sessions(), auth.SessionConfig{})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidConfig)

	_, err = auth.NewSessionManager(memory.New().Sessions(), auth.SessionConfig{IdleTimeout: time.Minute, MaxLifetime: -1})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidConfig)
}
