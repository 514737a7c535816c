// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/memory"
	"github.com/ucpanel/ucpanel/pkg/errutil"
)

func newResetStore(t *testing.T) *auth.ResetTokenStore {
	t.Helper()
	s, err := auth.NewResetTokenStore(memory.New().Resets(), auth.ResetConfig{TokenTTL: time.Hour})
	require.NoError(t, err)
	return s
}

func TestResetTokenStore_Issue(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)
	id := ulid.Make()

	token, expiresAt, err := s.Issue(ctx, id, t0)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, t0.Add(time.Hour), expiresAt)

	got, ok, err := s.Lookup(ctx, token, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestResetTokenStore_ReissueInvalidatesPrior(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)
	id := ulid.Make()

	first, _, err := s.Issue(ctx, id, t0)
	require.NoError(t, err)
	second, _, err := s.Issue(ctx, id, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, ok, err := s.Lookup(ctx, first, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "first token must be unusable")

	consumed, err := s.Consume(ctx, first, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, consumed)

	_, ok, err = s.Lookup(ctx, second, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetTokenStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)

	token, _, err := s.Issue(ctx, ulid.Make(), t0)
	require.NoError(t, err)

	ok, err := s.Consume(ctx, token, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Consume(ctx, token, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	_, valid, err := s.Lookup(ctx, token, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestResetTokenStore_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)

	token, _, err := s.Issue(ctx, ulid.Make(), t0)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			ok, err := s.Consume(ctx, token, t0.Add(time.Minute))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestResetTokenStore_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("consumed at 59 minutes succeeds", func(t *testing.T) {
		s := newResetStore(t)
		token, _, err := s.Issue(ctx, ulid.Make(), t0)
		require.NoError(t, err)

		ok, err := s.Consume(ctx, token, t0.Add(59*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("consumed at 61 minutes fails", func(t *testing.T) {
		s := newResetStore(t)
		token, _, err := s.Issue(ctx, ulid.Make(), t0)
		require.NoError(t, err)

		_, valid, err := s.Lookup(ctx, token, t0.Add(61*time.Minute))
		require.NoError(t, err)
		assert.False(t, valid)

		ok, err := s.Consume(ctx, token, t0.Add(61*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResetTokenStore_UnknownAndMalformedTokens(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)

	for _, token := range []string{"", "short", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"} {
		_, valid, err := s.Lookup(ctx, token, t0)
		require.NoError(t, err)
		assert.False(t, valid)

		ok, err := s.Consume(ctx, token, t0)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestResetTokenStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newResetStore(t)

	used, _, err := s.Issue(ctx, ulid.Make(), t0)
	require.NoError(t, err)
	_, err = s.Consume(ctx, used, t0)
	require.NoError(t, err)
	_, _, err = s.Issue(ctx, ulid.Make(), t0)
	require.NoError(t, err)
	live, _, err := s.Issue(ctx, ulid.Make(), t0.Add(90*time.Minute))
	require.NoError(t, err)

	n, err := s.Prune(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, valid, err := s.Lookup(ctx, live, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestNewResetTokenStore_Validation(t *testing.T) {
	_, err := auth.NewResetTokenStore(nil, auth.ResetConfig{TokenTTL: time.Hour})
	errutil.AssertErrorCode(t, err, auth.CodeMissingDependency)

	_, err = auth.NewResetTokenStore(memory.New().Resets(), auth.ResetConfig{})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidConfig)
}
