// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// t0 is the fixed reference instant for clock-driven tests.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fastArgon2Params keeps hashing cheap in tests.
var fastArgon2Params = auth.Argon2Params{Memory: 1024, Time: 1, Threads: 1, SaltLength: 16, KeyLength: 32}

func newTestHasher(t *testing.T) *auth.Argon2idHasher {
	t.Helper()
	h, err := auth.NewArgon2idHasher(fastArgon2Params)
	require.NoError(t, err)
	return h
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
