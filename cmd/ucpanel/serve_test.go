// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/memory"
	"github.com/ucpanel/ucpanel/internal/config"
	"github.com/ucpanel/ucpanel/internal/observability"
	"github.com/ucpanel/ucpanel/pkg/errutil"
)

// testConfig is a valid in-memory configuration listening on a free port.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Metrics.Addr = ""
	cfg.Log.Level = "error"
	cfg.Auth.Captcha.Enabled = false
	cfg.Auth.Features.EmailVerification = false
	cfg.Auth.Argon2 = auth.Argon2Params{Memory: 1024, Time: 1, Threads: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func sharedStore(st *memory.Store) func(context.Context, config.Config, *slog.Logger) (auth.Store, func(), error) {
	return func(context.Context, config.Config, *slog.Logger) (auth.Store, func(), error) {
		return st, func() {}, nil
	}
}

type fakeObservability struct {
	registry   *prometheus.Registry
	metrics    *observability.Metrics
	ready      observability.ReadinessChecker
	startErr   error
	stopped    bool
	registered int
}

func (f *fakeObservability) Start() (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return make(chan error), nil
}
func (f *fakeObservability) Stop(context.Context) error      { f.stopped = true; return nil }
func (f *fakeObservability) Addr() string                    { return "127.0.0.1:9100" }
func (f *fakeObservability) Metrics() *observability.Metrics { return f.metrics }

func (f *fakeObservability) factory(_ string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
	f.ready = ready
	f.registry = prometheus.NewRegistry()
	f.metrics = observability.NewMetrics(f.registry)
	for _, register := range registrars {
		register(f.registry)
		f.registered++
	}
	return f
}

func startServe(t *testing.T, cfg config.Config, deps *ServeDeps) (addr string, stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	deps.Ready = func(a string) { addrCh <- a }

	cmd := &cobra.Command{}
	cmd.SetOut(new(bytes.Buffer))
	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, deps) }()

	select {
	case addr = <-addrCh:
	case err := <-done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("serve did not become ready")
	}

	return addr, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("serve did not stop")
		}
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServe_RegisterAndLoginOverHTTP(t *testing.T) {
	st := memory.New()
	obs := &fakeObservability{}
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"

	addr, stop := startServe(t, cfg, &ServeDeps{
		StoreOpener:                sharedStore(st),
		ObservabilityServerFactory: obs.factory,
	})
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	base := "http://" + addr

	assert.True(t, obs.ready(), "ready once the api listens")
	assert.Equal(t, 1, obs.registered, "auth metrics registered")

	resp := postJSON(t, client, base+"/api/register", map[string]any{
		"username":         "player1",
		"email":            "player1@example.com",
		"password":         "Str0ng!pass",
		"password_confirm": "Str0ng!pass",
		"terms_accepted":   true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, client, base+"/api/login", map[string]any{
		"identifier": "player1",
		"password":   "Str0ng!pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Cookies())

	identity, err := st.Identities().GetByUsername(context.Background(), "player1")
	require.NoError(t, err)
	assert.NotNil(t, identity.LastLoginAt)

	require.NoError(t, stop())
	assert.True(t, obs.stopped)
	assert.False(t, obs.ready(), "not ready after shutdown")
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	obs := &fakeObservability{startErr: errors.New("address in use")}
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:9100"

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
		StoreOpener:                sharedStore(memory.New()),
		ObservabilityServerFactory: obs.factory,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestServe_ListenFailure(t *testing.T) {
	err := runServeWithDeps(context.Background(), testConfig(), &cobra.Command{}, &ServeDeps{
		StoreOpener: sharedStore(memory.New()),
		ListenerFactory: func(string, string) (net.Listener, error) {
			return nil, errors.New("permission denied")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestServe_StoreFailureClosesNothingElse(t *testing.T) {
	mailerBuilt := false
	err := runServeWithDeps(context.Background(), testConfig(), &cobra.Command{}, &ServeDeps{
		StoreOpener: func(context.Context, config.Config, *slog.Logger) (auth.Store, func(), error) {
			return nil, nil, errors.New("database down")
		},
		MailerFactory: func(config.Config, *slog.Logger) (auth.Mailer, func(), error) {
			mailerBuilt = true
			return nil, func() {}, nil
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
	assert.False(t, mailerBuilt)
}

func TestServe_RedisAttemptBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AttemptBackend = config.AttemptBackendRedis

	var opened, closed bool
	_, stop := startServe(t, cfg, &ServeDeps{
		StoreOpener: sharedStore(memory.New()),
		AttemptLogOpener: func(context.Context, config.Config, *slog.Logger) (auth.LoginAttemptLog, func(), error) {
			opened = true
			return memory.New().Attempts(), func() { closed = true }, nil
		},
	})
	require.NoError(t, stop())
	assert.True(t, opened)
	assert.True(t, closed)
}

func TestServe_InvalidLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Log.Level = "loud"
	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{})
	errutil.AssertErrorCode(t, err, "LOG_INVALID_LEVEL")
}
