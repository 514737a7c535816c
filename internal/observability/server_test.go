// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/pkg/errutil"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ucpanel_test_events_total",
		Help: "Events counted by a registrar",
	})
	server := NewServer("127.0.0.1:0", nil, func(reg prometheus.Registerer) {
		reg.MustRegister(counter)
	})
	counter.Inc()

	m := server.Metrics()
	m.ObserveRequest("/api/login", http.MethodPost, http.StatusUnauthorized, time.Millisecond)
	m.ObserveRequest("/api/login", http.MethodPost, http.StatusUnauthorized, time.Millisecond)
	m.ObserveRequest("/api/logout", http.MethodPost, http.StatusOK, time.Millisecond)

	status, body := get(t, server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `ucpanel_http_requests_total{method="POST",route="/api/login",status="401"} 2`)
	assert.Contains(t, body, `ucpanel_http_requests_total{method="POST",route="/api/logout",status="200"} 1`)
	assert.Contains(t, body, `ucpanel_http_request_duration_seconds_count{route="/api/login"} 2`)
	assert.Contains(t, body, "ucpanel_test_events_total 1", "registrar collectors are exported")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_Probes(t *testing.T) {
	ready := false
	server := NewServer("127.0.0.1:0", func() bool { return ready })
	h := server.Handler()

	tests := []struct {
		name   string
		path   string
		ready  bool
		status int
		body   string
	}{
		{"liveness while starting", "/healthz/liveness", false, http.StatusOK, "ok\n"},
		{"readiness while starting", "/healthz/readiness", false, http.StatusServiceUnavailable, "not ready\n"},
		{"readiness once serving", "/healthz/readiness", true, http.StatusOK, "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			status, body := get(t, h, tt.path)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}

	t.Run("nil checker is always ready", func(t *testing.T) {
		status, _ := get(t, NewServer("127.0.0.1:0", nil).Handler(), "/healthz/readiness")
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestServer_Lifecycle(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	assert.Empty(t, server.Addr())

	errCh, err := server.Start()
	require.NoError(t, err)
	addr := server.Addr()
	require.NotEmpty(t, addr)

	_, err = server.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")

	resp, err := http.Get("http://" + addr + "/healthz/liveness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx), "second stop is a no-op")
	assert.Empty(t, server.Addr())

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "graceful shutdown closes the channel without an error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
}

func TestServer_StartListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = taken.Close() }()

	_, err = NewServer(taken.Addr().String(), nil).Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
	errutil.AssertErrorContext(t, err, "addr", taken.Addr().String())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("/api/login", http.MethodPost, http.StatusOK, time.Millisecond)
	})
}
