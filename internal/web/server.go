// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package web exposes the account security operations as a JSON API.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/observability"
)

// DefaultCookieName is the session cookie used when Options leaves it empty.
const DefaultCookieName = "UCP_SESSION"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// CaptchaSource turns a client-submitted token into a verdict. It never fails;
// transport problems come back as unsuccessful verdicts.
type CaptchaSource interface {
	Verify(ctx context.Context, response, remoteIP string) auth.CaptchaVerdict
}

// Options configures the API.
type Options struct {
	CookieName   string
	CookieSecure bool
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool
}

// Deps holds the API collaborators. Service is required.
type Deps struct {
	Service *auth.Service
	// Captcha may be nil when captcha checks are disabled.
	Captcha CaptchaSource
	// Metrics may be nil.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server routes API requests to the auth service.
type Server struct {
	opts    Options
	svc     *auth.Service
	captcha CaptchaSource
	metrics *observability.Metrics
	logger  *slog.Logger
	router  *mux.Router
}

// NewServer builds the API router.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Service == nil {
		return nil, oops.Code("WEB_MISSING_SERVICE").Errorf("auth service is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		opts:    opts,
		svc:     deps.Service,
		captcha: deps.Captcha,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/password/reset", s.handleRequestReset).Methods(http.MethodPost)
	api.HandleFunc("/password/reset/complete", s.handleCompleteReset).Methods(http.MethodPost)
	api.HandleFunc("/email/verify", s.handleVerifyEmail).Methods(http.MethodPost, http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	authed.HandleFunc("/password/change", s.handleChangePassword).Methods(http.MethodPost)
	authed.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, auth.Result{Message: "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, auth.Result{Message: "Method not allowed"})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// clientAddress returns the caller's IP address.
func (s *Server) clientAddress(r *http.Request) string {
	if s.opts.TrustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) verifyCaptcha(r *http.Request, token string) auth.CaptchaVerdict {
	if s.captcha == nil {
		return auth.CaptchaVerdict{}
	}
	return s.captcha.Verify(r.Context(), token, s.clientAddress(r))
}

// HTTPServer wraps handler in an http.Server with the given timeouts.
func HTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
}
