// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/ucpanel/ucpanel/internal/auth"
)

type sessionKey struct{}

// SessionInfo is what requireSession attaches to the request context.
type SessionInfo struct {
	Handle     string
	IdentityID ulid.ULID
	Identity   auth.IdentityView
}

func sessionFrom(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionKey{}).(SessionInfo)
	return info, ok
}

// sessionHandle reads the handle from the session cookie or a bearer token.
func (s *Server) sessionHandle(r *http.Request) string {
	if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireSession resolves the caller's session, refreshing its activity, and
// rejects the request with 401 when there is none.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle := s.sessionHandle(r)
		res := s.svc.ResolveSession(r.Context(), handle)
		if !res.Success {
			if res.Code == auth.CodeSessionInvalid {
				s.clearSessionCookie(w)
			}
			s.respond(w, res)
			return
		}

		data, _ := res.Data.(auth.SessionIdentity)
		id, ok := parseIdentityID(data.Identity.ID)
		if !ok {
			s.logger.ErrorContext(r.Context(), "resolved session carries malformed identity id")
			s.respond(w, auth.Result{Message: auth.MsgUnavailable, Kind: auth.KindTransient})
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, SessionInfo{
			Handle:     handle,
			IdentityID: id,
			Identity:   data.Identity,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, handle string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    handle,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency by route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, rec.status, time.Since(started))
		s.logger.DebugContext(r.Context(), "api request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration", time.Since(started))
	})
}
