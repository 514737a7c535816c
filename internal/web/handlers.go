// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// msgBadRequest is returned for bodies that are not the expected JSON object.
const msgBadRequest = "Malformed request"

type registerBody struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	CaptchaToken    string `json:"captcha_token"`
	TermsAccepted   bool   `json:"terms_accepted"`
}

type loginBody struct {
	Identifier   string `json:"identifier"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type changePasswordBody struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

type resetRequestBody struct {
	Email        string `json:"email"`
	CaptchaToken string `json:"captcha_token"`
}

type resetCompleteBody struct {
	Token              string `json:"token"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

type tokenBody struct {
	Token string `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, res auth.Result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(res)
}

// statusFor maps a Result onto an HTTP status.
func statusFor(res auth.Result) int {
	switch res.Code {
	case auth.CodeInvalidCredentials:
		if res.Kind == auth.KindPolicy {
			return http.StatusUnauthorized
		}
	case auth.CodeAccountLocked:
		return http.StatusTooManyRequests
	case auth.CodeSessionInvalid:
		return http.StatusUnauthorized
	}

	switch res.Kind {
	case auth.KindNone:
		return http.StatusOK
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindPolicy:
		return http.StatusForbidden
	case auth.KindNotFoundOrExpired:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) respond(w http.ResponseWriter, res auth.Result) {
	writeJSON(w, statusFor(res), res)
}

// decode reads a JSON body into v, writing a 400 and returning false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, auth.Result{Message: msgBadRequest, Kind: auth.KindValidation})
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !decode(w, r, &body) {
		return
	}
	res := s.svc.Register(r.Context(), auth.RegisterRequest{
		Username:        body.Username,
		Email:           body.Email,
		Password:        body.Password,
		PasswordConfirm: body.PasswordConfirm,
		Captcha:         s.verifyCaptcha(r, body.CaptchaToken),
		TermsAccepted:   body.TermsAccepted,
		SourceAddress:   s.clientAddress(r),
	})
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	s.respond(w, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	res := s.svc.Login(r.Context(), auth.LoginRequest{
		Identifier:    body.Identifier,
		Password:      body.Password,
		Captcha:       s.verifyCaptcha(r, body.CaptchaToken),
		SourceAddress: s.clientAddress(r),
		UserAgent:     r.UserAgent(),
	})
	if data, ok := res.Data.(auth.LoginData); ok && res.Success {
		s.setSessionCookie(w, data.Session.Token)
	}
	s.respond(w, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Logout(r.Context(), s.sessionHandle(r))
	if res.Success {
		s.clearSessionCookie(w)
	}
	s.respond(w, res)
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if !decode(w, r, &body) {
		return
	}
	s.respond(w, s.svc.RequestPasswordReset(r.Context(), auth.PasswordResetRequest{
		Email:         body.Email,
		Captcha:       s.verifyCaptcha(r, body.CaptchaToken),
		SourceAddress: s.clientAddress(r),
	}))
}

func (s *Server) handleCompleteReset(w http.ResponseWriter, r *http.Request) {
	var body resetCompleteBody
	if !decode(w, r, &body) {
		return
	}
	res := s.svc.CompletePasswordReset(r.Context(), auth.CompletePasswordResetRequest{
		Token:              body.Token,
		NewPassword:        body.NewPassword,
		NewPasswordConfirm: body.NewPasswordConfirm,
	})
	if res.Success {
		s.clearSessionCookie(w)
	}
	s.respond(w, res)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body tokenBody
	if r.Method == http.MethodGet {
		body.Token = r.URL.Query().Get("token")
	} else if !decode(w, r, &body) {
		return
	}
	s.respond(w, s.svc.VerifyEmail(r.Context(), body.Token))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info, _ := sessionFrom(r.Context())
	s.respond(w, auth.Result{
		Success: true,
		Message: auth.MsgSessionValid,
		Data:    auth.SessionIdentity{Identity: info.Identity},
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordBody
	if !decode(w, r, &body) {
		return
	}
	info, _ := sessionFrom(r.Context())
	s.respond(w, s.svc.ChangePassword(r.Context(), auth.ChangePasswordRequest{
		IdentityID:         info.IdentityID,
		CurrentSession:     info.Handle,
		CurrentPassword:    body.CurrentPassword,
		NewPassword:        body.NewPassword,
		NewPasswordConfirm: body.NewPasswordConfirm,
	}))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, auth.Result{Message: msgBadRequest, Kind: auth.KindValidation})
			return
		}
		limit = n
	}
	info, _ := sessionFrom(r.Context())
	s.respond(w, s.svc.LoginHistory(r.Context(), info.IdentityID, limit))
}

// parseIdentityID converts the identity view's ID back to a ULID.
func parseIdentityID(id string) (ulid.ULID, bool) {
	parsed, err := ulid.Parse(id)
	return parsed, err == nil
}
