// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"github.com/samber/oops"
)

// User-facing messages. Credential failures share one message so callers
// cannot tell an unknown identifier from a wrong password.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgTooManyAttempts    = "Too many failed login attempts. Please try again later"
	MsgBanned             = "This account has been banned"
	MsgNotActivated       = "Please verify your email address before logging in"
	MsgCaptchaFailed      = "Captcha verification failed. Please try again"
	MsgTermsRequired      = "You must accept the terms of service"
	MsgUsernameTaken      = "This username is already taken"
	MsgEmailTaken         = "This email address is already registered"
	MsgAccountExists      = "An account with this username or email already exists"
	MsgUnavailable        = "The service is temporarily unavailable. Please try again later"
	MsgFeatureDisabled    = "This feature is currently disabled"
	MsgMissingCredentials = "Please enter your username and password"
	MsgCurrentPassword    = "Current password is incorrect"
	MsgPasswordReused     = "The new password must differ from the current password"
	MsgSessionInvalid     = "Your session has expired. Please log in again"
	MsgResetInvalid       = "This password reset link is invalid or has expired"
	MsgVerifyInvalid      = "This verification link is invalid or has expired"

	MsgRegistered       = "Registration successful. You can now log in"
	MsgRegisteredVerify = "Registration successful. Please check your email to verify your account"
	MsgLoggedIn         = "Login successful"
	MsgLoggedOut        = "You have been logged out"
	MsgPasswordChanged  = "Your password has been changed"
	MsgResetRequested   = "If an account with that email exists, a password reset link has been sent"
	MsgPasswordReset    = "Your password has been reset. You can now log in"
	MsgEmailVerified    = "Your email address has been verified"
	MsgSessionValid     = "Session is valid"
	MsgLoginHistory     = "Login history"
)

// Result is the single outcome shape of every Service operation.
// Kind, Code and Field are for callers and are not serialized.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	Kind  ErrorKind `json:"-"`
	Code  string    `json:"-"`
	Field string    `json:"-"`
}

// RegisterData is returned by a successful Register.
type RegisterData struct {
	IdentityID string `json:"identity_id"`
}

// SessionData describes a newly opened session.
type SessionData struct {
	Token       string `json:"token"`
	IdleTimeout int64  `json:"idle_timeout_seconds"`
}

// LoginData is returned by a successful Login.
type LoginData struct {
	Identity IdentityView `json:"identity"`
	Session  SessionData  `json:"session"`
}

// SessionIdentity is returned by a successful ResolveSession.
type SessionIdentity struct {
	Identity IdentityView `json:"identity"`
}

func succeed(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func reject(kind ErrorKind, code, field, message string) Result {
	return Result{Message: message, Kind: kind, Code: code, Field: field}
}

// rejectErr turns a validation or policy error from this package into a Result
// carrying its own message and field.
func rejectErr(err error) Result {
	res := Result{Message: err.Error(), Kind: KindOf(err), Code: ErrorCode(err)}
	if oopsErr, ok := oops.AsOops(err); ok {
		if field, ok := oopsErr.Context()["field"].(string); ok {
			res.Field = field
		}
	}
	return res
}

func unavailable() Result {
	return reject(KindTransient, CodeServiceUnavailable, "", MsgUnavailable)
}
