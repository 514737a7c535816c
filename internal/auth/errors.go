// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a uniqueness constraint is violated.
var ErrConflict = errors.New("conflict")

// ErrorKind classifies a failure for callers.
type ErrorKind string

// Error kinds.
const (
	// KindNone marks a successful result.
	KindNone ErrorKind = ""
	// KindValidation is malformed input; the message is field-addressable and safe to show.
	KindValidation ErrorKind = "validation"
	// KindPolicy is a rate limit, lockout, weak password or similar policy refusal.
	KindPolicy ErrorKind = "policy"
	// KindNotFoundOrExpired covers bad tokens and sessions. Never distinguishes missing from invalid.
	KindNotFoundOrExpired ErrorKind = "not_found_or_expired"
	// KindConflict is a duplicate username or email.
	KindConflict ErrorKind = "conflict"
	// KindTransient is store or external service unavailability.
	KindTransient ErrorKind = "transient"
)

// Error codes produced by this package.
const (
	CodeCaptchaRejected     = "AUTH_CAPTCHA_REJECTED"
	CodeTermsRequired       = "AUTH_TERMS_REQUIRED"
	CodeInvalidUsername     = "AUTH_INVALID_USERNAME"
	CodeReservedUsername    = "AUTH_RESERVED_USERNAME"
	CodeInvalidEmail        = "AUTH_INVALID_EMAIL"
	CodeDisposableEmail     = "AUTH_DISPOSABLE_EMAIL"
	CodeWeakPassword        = "AUTH_WEAK_PASSWORD"
	CodePasswordMismatch    = "AUTH_PASSWORD_MISMATCH"
	CodePasswordReused      = "AUTH_PASSWORD_REUSED"
	CodeUsernameTaken       = "AUTH_USERNAME_TAKEN"
	CodeEmailTaken          = "AUTH_EMAIL_TAKEN"
	CodeAccountLocked       = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeAccountBanned       = "AUTH_ACCOUNT_BANNED"
	CodeNotActivated        = "AUTH_NOT_ACTIVATED"
	CodeFeatureDisabled     = "AUTH_FEATURE_DISABLED"
	CodeCurrentPassword     = "AUTH_CURRENT_PASSWORD_INCORRECT"
	CodeSessionInvalid      = "SESSION_INVALID"
	CodeResetTokenInvalid   = "RESET_TOKEN_INVALID"
	CodeVerifyTokenInvalid  = "VERIFY_TOKEN_INVALID"
	CodeEmptyPassword       = "AUTH_EMPTY_PASSWORD"
	CodePasswordTooLong     = "AUTH_PASSWORD_TOO_LONG"
	CodeIdentityConflict    = "IDENTITY_CONFLICT"
	CodeIdentityNotFound    = "IDENTITY_NOT_FOUND"
	CodeServiceUnavailable  = "AUTH_UNAVAILABLE"
	CodeInvalidConfig       = "AUTH_INVALID_CONFIG"
	CodeMissingDependency   = "AUTH_MISSING_DEPENDENCY"
	CodeTokenGenerateFailed = "AUTH_TOKEN_GENERATE_FAILED"
)

var codeKinds = map[string]ErrorKind{
	CodeTermsRequired:      KindValidation,
	CodeInvalidUsername:    KindValidation,
	CodeReservedUsername:   KindValidation,
	CodeInvalidEmail:       KindValidation,
	CodeDisposableEmail:    KindValidation,
	CodePasswordMismatch:   KindValidation,
	CodeEmptyPassword:      KindValidation,
	CodePasswordTooLong:    KindValidation,
	CodeCaptchaRejected:    KindPolicy,
	CodeWeakPassword:       KindPolicy,
	CodePasswordReused:     KindPolicy,
	CodeAccountLocked:      KindPolicy,
	CodeInvalidCredentials: KindPolicy,
	CodeAccountBanned:      KindPolicy,
	CodeNotActivated:       KindPolicy,
	CodeFeatureDisabled:    KindPolicy,
	CodeCurrentPassword:    KindPolicy,
	CodeSessionInvalid:     KindNotFoundOrExpired,
	CodeResetTokenInvalid:  KindNotFoundOrExpired,
	CodeVerifyTokenInvalid: KindNotFoundOrExpired,
	CodeIdentityNotFound:   KindNotFoundOrExpired,
	CodeUsernameTaken:      KindConflict,
	CodeEmailTaken:         KindConflict,
	CodeIdentityConflict:   KindConflict,
}

// KindOf classifies err. Errors without a known code are transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if code := ErrorCode(err); code != "" {
		if kind, ok := codeKinds[code]; ok {
			return kind
		}
	}
	if errors.Is(err, ErrConflict) {
		return KindConflict
	}
	return KindTransient
}

// ErrorCode returns the oops code carried by err, or "" when there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	if s, ok := code.(string); ok {
		return s
	}
	return fmt.Sprint(code)
}
