// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/pkg/errutil"
)

func newDefaultValidator(t *testing.T) *auth.Validator {
	t.Helper()
	cfg := auth.DefaultConfig()
	v, err := auth.NewValidator(cfg.Username, cfg.Email, cfg.Password)
	require.NoError(t, err)
	return v
}

func TestValidator_CheckUsername(t *testing.T) {
	v := newDefaultValidator(t)

	tests := []struct {
		name     string
		username string
		code     string
	}{
		{"valid", "alice_01", ""},
		{"minimum length", "abc", ""},
		{"maximum length", strings.Repeat("a", 20), ""},
		{"too short", "ab", auth.CodeInvalidUsername},
		{"too long", strings.Repeat("a", 21), auth.CodeInvalidUsername},
		{"bad charset", "alice!", auth.CodeInvalidUsername},
		{"spaces", "al ice", auth.CodeInvalidUsername},
		{"reserved", "admin", auth.CodeReservedUsername},
		{"reserved any case", "RooT", auth.CodeReservedUsername},
		{"reserved null", "null", auth.CodeReservedUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.CheckUsername(tt.username)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorContext(t, err, "field", auth.FieldUsername)
		})
	}
}

func TestValidator_CheckEmail(t *testing.T) {
	v := newDefaultValidator(t)

	tests := []struct {
		name  string
		email string
		code  string
	}{
		{"valid", "alice@example.com", ""},
		{"plus addressing", "alice+panel@example.co.uk", ""},
		{"missing at", "alice.example.com", auth.CodeInvalidEmail},
		{"missing tld", "alice@example", auth.CodeInvalidEmail},
		{"short tld", "alice@example.c", auth.CodeInvalidEmail},
		{"empty", "", auth.CodeInvalidEmail},
		{"disposable", "bob@tempmail.com", auth.CodeDisposableEmail},
		{"disposable any case", "bob@GuerrillaMail.com", auth.CodeDisposableEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.CheckEmail(tt.email)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestValidator_CheckPassword(t *testing.T) {
	v := newDefaultValidator(t)

	tests := []struct {
		name     string
		password string
		rule     string
	}{
		{"strong", "Str0ng!pass", ""},
		{"too short", "S0!a", "min_length"},
		{"too long", "Aa1!" + strings.Repeat("x", 125), "max_length"},
		{"no lowercase", "STRONG1!PASS", "lowercase"},
		{"no uppercase", "strong1!pass", "uppercase"},
		{"no digit", "Strong!pass", "digit"},
		{"no special", "Strong1pass", "special"},
		{"length counts characters not bytes", "Ünïcødé1!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.CheckPassword(tt.password)
			if tt.rule == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeWeakPassword)
			errutil.AssertErrorContext(t, err, "rule", tt.rule)
		})
	}

	t.Run("reports first failing rule only", func(t *testing.T) {
		err := v.CheckPassword("abc")
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "rule", "min_length")
		assert.Contains(t, err.Error(), "at least 8 characters")
	})
}

func TestPasswordRules_Toggles(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 4}
	rules := auth.PasswordRules(policy)
	require.Len(t, rules, 1)
	assert.Equal(t, "min_length", rules[0].Name)

	v, err := auth.NewValidator(auth.DefaultConfig().Username, auth.DefaultConfig().Email, policy)
	require.NoError(t, err)
	assert.NoError(t, v.CheckPassword("aaaa"))
}

func TestValidator_CheckConfirmation(t *testing.T) {
	v := newDefaultValidator(t)
	assert.NoError(t, v.CheckConfirmation("same", "same"))

	err := v.CheckConfirmation("one", "two")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodePasswordMismatch)
	errutil.AssertErrorContext(t, err, "field", auth.FieldPasswordConfirm)
}

func TestNewValidator_BadPattern(t *testing.T) {
	cfg := auth.DefaultConfig()
	cfg.Username.Pattern = "("
	_, err := auth.NewValidator(cfg.Username, cfg.Email, cfg.Password)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeInvalidConfig)
}
