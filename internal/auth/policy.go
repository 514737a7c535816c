// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Form field names used in validation failures.
const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldPasswordConfirm = "password_confirm"
	FieldCurrentPassword = "current_password"
	FieldTerms           = "terms"
	FieldCaptcha         = "captcha"
	FieldToken           = "token"
)

// PasswordRule is one independently togglable password requirement.
type PasswordRule struct {
	Name    string
	Message string
	Check   func(password string) bool
}

// PasswordRules builds the ordered rule list for a policy. Only enabled rules are included.
func PasswordRules(p PasswordPolicy) []PasswordRule {
	rules := []PasswordRule{
		{
			Name:    "min_length",
			Message: fmt.Sprintf("Password must be at least %d characters long", p.MinLength),
			Check:   func(pw string) bool { return utf8.RuneCountInString(pw) >= p.MinLength },
		},
	}
	if p.MaxLength > 0 {
		rules = append(rules, PasswordRule{
			Name:    "max_length",
			Message: fmt.Sprintf("Password must be at most %d characters long", p.MaxLength),
			Check:   func(pw string) bool { return utf8.RuneCountInString(pw) <= p.MaxLength },
		})
	}
	if p.RequireLowercase {
		rules = append(rules, PasswordRule{
			Name:    "lowercase",
			Message: "Password must contain at least one lowercase letter",
			Check:   func(pw string) bool { return strings.IndexFunc(pw, unicode.IsLower) >= 0 },
		})
	}
	if p.RequireUppercase {
		rules = append(rules, PasswordRule{
			Name:    "uppercase",
			Message: "Password must contain at least one uppercase letter",
			Check:   func(pw string) bool { return strings.IndexFunc(pw, unicode.IsUpper) >= 0 },
		})
	}
	if p.RequireDigit {
		rules = append(rules, PasswordRule{
			Name:    "digit",
			Message: "Password must contain at least one number",
			Check:   func(pw string) bool { return strings.IndexFunc(pw, unicode.IsDigit) >= 0 },
		})
	}
	if p.RequireSpecial {
		special := p.SpecialChars
		rules = append(rules, PasswordRule{
			Name:    "special",
			Message: "Password must contain at least one special character (" + special + ")",
			Check:   func(pw string) bool { return strings.ContainsAny(pw, special) },
		})
	}
	return rules
}

// Validator checks registration and password input against the configured policies.
type Validator struct {
	username      UsernamePolicy
	usernameRE    *regexp.Regexp
	reserved      map[string]struct{}
	emailRE       *regexp.Regexp
	disposable    map[string]struct{}
	passwordRules []PasswordRule
}

// NewValidator compiles the policies into a Validator.
func NewValidator(username UsernamePolicy, email EmailPolicy, password PasswordPolicy) (*Validator, error) {
	usernameRE, err := regexp.Compile(username.Pattern)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("field", "username.pattern").Wrap(err)
	}
	emailRE, err := regexp.Compile(email.Pattern)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("field", "email.pattern").Wrap(err)
	}

	v := &Validator{
		username:      username,
		usernameRE:    usernameRE,
		reserved:      make(map[string]struct{}, len(username.ReservedNames)),
		emailRE:       emailRE,
		disposable:    make(map[string]struct{}, len(email.DisposableDomains)),
		passwordRules: PasswordRules(password),
	}
	for _, name := range username.ReservedNames {
		v.reserved[strings.ToLower(name)] = struct{}{}
	}
	for _, domain := range email.DisposableDomains {
		v.disposable[strings.ToLower(domain)] = struct{}{}
	}
	return v, nil
}

// CheckUsername validates charset, length and reserved names.
func (v *Validator) CheckUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < v.username.MinLength || n > v.username.MaxLength {
		return oops.Code(CodeInvalidUsername).With("field", FieldUsername).
			Errorf("Username must be between %d and %d characters", v.username.MinLength, v.username.MaxLength)
	}
	if !v.usernameRE.MatchString(username) {
		return oops.Code(CodeInvalidUsername).With("field", FieldUsername).
			Errorf("Username can only contain letters, numbers and underscores")
	}
	if _, ok := v.reserved[strings.ToLower(username)]; ok {
		return oops.Code(CodeReservedUsername).With("field", FieldUsername).
			Errorf("This username is reserved")
	}
	return nil
}

// CheckEmail validates email syntax and rejects disposable domains.
func (v *Validator) CheckEmail(email string) error {
	if !v.emailRE.MatchString(email) {
		return oops.Code(CodeInvalidEmail).With("field", FieldEmail).
			Errorf("Please enter a valid email address")
	}
	at := strings.LastIndexByte(email, '@')
	if _, ok := v.disposable[strings.ToLower(email[at+1:])]; ok {
		return oops.Code(CodeDisposableEmail).With("field", FieldEmail).
			Errorf("Disposable email addresses are not allowed")
	}
	return nil
}

// CheckPassword reports the first failing password rule, if any.
func (v *Validator) CheckPassword(password string) error {
	for _, rule := range v.passwordRules {
		if !rule.Check(password) {
			return oops.Code(CodeWeakPassword).
				With("field", FieldPassword).
				With("rule", rule.Name).
				Errorf("%s", rule.Message)
		}
	}
	return nil
}

// CheckConfirmation ensures password and its confirmation match.
func (v *Validator) CheckConfirmation(password, confirm string) error {
	if password != confirm {
		return oops.Code(CodePasswordMismatch).With("field", FieldPasswordConfirm).
			Errorf("Passwords do not match")
	}
	return nil
}
