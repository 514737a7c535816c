// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"regexp"
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// Session defaults.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxLifetime = 24 * time.Hour
)

// DefaultResetTokenTTL is how long a password reset token stays usable.
const DefaultResetTokenTTL = time.Hour

// DefaultDispatchTimeout bounds a single email dispatch.
const DefaultDispatchTimeout = 10 * time.Second

// DefaultSpecialChars is the special character set accepted by the password policy.
const DefaultSpecialChars = `!@#$%^&*(),.?":{}|<>`

// LockoutConfig configures the LockoutTracker.
type LockoutConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Window      time.Duration `koanf:"window"`
}

// SessionConfig configures the SessionManager.
type SessionConfig struct {
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// MaxLifetime caps a session regardless of activity. Zero disables the cap.
	MaxLifetime time.Duration `koanf:"max_lifetime"`
}

// ResetConfig configures the ResetTokenStore.
type ResetConfig struct {
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// PasswordPolicy is the composable password strength policy.
type PasswordPolicy struct {
	MinLength        int    `koanf:"min_length"`
	MaxLength        int    `koanf:"max_length"`
	RequireLowercase bool   `koanf:"require_lowercase"`
	RequireUppercase bool   `koanf:"require_uppercase"`
	RequireDigit     bool   `koanf:"require_digit"`
	RequireSpecial   bool   `koanf:"require_special"`
	SpecialChars     string `koanf:"special_chars"`
	// RejectReuse makes ChangePassword refuse a new password equal to the current one.
	RejectReuse bool `koanf:"reject_reuse"`
}

// UsernamePolicy constrains usernames at registration.
type UsernamePolicy struct {
	MinLength     int      `koanf:"min_length"`
	MaxLength     int      `koanf:"max_length"`
	Pattern       string   `koanf:"pattern"`
	ReservedNames []string `koanf:"reserved_names"`
}

// EmailPolicy constrains email addresses at registration.
type EmailPolicy struct {
	Pattern           string   `koanf:"pattern"`
	DisposableDomains []string `koanf:"disposable_domains"`
}

// CaptchaPolicy configures the CaptchaEvaluator.
type CaptchaPolicy struct {
	Enabled      bool    `koanf:"enabled"`
	MinScore     float64 `koanf:"min_score"`
	SiteHostname string  `koanf:"site_hostname"`
}

// Features toggles optional flows.
type Features struct {
	Registration      bool `koanf:"registration"`
	PasswordReset     bool `koanf:"password_reset"`
	EmailVerification bool `koanf:"email_verification"`
}

// SessionPolicy covers the session choices made on credential changes and logins.
type SessionPolicy struct {
	// RevokeSessionsOnPasswordChange destroys the identity's other sessions on
	// ChangePassword and all of its sessions on CompletePasswordReset.
	RevokeSessionsOnPasswordChange bool `koanf:"revoke_sessions_on_password_change"`
	// SingleSession makes a successful login supersede earlier sessions.
	SingleSession bool `koanf:"single_session"`
}

// Config is the complete typed configuration of the auth core.
type Config struct {
	Lockout  LockoutConfig  `koanf:"lockout"`
	Session  SessionConfig  `koanf:"session"`
	Reset    ResetConfig    `koanf:"reset"`
	Password PasswordPolicy `koanf:"password"`
	Username UsernamePolicy `koanf:"username"`
	Email    EmailPolicy    `koanf:"email"`
	Captcha  CaptchaPolicy  `koanf:"captcha"`
	Features Features       `koanf:"features"`
	Policy   SessionPolicy  `koanf:"policy"`
	Argon2   Argon2Params   `koanf:"argon2"`

	// SiteName and SiteURL are used in outgoing email.
	SiteName string `koanf:"-"`
	SiteURL  string `koanf:"-"`

	// DispatchTimeout bounds each email dispatch.
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
}

// DefaultConfig returns the control panel's stock security settings.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			MaxAttempts: DefaultMaxAttempts,
			Window:      DefaultLockoutWindow,
		},
		Session: SessionConfig{
			IdleTimeout: DefaultIdleTimeout,
			MaxLifetime: DefaultMaxLifetime,
		},
		Reset: ResetConfig{TokenTTL: DefaultResetTokenTTL},
		Password: PasswordPolicy{
			MinLength:        8,
			MaxLength:        128,
			RequireLowercase: true,
			RequireUppercase: true,
			RequireDigit:     true,
			RequireSpecial:   true,
			SpecialChars:     DefaultSpecialChars,
		},
		Username: UsernamePolicy{
			MinLength:     3,
			MaxLength:     20,
			Pattern:       `^[a-zA-Z0-9_]+$`,
			ReservedNames: []string{"admin", "root", "system", "null", "undefined"},
		},
		Email: EmailPolicy{
			Pattern:           `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`,
			DisposableDomains: []string{"tempmail.com", "10minutemail.com", "guerrillamail.com"},
		},
		Captcha: CaptchaPolicy{
			Enabled:  true,
			MinScore: 0.5,
		},
		Features: Features{
			Registration:      true,
			PasswordReset:     true,
			EmailVerification: true,
		},
		Policy: SessionPolicy{
			RevokeSessionsOnPasswordChange: true,
		},
		Argon2:          DefaultArgon2Params(),
		SiteName:        "Game Server",
		DispatchTimeout: DefaultDispatchTimeout,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Lockout.MaxAttempts < 1 {
		return oops.Code(CodeInvalidConfig).With("field", "lockout.max_attempts").
			Errorf("lockout max attempts must be at least 1, got %d", c.Lockout.MaxAttempts)
	}
	if c.Lockout.Window <= 0 {
		return oops.Code(CodeInvalidConfig).With("field", "lockout.window").
			Errorf("lockout window must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		return oops.Code(CodeInvalidConfig).With("field", "session.idle_timeout").
			Errorf("session idle timeout must be positive")
	}
	if c.Session.MaxLifetime < 0 {
		return oops.Code(CodeInvalidConfig).With("field", "session.max_lifetime").
			Errorf("session max lifetime cannot be negative")
	}
	if c.Reset.TokenTTL <= 0 {
		return oops.Code(CodeInvalidConfig).With("field", "reset.token_ttl").
			Errorf("reset token ttl must be positive")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return oops.Code(CodeInvalidConfig).With("field", "password").
			Errorf("password length bounds invalid: min=%d max=%d", c.Password.MinLength, c.Password.MaxLength)
	}
	if c.Password.RequireSpecial && c.Password.SpecialChars == "" {
		return oops.Code(CodeInvalidConfig).With("field", "password.special_chars").
			Errorf("special characters required but none configured")
	}
	if c.Username.MinLength < 1 || c.Username.MaxLength < c.Username.MinLength {
		return oops.Code(CodeInvalidConfig).With("field", "username").
			Errorf("username length bounds invalid: min=%d max=%d", c.Username.MinLength, c.Username.MaxLength)
	}
	if _, err := regexp.Compile(c.Username.Pattern); err != nil {
		return oops.Code(CodeInvalidConfig).With("field", "username.pattern").Wrap(err)
	}
	if _, err := regexp.Compile(c.Email.Pattern); err != nil {
		return oops.Code(CodeInvalidConfig).With("field", "email.pattern").Wrap(err)
	}
	if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
		return oops.Code(CodeInvalidConfig).With("field", "captcha.min_score").
			Errorf("captcha min score must be within [0,1], got %v", c.Captcha.MinScore)
	}
	if c.DispatchTimeout <= 0 {
		return oops.Code(CodeInvalidConfig).With("field", "dispatch_timeout").
			Errorf("dispatch timeout must be positive")
	}
	return c.Argon2.Validate()
}
