// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package captcha fetches verdicts from a siteverify-style CAPTCHA service.
//
// The client only transports and parses. Accepting or rejecting a verdict is
// left to auth.CaptchaEvaluator.
package captcha

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/pkg/errutil"
)

// DefaultVerifyURL is the reCAPTCHA siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// DefaultTimeout bounds one verification round-trip.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of the verification response is read.
const maxResponseBytes = 64 << 10

// Error codes placed in verdicts the client synthesizes itself.
const (
	ErrorMissingResponse = "missing-input-response"
	ErrorUnavailable     = "verification-unavailable"
)

// Config configures the verification client.
type Config struct {
	VerifyURL string        `koanf:"verify_url"`
	SiteKey   string        `koanf:"site_key"`
	Secret    string        `koanf:"secret"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the reCAPTCHA defaults. Secret must still be set.
func DefaultConfig() Config {
	return Config{VerifyURL: DefaultVerifyURL, Timeout: DefaultTimeout}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VerifyURL == "" {
		return oops.Code("CAPTCHA_INVALID_CONFIG").With("field", "captcha.verify_url").Errorf("verify url is required")
	}
	if c.Secret == "" {
		return oops.Code("CAPTCHA_INVALID_CONFIG").With("field", "captcha.secret").Errorf("captcha secret is required")
	}
	if c.Timeout <= 0 || c.Timeout > DefaultTimeout {
		return oops.Code("CAPTCHA_INVALID_CONFIG").With("field", "captcha.timeout").
			Errorf("captcha timeout must be in (0, %s], got %s", DefaultTimeout, c.Timeout)
	}
	return nil
}

// Client calls the verification service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets one bounded by cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

// SiteKey returns the public key the browser widget needs.
func (c *Client) SiteKey() string {
	return c.cfg.SiteKey
}

// Fetch asks the service about a client-submitted response token.
func (c *Client) Fetch(ctx context.Context, response, remoteIP string) (auth.CaptchaVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{"secret": {c.cfg.Secret}, "response": {response}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.CaptchaVerdict{}, oops.Code("CAPTCHA_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "ucpanel-captcha/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return auth.CaptchaVerdict{}, oops.Code("CAPTCHA_REQUEST_FAILED").With("url", c.cfg.VerifyURL).Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return auth.CaptchaVerdict{}, oops.Code("CAPTCHA_BAD_STATUS").
			With("status", resp.StatusCode).
			Errorf("captcha service returned %s", resp.Status)
	}

	var verdict auth.CaptchaVerdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&verdict); err != nil {
		return auth.CaptchaVerdict{}, oops.Code("CAPTCHA_DECODE_FAILED").Wrap(err)
	}
	return verdict, nil
}

// Verify returns a verdict for the response token and never fails: an empty
// token or an unreachable service yields an unsuccessful verdict.
func (c *Client) Verify(ctx context.Context, response, remoteIP string) auth.CaptchaVerdict {
	if strings.TrimSpace(response) == "" {
		return auth.CaptchaVerdict{ErrorCodes: []string{ErrorMissingResponse}}
	}
	verdict, err := c.Fetch(ctx, response, remoteIP)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "captcha verification error", err)
		return auth.CaptchaVerdict{ErrorCodes: []string{ErrorUnavailable}}
	}
	return verdict
}
