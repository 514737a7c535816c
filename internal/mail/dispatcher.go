// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package mail delivers the templated email the auth core asks for.
package mail

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/knadh/smtppool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// Config configures outgoing email.
type Config struct {
	// Enabled false logs suppressed messages instead of sending them.
	Enabled            bool          `koanf:"enabled"`
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	From               string        `koanf:"from"`
	MaxConns           int           `koanf:"max_conns"`
	Timeout            time.Duration `koanf:"timeout"`
	Retries            uint64        `koanf:"retries"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	TemplatesDir       string        `koanf:"templates_dir"`
}

// DefaultConfig returns mail defaults with delivery disabled.
func DefaultConfig() Config {
	return Config{
		Port:     587,
		From:     "noreply@localhost",
		MaxConns: 4,
		Timeout:  auth.DefaultDispatchTimeout,
		Retries:  2,
	}
}

// Validate checks the configuration when delivery is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return oops.Code("MAIL_INVALID_CONFIG").With("field", "mail.host").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("MAIL_INVALID_CONFIG").With("field", "mail.port").Errorf("smtp port out of range: %d", c.Port)
	}
	if c.From == "" {
		return oops.Code("MAIL_INVALID_CONFIG").With("field", "mail.from").Errorf("from address is required")
	}
	if c.MaxConns < 1 {
		return oops.Code("MAIL_INVALID_CONFIG").With("field", "mail.max_conns").Errorf("max_conns must be at least 1")
	}
	if c.Timeout <= 0 {
		return oops.Code("MAIL_INVALID_CONFIG").With("field", "mail.timeout").Errorf("mail timeout must be positive")
	}
	return nil
}

// sender is the part of smtppool.Pool the Dispatcher uses.
type sender interface {
	Send(e smtppool.Email) error
	Close()
}

// Dispatcher implements auth.Mailer over an SMTP connection pool.
type Dispatcher struct {
	cfg       Config
	templates *Templates
	pool      sender
	logger    *slog.Logger
	backoff   time.Duration
}

// NewDispatcher opens an SMTP pool for cfg.
func NewDispatcher(cfg Config, templates *Templates, logger *slog.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, oops.Code("MAIL_DISABLED").Errorf("mail delivery is disabled")
	}

	var smtpAuth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		smtpAuth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	pool, err := smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     cfg.Timeout,
		PoolWaitTimeout: cfg.Timeout,
		TLSConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed relays
			MinVersion:         tls.VersionTLS12,
		},
		Auth: smtpAuth,
	})
	if err != nil {
		return nil, oops.Code("MAIL_POOL_FAILED").With("host", cfg.Host).With("port", cfg.Port).Wrap(err)
	}
	return newDispatcher(cfg, templates, pool, logger)
}

func newDispatcher(cfg Config, templates *Templates, pool sender, logger *slog.Logger) (*Dispatcher, error) {
	if templates == nil {
		return nil, oops.Code("MAIL_MISSING_TEMPLATES").Errorf("templates are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		templates: templates,
		pool:      pool,
		logger:    logger,
		backoff:   200 * time.Millisecond,
	}, nil
}

// SendTemplate renders the template and delivers it, retrying transient
// send failures until ctx ends or the retry budget is spent.
func (d *Dispatcher) SendTemplate(ctx context.Context, template, recipient string, vars map[string]string) error {
	subject, body, err := d.templates.Render(template, vars)
	if err != nil {
		return err
	}

	msg := smtppool.Email{
		From:    d.cfg.From,
		To:      []string{recipient},
		Subject: subject,
		Text:    []byte(body),
	}

	attempts := 0
	backoff := retry.WithMaxRetries(d.cfg.Retries, retry.NewExponential(d.backoff))
	err = retry.Do(ctx, backoff, func(context.Context) error {
		attempts++
		if sendErr := d.pool.Send(msg); sendErr != nil {
			d.logger.WarnContext(ctx, "email send attempt failed",
				"template", template,
				"attempt", attempts,
				"error", sendErr)
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("template", template).
			With("attempts", attempts).
			Wrap(err)
	}

	d.logger.InfoContext(ctx, "email sent", "template", template, "attempts", attempts)
	return nil
}

// Close releases pooled SMTP connections.
func (d *Dispatcher) Close() {
	d.pool.Close()
}

// LogMailer stands in for a Dispatcher when delivery is disabled. It renders
// the message to catch template errors and logs that it was suppressed.
// Message bodies carry tokens and are never logged.
type LogMailer struct {
	templates *Templates
	logger    *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(templates *Templates, logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{templates: templates, logger: logger}
}

// SendTemplate renders and drops the message.
func (m *LogMailer) SendTemplate(ctx context.Context, template, _ string, vars map[string]string) error {
	subject, _, err := m.templates.Render(template, vars)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "email delivery disabled, message suppressed",
		"template", template,
		"subject", subject)
	return nil
}

var (
	_ auth.Mailer = (*Dispatcher)(nil)
	_ auth.Mailer = (*LogMailer)(nil)
)
