// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package config loads the typed UCPanel configuration.
//
// Values are layered: built-in defaults, then the YAML file, then the
// DATABASE_URL environment variable, then command-line flags that were set
// explicitly.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/redis"
	"github.com/ucpanel/ucpanel/internal/captcha"
	"github.com/ucpanel/ucpanel/internal/logging"
	"github.com/ucpanel/ucpanel/internal/mail"
	"github.com/ucpanel/ucpanel/internal/store"
	"github.com/ucpanel/ucpanel/internal/xdg"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Attempt log backends. AttemptBackendStore keeps attempts with the primary store.
const (
	AttemptBackendStore = "store"
	AttemptBackendRedis = "redis"
)

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig configures the panel API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CookieName      string        `koanf:"cookie_name"`
	CookieSecure    bool          `koanf:"cookie_secure"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// MetricsConfig configures the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// SiteConfig names the panel in outgoing email and links.
type SiteConfig struct {
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

// AuthConfig is the auth core configuration plus its deployment choices.
type AuthConfig struct {
	auth.Config `koanf:",squash"`

	AttemptBackend string           `koanf:"attempt_backend"`
	Sweep          auth.SweepConfig `koanf:"sweep"`
}

// Config is the complete UCPanel configuration.
type Config struct {
	Store    string           `koanf:"store"`
	Database store.PoolConfig `koanf:"database"`
	Redis    redis.Config     `koanf:"redis"`
	Log      LogConfig        `koanf:"log"`
	HTTP     HTTPConfig       `koanf:"http"`
	Metrics  MetricsConfig    `koanf:"metrics"`
	Auth     AuthConfig       `koanf:"auth"`
	Captcha  captcha.Config   `koanf:"captcha"`
	Mail     mail.Config      `koanf:"mail"`
	Site     SiteConfig       `koanf:"site"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:    StorePostgres,
		Database: store.DefaultPoolConfig(),
		Redis:    redis.DefaultConfig(),
		Log:      LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CookieName:      "UCP_SESSION",
			CookieSecure:    true,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Auth: AuthConfig{
			Config:         auth.DefaultConfig(),
			AttemptBackend: AttemptBackendStore,
			Sweep:          auth.SweepConfig{Interval: auth.DefaultSweepInterval},
		},
		Captcha: captcha.DefaultConfig(),
		Mail:    mail.DefaultConfig(),
		Site:    SiteConfig{Name: "Game Server", URL: "http://localhost:8080"},
	}
}

// AuthCore returns the auth configuration with site details filled in.
func (c Config) AuthCore() auth.Config {
	cfg := c.Auth.Config
	cfg.SiteName = c.Site.Name
	cfg.SiteURL = c.Site.URL
	return cfg
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate enumerates every constraint. It is run once at startup.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	case StoreMemory:
	default:
		return invalid("store", "store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	switch c.Auth.AttemptBackend {
	case AttemptBackendStore:
	case AttemptBackendRedis:
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	default:
		return invalid("auth.attempt_backend", "attempt backend must be %q or %q, got %q",
			AttemptBackendStore, AttemptBackendRedis, c.Auth.AttemptBackend)
	}

	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.HTTP.CookieName == "" {
		return invalid("http.cookie_name", "session cookie name is required")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return invalid("http", "http read and write timeouts must be positive")
	}

	if c.Site.Name == "" {
		return invalid("site.name", "site name is required")
	}
	u, err := url.Parse(c.Site.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("site.url", "site url must be an absolute http(s) url, got %q", c.Site.URL)
	}

	if err := c.AuthCore().Validate(); err != nil {
		return err
	}
	if c.Auth.Sweep.Interval < 0 {
		return invalid("auth.sweep.interval", "sweep interval cannot be negative")
	}
	if c.Auth.Captcha.Enabled {
		if err := c.Captcha.Validate(); err != nil {
			return err
		}
	}
	return c.Mail.Validate()
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"store":           "store",
	"database-url":    "database.url",
	"redis-addr":      "redis.addr",
	"attempt-backend": "auth.attempt_backend",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"site-url":        "site.url",
}

// RegisterFlags adds the configuration override flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("store", "", "store backend (postgres or memory)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("redis-addr", "", "Redis address for the attempt log")
	flags.String("attempt-backend", "", "login attempt log backend (store or redis)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json or text)")
	flags.String("http-addr", "", "panel API listen address")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.String("site-url", "", "public base URL used in email links")
}

// Load builds the configuration. An empty path reads the XDG config file if
// it exists; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	required := path != ""
	if !required {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return Config{}, err
		}
	}
	if err := loadFile(k, path, required); err != nil {
		return Config{}, err
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := k.Set("database.url", dsn); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return oops.Code("CONFIG_NOT_FOUND").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
