// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/postgres"
	authredis "github.com/ucpanel/ucpanel/internal/auth/redis"
	"github.com/ucpanel/ucpanel/internal/store"
	"github.com/ucpanel/ucpanel/internal/web"
)

const (
	password    = "Str0ng!pass"
	newPassword = "N3w!password"
)

// outbox records outgoing email.
type outbox struct {
	mu   sync.Mutex
	sent map[string]map[string]string
}

func (o *outbox) SendTemplate(_ context.Context, template, _ string, vars map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[template] = vars
	return nil
}

// token waits for a template to be sent, since some mail leaves in the background.
func (o *outbox) token(template, key string) string {
	var link string
	Eventually(func(g Gomega) {
		o.mu.Lock()
		defer o.mu.Unlock()
		g.Expect(o.sent).To(HaveKey(template))
		link = o.sent[template][key]
	}).Should(Succeed())
	u, err := url.Parse(link)
	Expect(err).NotTo(HaveOccurred())
	return u.Query().Get("token")
}

// testEnv holds all the resources needed for integration tests.
type testEnv struct {
	pool   *pgxpool.Pool
	redis  *miniredis.Miniredis
	mail   *outbox
	server *httptest.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ucpanel_test"),
		tcpostgres.WithUsername("ucpanel"),
		tcpostgres.WithPassword("ucpanel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	logger := slog.New(slog.DiscardHandler)
	poolCfg := store.DefaultPoolConfig()
	poolCfg.URL = connStr
	pool, err := store.Connect(ctx, poolCfg, logger)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(pool.Close)

	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	DeferCleanup(func() { _ = client.Close() })

	cfg := auth.DefaultConfig()
	cfg.Argon2 = auth.Argon2Params{Memory: 1024, Time: 1, Threads: 1, SaltLength: 16, KeyLength: 32}
	cfg.Captcha.Enabled = false
	cfg.SiteURL = "https://panel.example.com/"

	attempts, err := authredis.NewAttemptLog(client, "", cfg.Lockout.Window)
	Expect(err).NotTo(HaveOccurred())

	mail := &outbox{sent: map[string]map[string]string{}}
	svc, err := auth.NewService(cfg, auth.ServiceDeps{
		Store:  auth.WithAttemptLog(postgres.New(pool), attempts),
		Mailer: mail,
		Logger: logger,
	})
	Expect(err).NotTo(HaveOccurred())

	api, err := web.NewServer(web.Options{}, web.Deps{Service: svc, Logger: logger})
	Expect(err).NotTo(HaveOccurred())
	server := httptest.NewServer(api)
	DeferCleanup(server.Close)
	DeferCleanup(svc.Flush)

	env = &testEnv{pool: pool, redis: mr, mail: mail, server: server}
})

var _ = BeforeEach(func() {
	_, err := env.pool.Exec(context.Background(), `
		TRUNCATE login_history, sessions, password_reset_tokens, login_attempts, identities
	`)
	Expect(err).NotTo(HaveOccurred())
	env.redis.FlushAll()
})

// browser is an HTTP client that keeps cookies like a browser session.
type browser struct {
	client *http.Client
}

func newBrowser() *browser {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &browser{client: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (b *browser) call(method, path string, body any) int {
	var payload bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&payload).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, env.server.URL+path, &payload)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	return resp.StatusCode
}

func (b *browser) login(identifier, pw string) int {
	return b.call(http.MethodPost, "/api/login", map[string]any{"identifier": identifier, "password": pw})
}

func register(b *browser, username string) {
	Expect(b.call(http.MethodPost, "/api/register", map[string]any{
		"username":         username,
		"email":            username + "@example.com",
		"password":         password,
		"password_confirm": password,
		"terms_accepted":   true,
	})).To(Equal(http.StatusCreated))
	token := env.mail.token("email_verification", "verification_url")
	Expect(b.call(http.MethodGet, "/api/email/verify?token="+url.QueryEscape(token), nil)).To(Equal(http.StatusOK))
}

var _ = Describe("Account flows", func() {
	It("registers, verifies, logs in and changes the password", func() {
		b := newBrowser()
		register(b, "player1")

		Expect(b.login("player1", password)).To(Equal(http.StatusOK))
		Expect(b.call(http.MethodGet, "/api/session", nil)).To(Equal(http.StatusOK))

		Expect(b.call(http.MethodPost, "/api/password/change", map[string]any{
			"current_password":     password,
			"new_password":         newPassword,
			"new_password_confirm": newPassword,
		})).To(Equal(http.StatusOK))
		Expect(b.call(http.MethodGet, "/api/session", nil)).To(Equal(http.StatusOK))

		other := newBrowser()
		Expect(other.login("player1", password)).To(Equal(http.StatusUnauthorized))
		Expect(other.login("player1@example.com", newPassword)).To(Equal(http.StatusOK))

		Expect(b.call(http.MethodPost, "/api/logout", nil)).To(Equal(http.StatusOK))
		Expect(b.call(http.MethodGet, "/api/session", nil)).To(Equal(http.StatusUnauthorized))
	})

	It("locks the identifier after repeated failures using the redis attempt log", func() {
		b := newBrowser()
		register(b, "player2")

		for range 5 {
			Expect(b.login("player2", "wrong")).To(Equal(http.StatusUnauthorized))
		}
		Expect(env.redis.Keys()).To(ContainElement(authredis.DefaultKeyPrefix + "player2"))
		Expect(b.login("player2", password)).To(Equal(http.StatusTooManyRequests))

		env.redis.FastForward(16 * time.Minute)
		Expect(b.login("player2", password)).To(Equal(http.StatusOK))
	})

	It("resets a forgotten password once and ends existing sessions", func() {
		b := newBrowser()
		register(b, "player3")
		Expect(b.login("player3", password)).To(Equal(http.StatusOK))

		anon := newBrowser()
		Expect(anon.call(http.MethodPost, "/api/password/reset", map[string]any{"email": "player3@example.com"})).
			To(Equal(http.StatusOK))
		token := env.mail.token("password_reset", "reset_url")

		complete := map[string]any{"token": token, "new_password": newPassword, "new_password_confirm": newPassword}
		Expect(anon.call(http.MethodPost, "/api/password/reset/complete", complete)).To(Equal(http.StatusOK))
		Expect(anon.call(http.MethodPost, "/api/password/reset/complete", complete)).To(Equal(http.StatusNotFound))

		Expect(b.call(http.MethodGet, "/api/session", nil)).To(Equal(http.StatusUnauthorized))
		Expect(anon.login("player3", newPassword)).To(Equal(http.StatusOK))
	})
})
