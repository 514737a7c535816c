// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ucpanel/ucpanel/internal/auth"
	"github.com/ucpanel/ucpanel/internal/auth/postgres"
)

// now is truncated to the microsecond precision PostgreSQL stores.
var now = time.Now().UTC().Truncate(time.Microsecond)

func createIdentity(ctx context.Context, s *postgres.Store, username string) *auth.Identity {
	identity, err := auth.NewIdentity(username, username+"@example.com", "$argon2id$hash", now)
	Expect(err).NotTo(HaveOccurred())
	Expect(s.Identities().Create(ctx, identity)).To(Succeed())
	return identity
}

var _ = Describe("IdentityRepository", func() {
	var (
		ctx context.Context
		s   *postgres.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.New(testPool)
	})

	It("round-trips an identity", func() {
		alice := createIdentity(ctx, s, "alice")

		got, err := s.Identities().GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Username).To(Equal("alice"))
		Expect(got.CreatedAt).To(BeTemporally("==", now))
		Expect(got.LastLoginAt).To(BeNil())
	})

	It("matches username or email case-insensitively", func() {
		alice := createIdentity(ctx, s, "alice")

		for _, identifier := range []string{"ALICE", "Alice@Example.com"} {
			got, err := s.Identities().GetByLogin(ctx, identifier)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(alice.ID))
		}
	})

	It("reports which field conflicts", func() {
		createIdentity(ctx, s, "alice")

		dupe, err := auth.NewIdentity("ALICE", "new@example.com", "$argon2id$hash", now)
		Expect(err).NotTo(HaveOccurred())
		err = s.Identities().Create(ctx, dupe)
		Expect(errors.Is(err, auth.ErrConflict)).To(BeTrue())
		Expect(auth.KindOf(err)).To(Equal(auth.KindConflict))
	})

	It("returns not found for unknown identities", func() {
		_, err := s.Identities().GetByID(ctx, ulid.Make())
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		Expect(errors.Is(s.Identities().SetBanned(ctx, ulid.Make(), true, now), auth.ErrNotFound)).To(BeTrue())
	})

	It("verifies email once", func() {
		identity, err := auth.NewIdentity("carol", "carol@example.com", "$argon2id$hash", now)
		Expect(err).NotTo(HaveOccurred())
		identity.VerificationTokenHash = "vhash"
		Expect(s.Identities().Create(ctx, identity)).To(Succeed())

		got, err := s.Identities().GetByVerificationTokenHash(ctx, "vhash")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(identity.ID))

		Expect(s.Identities().MarkEmailVerified(ctx, identity.ID, now)).To(Succeed())
		_, err = s.Identities().GetByVerificationTokenHash(ctx, "vhash")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("AttemptLog", func() {
	It("counts within an inclusive window and prunes", func() {
		ctx := context.Background()
		log := postgres.New(testPool).Attempts()

		for i := range 3 {
			Expect(log.Append(ctx, &auth.LoginAttempt{
				ID: ulid.Make(), Identifier: "alice", AttemptedAt: now.Add(time.Duration(i) * time.Minute),
			})).To(Succeed())
		}

		n, err := log.CountSince(ctx, "alice", now, now.Add(2*time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		removed, err := log.DeleteOlderThan(ctx, now.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeEquivalentTo(1))
	})
})

var _ = Describe("ResetTokenRepository", func() {
	var (
		ctx   context.Context
		s     *postgres.Store
		owner *auth.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.New(testPool)
		owner = createIdentity(ctx, s, "alice")
	})

	issue := func(hash string) {
		Expect(s.Resets().Upsert(ctx, &auth.ResetToken{
			ID: ulid.Make(), IdentityID: owner.ID, TokenHash: hash, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})).To(Succeed())
	}

	It("keeps only the newest token per identity", func() {
		issue("first")
		issue("second")

		_, err := s.Resets().GetByTokenHash(ctx, "first")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		rt, err := s.Resets().GetByTokenHash(ctx, "second")
		Expect(err).NotTo(HaveOccurred())
		Expect(rt.ConsumedAt).To(BeNil())
	})

	It("consumes exactly once under concurrency", func() {
		issue("hash")

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Go(func() {
				defer GinkgoRecover()
				ok, err := s.Resets().MarkConsumed(ctx, "hash", now.Add(time.Minute))
				Expect(err).NotTo(HaveOccurred())
				if ok {
					wins.Add(1)
				}
			})
		}
		wg.Wait()
		Expect(wins.Load()).To(BeEquivalentTo(1))
	})

	It("refuses expired tokens", func() {
		issue("hash")
		ok, err := s.Resets().MarkConsumed(ctx, "hash", now.Add(61*time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		removed, err := s.Resets().DeleteInactive(ctx, now.Add(61*time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeEquivalentTo(1))
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx   context.Context
		s     *postgres.Store
		owner *auth.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.New(testPool)
		owner = createIdentity(ctx, s, "alice")
	})

	open := func(hash string) {
		Expect(s.Sessions().Create(ctx, &auth.Session{
			ID: ulid.Make(), IdentityID: owner.ID, TokenHash: hash, IdleTimeout: 30 * time.Minute,
			CreatedAt: now, LastActivityAt: now,
		})).To(Succeed())
	}

	It("touches monotonically while live", func() {
		open("hash")
		Expect(s.Sessions().Touch(ctx, "hash", now.Add(10*time.Minute))).To(Succeed())
		Expect(s.Sessions().Touch(ctx, "hash", now.Add(5*time.Minute))).To(Succeed())

		got, err := s.Sessions().GetByTokenHash(ctx, "hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastActivityAt).To(BeTemporally("==", now.Add(10*time.Minute)))

		err = s.Sessions().Touch(ctx, "hash", now.Add(41*time.Minute))
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("revokes all but the kept session", func() {
		open("keep")
		open("drop1")
		open("drop2")

		n, err := s.Sessions().DeleteByIdentity(ctx, owner.ID, "keep")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(2))
		_, err = s.Sessions().GetByTokenHash(ctx, "keep")
		Expect(err).NotTo(HaveOccurred())
	})

	It("prunes idle sessions", func() {
		open("hash")
		n, err := s.Sessions().DeleteExpired(ctx, now.Add(29*time.Minute), 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		n, err = s.Sessions().DeleteExpired(ctx, now.Add(31*time.Minute), 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(1))
	})
})

var _ = Describe("Store.InTx", func() {
	It("rolls back consumption when the password update fails", func() {
		ctx := context.Background()
		s := postgres.New(testPool)
		owner := createIdentity(ctx, s, "alice")
		Expect(s.Resets().Upsert(ctx, &auth.ResetToken{
			ID: ulid.Make(), IdentityID: owner.ID, TokenHash: "hash", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})).To(Succeed())

		err := s.InTx(ctx, func(tx auth.Store) error {
			ok, err := tx.Resets().MarkConsumed(ctx, "hash", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			return tx.Identities().UpdatePassword(ctx, ulid.Make(), "$argon2id$new", now)
		})
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())

		rt, err := s.Resets().GetByTokenHash(ctx, "hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(rt.ConsumedAt).To(BeNil())
	})
})

var _ = Describe("HistoryRepository", func() {
	It("lists newest first with a limit", func() {
		ctx := context.Background()
		s := postgres.New(testPool)
		owner := createIdentity(ctx, s, "alice")

		for i := range 5 {
			Expect(s.History().Append(ctx, &auth.LoginRecord{
				ID: ulid.Make(), IdentityID: owner.ID, Status: auth.LoginStatusSuccess,
				At: now.Add(time.Duration(i) * time.Hour),
			})).To(Succeed())
		}

		got, err := s.History().List(ctx, owner.ID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].At).To(BeTemporally("==", now.Add(4*time.Hour)))

		all, err := s.History().List(ctx, owner.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(5))
	})
})
