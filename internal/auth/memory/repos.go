// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

type identityRepo struct{ s *Store }

func (r *identityRepo) Create(_ context.Context, identity *auth.Identity) error {
	return r.s.do(func(st *state) error {
		for _, existing := range st.identities {
			if strings.EqualFold(existing.Username, identity.Username) {
				return oops.Code(auth.CodeIdentityConflict).With("field", auth.FieldUsername).Wrap(auth.ErrConflict)
			}
			if strings.EqualFold(existing.Email, identity.Email) {
				return oops.Code(auth.CodeIdentityConflict).With("field", auth.FieldEmail).Wrap(auth.ErrConflict)
			}
		}
		st.identities[identity.ID] = copyIdentity(identity)
		return nil
	})
}

func (r *identityRepo) find(match func(*auth.Identity) bool) (*auth.Identity, error) {
	var found *auth.Identity
	err := r.s.do(func(st *state) error {
		for _, i := range st.identities {
			if match(i) {
				found = copyIdentity(i)
				return nil
			}
		}
		return oops.Code(auth.CodeIdentityNotFound).Wrap(auth.ErrNotFound)
	})
	return found, err
}

func (r *identityRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	return r.find(func(i *auth.Identity) bool { return i.ID == id })
}

func (r *identityRepo) GetByUsername(_ context.Context, username string) (*auth.Identity, error) {
	return r.find(func(i *auth.Identity) bool { return strings.EqualFold(i.Username, username) })
}

func (r *identityRepo) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	return r.find(func(i *auth.Identity) bool { return strings.EqualFold(i.Email, email) })
}

func (r *identityRepo) GetByLogin(_ context.Context, identifier string) (*auth.Identity, error) {
	return r.find(func(i *auth.Identity) bool {
		return strings.EqualFold(i.Username, identifier) || strings.EqualFold(i.Email, identifier)
	})
}

func (r *identityRepo) GetByVerificationTokenHash(_ context.Context, tokenHash string) (*auth.Identity, error) {
	return r.find(func(i *auth.Identity) bool {
		return !i.EmailVerified && i.VerificationTokenHash != "" && i.VerificationTokenHash == tokenHash
	})
}

func (r *identityRepo) update(id ulid.ULID, fn func(i *auth.Identity)) error {
	return r.s.do(func(st *state) error {
		i, ok := st.identities[id]
		if !ok {
			return oops.Code(auth.CodeIdentityNotFound).With("identity_id", id.String()).Wrap(auth.ErrNotFound)
		}
		fn(i)
		return nil
	})
}

func (r *identityRepo) RecordLogin(_ context.Context, id ulid.ULID, at time.Time, sourceAddress string) error {
	return r.update(id, func(i *auth.Identity) {
		i.LastLoginAt = &at
		i.LastLoginIP = sourceAddress
		i.UpdatedAt = at
	})
}

func (r *identityRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.update(id, func(i *auth.Identity) {
		i.PasswordHash = passwordHash
		i.PasswordChangedAt = &at
		i.UpdatedAt = at
	})
}

func (r *identityRepo) UpgradePasswordHash(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(id, func(i *auth.Identity) {
		i.PasswordHash = passwordHash
	})
}

func (r *identityRepo) MarkEmailVerified(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.update(id, func(i *auth.Identity) {
		i.EmailVerified = true
		i.VerificationTokenHash = ""
		i.UpdatedAt = at
	})
}

func (r *identityRepo) SetBanned(_ context.Context, id ulid.ULID, banned bool, at time.Time) error {
	return r.update(id, func(i *auth.Identity) {
		i.Banned = banned
		i.UpdatedAt = at
	})
}

type attemptLog struct{ s *Store }

func (l *attemptLog) Append(_ context.Context, attempt *auth.LoginAttempt) error {
	return l.s.do(func(st *state) error {
		c := *attempt
		st.attempts = append(st.attempts, &c)
		return nil
	})
}

func (l *attemptLog) CountSince(_ context.Context, identifier string, since, until time.Time) (int, error) {
	var n int
	err := l.s.do(func(st *state) error {
		for _, a := range st.attempts {
			if a.Identifier == identifier && !a.AttemptedAt.Before(since) && !a.AttemptedAt.After(until) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (l *attemptLog) Delete(_ context.Context, identifier string, id ulid.ULID) error {
	return l.s.do(func(st *state) error {
		st.attempts = slices.DeleteFunc(st.attempts, func(a *auth.LoginAttempt) bool {
			return a.ID == id && a.Identifier == identifier
		})
		return nil
	})
}

func (l *attemptLog) DeleteByIdentifier(_ context.Context, identifier string) error {
	return l.s.do(func(st *state) error {
		st.attempts = slices.DeleteFunc(st.attempts, func(a *auth.LoginAttempt) bool {
			return a.Identifier == identifier
		})
		return nil
	})
}

func (l *attemptLog) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := l.s.do(func(st *state) error {
		before := len(st.attempts)
		st.attempts = slices.DeleteFunc(st.attempts, func(a *auth.LoginAttempt) bool {
			return a.AttemptedAt.Before(cutoff)
		})
		n = int64(before - len(st.attempts))
		return nil
	})
	return n, err
}

type resetRepo struct{ s *Store }

func (r *resetRepo) Upsert(_ context.Context, token *auth.ResetToken) error {
	return r.s.do(func(st *state) error {
		st.resets[token.IdentityID] = copyReset(token)
		return nil
	})
}

func (r *resetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	var found *auth.ResetToken
	err := r.s.do(func(st *state) error {
		for _, t := range st.resets {
			if t.TokenHash == tokenHash {
				found = copyReset(t)
				return nil
			}
		}
		return oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	})
	return found, err
}

func (r *resetRepo) MarkConsumed(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	var consumed bool
	err := r.s.do(func(st *state) error {
		for _, t := range st.resets {
			if t.TokenHash == tokenHash && t.ActiveAt(now) {
				at := now
				t.ConsumedAt = &at
				consumed = true
				return nil
			}
		}
		return nil
	})
	return consumed, err
}

func (r *resetRepo) DeleteInactive(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for id, t := range st.resets {
			if !t.ActiveAt(now) {
				delete(st.resets, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(_ context.Context, session *auth.Session) error {
	return r.s.do(func(st *state) error {
		if _, exists := st.sessions[session.TokenHash]; exists {
			return oops.Code("SESSION_CONFLICT").Wrap(auth.ErrConflict)
		}
		c := *session
		st.sessions[session.TokenHash] = &c
		return nil
	})
}

func (r *sessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	var found *auth.Session
	err := r.s.do(func(st *state) error {
		s, ok := st.sessions[tokenHash]
		if !ok {
			return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		c := *s
		found = &c
		return nil
	})
	return found, err
}

func (r *sessionRepo) Touch(_ context.Context, tokenHash string, at time.Time) error {
	return r.s.do(func(st *state) error {
		s, ok := st.sessions[tokenHash]
		if !ok || s.IdleAt(at) {
			return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		if at.After(s.LastActivityAt) {
			s.LastActivityAt = at
		}
		return nil
	})
}

func (r *sessionRepo) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	return r.s.do(func(st *state) error {
		delete(st.sessions, tokenHash)
		return nil
	})
}

func (r *sessionRepo) DeleteByIdentity(_ context.Context, identityID ulid.ULID, keepTokenHash string) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for hash, s := range st.sessions {
			if s.IdentityID == identityID && hash != keepTokenHash {
				delete(st.sessions, hash)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *sessionRepo) DeleteExpired(_ context.Context, now time.Time, maxLifetime time.Duration) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for hash, s := range st.sessions {
			if s.IdleAt(now) || (maxLifetime > 0 && now.Sub(s.CreatedAt) > maxLifetime) {
				delete(st.sessions, hash)
				n++
			}
		}
		return nil
	})
	return n, err
}

type historyRepo struct{ s *Store }

func (r *historyRepo) Append(_ context.Context, record *auth.LoginRecord) error {
	return r.s.do(func(st *state) error {
		c := *record
		st.history = append(st.history, &c)
		return nil
	})
}

func (r *historyRepo) List(_ context.Context, identityID ulid.ULID, limit int) ([]*auth.LoginRecord, error) {
	var out []*auth.LoginRecord
	err := r.s.do(func(st *state) error {
		for i := len(st.history) - 1; i >= 0; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			if h := st.history[i]; h.IdentityID == identityID {
				c := *h
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}
