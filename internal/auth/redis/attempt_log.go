// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package redis keeps the failed login attempt log in Redis.
//
// Each identifier owns one sorted set whose members are attempt IDs scored by
// the attempt time in Unix microseconds, so concurrent appends never collide
// and window counts are a single ZCOUNT.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/internal/auth"
)

// DefaultKeyPrefix namespaces attempt keys.
const DefaultKeyPrefix = "ucpanel:attempts:"

// scanBatch is the COUNT hint used while sweeping keys.
const scanBatch = 100

// AttemptLog implements auth.LoginAttemptLog on Redis sorted sets.
type AttemptLog struct {
	client    goredis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewAttemptLog creates an attempt log. Keys expire retention after their
// newest attempt; pass the lockout window so idle buckets vanish on their own.
func NewAttemptLog(client goredis.UniversalClient, prefix string, retention time.Duration) (*AttemptLog, error) {
	if client == nil {
		return nil, oops.Code("REDIS_MISSING_CLIENT").Errorf("redis client is required")
	}
	if retention <= 0 {
		return nil, oops.Code("REDIS_INVALID_RETENTION").With("retention", retention).
			Errorf("attempt retention must be positive")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &AttemptLog{client: client, prefix: prefix, retention: retention}, nil
}

func (l *AttemptLog) key(identifier string) string {
	return l.prefix + identifier
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// Append records a failed attempt and refreshes the bucket's expiry.
func (l *AttemptLog) Append(ctx context.Context, attempt *auth.LoginAttempt) error {
	key := l.key(attempt.Identifier)
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, key, goredis.Z{
			Score:  float64(attempt.AttemptedAt.UnixMicro()),
			Member: attempt.ID.String(),
		})
		pipe.PExpire(ctx, key, l.retention)
		return nil
	})
	if err != nil {
		return oops.Code("ATTEMPT_APPEND_FAILED").With("operation", "zadd login attempt").Wrap(err)
	}
	return nil
}

// CountSince counts attempts for identifier in the closed interval [since, until].
func (l *AttemptLog) CountSince(ctx context.Context, identifier string, since, until time.Time) (int, error) {
	n, err := l.client.ZCount(ctx, l.key(identifier), score(since), score(until)).Result()
	if err != nil {
		return 0, oops.Code("ATTEMPT_COUNT_FAILED").With("operation", "zcount login attempts").Wrap(err)
	}
	return int(n), nil
}

// Delete removes a single attempt from identifier's bucket.
func (l *AttemptLog) Delete(ctx context.Context, identifier string, id ulid.ULID) error {
	if err := l.client.ZRem(ctx, l.key(identifier), id.String()).Err(); err != nil {
		return oops.Code("ATTEMPT_DELETE_FAILED").With("operation", "zrem login attempt").Wrap(err)
	}
	return nil
}

// DeleteByIdentifier removes every attempt for identifier.
func (l *AttemptLog) DeleteByIdentifier(ctx context.Context, identifier string) error {
	if err := l.client.Del(ctx, l.key(identifier)).Err(); err != nil {
		return oops.Code("ATTEMPT_DELETE_FAILED").With("operation", "delete login attempts").Wrap(err)
	}
	return nil
}

// DeleteOlderThan removes attempts made before cutoff across every bucket.
// Empty sorted sets are dropped by Redis itself.
func (l *AttemptLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	upper := "(" + score(cutoff)
	iter := l.client.Scan(ctx, 0, l.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		n, err := l.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", upper).Result()
		if err != nil {
			return removed, oops.Code("ATTEMPT_PRUNE_FAILED").
				With("operation", "prune login attempts").
				With("key", iter.Val()).
				Wrap(err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("ATTEMPT_PRUNE_FAILED").With("operation", "scan attempt keys").Wrap(err)
	}
	return removed, nil
}

var _ auth.LoginAttemptLog = (*AttemptLog)(nil)
