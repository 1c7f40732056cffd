// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records one request on
// a sorted set scored by unix milliseconds.
//
// KEYS[1] = zset key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit
// ARGV[4] = member
//
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window_ms)

local count = tonumber(redis.call("ZCARD", key))
if count < limit then
  redis.call("ZADD", key, now, ARGV[4])
  redis.call("PEXPIRE", key, window_ms)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = window_ms
if oldest and #oldest >= 2 then
  retry = (tonumber(oldest[2]) + window_ms) - now
end
if retry < 0 then retry = 0 end
return {0, 0, retry}
`)

// RedisStore shares windows between instances through Redis.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "emu:ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, limit int, length time.Duration) (Decision, error) {
	member, err := newMember(now)
	if err != nil {
		return Decision{}, err
	}

	// ZREMRANGEBYSCORE is inclusive, so the entry exactly window_ms old is
	// dropped, matching now - ts < window.
	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.key(key)},
		now.UnixMilli(), length.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "run sliding window script")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("unexpected script result length %d", len(res))
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      limit,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// newMember makes members unique when two requests share a millisecond.
func newMember(now time.Time) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "generate window member")
	}
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b[:]), nil
}
