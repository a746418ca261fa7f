// Package ratelimit implements a sliding window rate limiter on Redis.
// Each key holds a sorted set of request timestamps; a Lua script
// atomically expires old entries, checks the count and records the new
// request.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

// Limiter checks per-key request budgets over arbitrary windows. The
// renewal saga uses one instance with an hourly and a daily window per
// user.
type Limiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

func New(redisClient *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

// Allow records a request against the key's window and reports whether
// it fit under the limit. A non-positive limit disables the check. The
// limiter fails open: if Redis is unreachable the request is allowed.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := l.script.Run(ctx, l.redisClient, []string{"rl:" + key},
		now, window.Milliseconds(), limit, member,
	).Int64()
	if err != nil {
		l.logger.Error("rate limiter script failed", "error", err, "key", key)
		return true
	}

	if result == 0 {
		l.logger.Debug("rate limited", "key", key, "limit", limit, "window", window)
		return false
	}

	return true
}
