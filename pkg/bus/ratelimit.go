package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token bucket shared across processes. State is a hash {tokens, ts}; the
// script refills by elapsed time, then spends one token if available. The
// key expires after two idle refill horizons so abandoned buckets age out.
var rateLimitScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local state = redis.call("HMGET", key, "tokens", "ts")
	local tokens = tonumber(state[1])
	local ts = tonumber(state[2])
	if tokens == nil then
		tokens = burst
		ts = now
	end

	local elapsed = math.max(0, now - ts)
	tokens = math.min(burst, tokens + elapsed * rate)

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call("HSET", key, "tokens", tokens, "ts", now)
	redis.call("PEXPIRE", key, math.ceil(2 * burst / rate * 1000))
	return allowed`)

// RateLimiter enforces a per-key token bucket in Redis so the limit holds
// across all API replicas.
type RateLimiter struct {
	c *Client

	now func() time.Time
}

// NewRateLimiter creates a limiter over the bus client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow spends one token from the bucket for key, refilled at
// requestsPerMinute with the given burst capacity. Returns false when the
// bucket is empty.
func (rl *RateLimiter) Allow(ctx context.Context, key string, requestsPerMinute, burst int) (bool, error) {
	if requestsPerMinute <= 0 || burst <= 0 {
		return true, nil
	}
	ratePerSec := float64(requestsPerMinute) / 60.0
	nowSec := float64(rl.now().UnixMilli()) / 1000.0
	n, err := rateLimitScript.Run(ctx, rl.c.rdb,
		[]string{"hornet:ratelimit:" + key},
		ratePerSec, burst, nowSec,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", key, err)
	}
	return n == 1, nil
}
