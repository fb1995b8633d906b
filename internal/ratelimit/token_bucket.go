// Package ratelimit throttles Boss actions per client with a Redis token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"boss-office/internal/telemetry"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// ReviewerLimiter is a distributed token bucket keyed by client address.
type ReviewerLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewReviewerLimiter builds a limiter allowing bursts of capacity and a steady
// refillPerSecond. Idle buckets expire after ttl.
func NewReviewerLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *ReviewerLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &ReviewerLimiter{
		client:   client,
		prefix:   "ratelimit:boss:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes one token for reviewer if available.
func (l *ReviewerLimiter) Allow(ctx context.Context, reviewer string) (Decision, error) {
	key := l.prefix + reviewer
	res, err := bucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refill, l.now().UnixMilli(), l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", reviewer, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	allowed, _ := arr[0].(int64)
	tokens, err := parseTokens(arr[1])
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: allowed == 1, Remaining: tokens}
	if !d.Allowed {
		telemetry.RateLimitRejects.Inc()
		if l.refill > 0 {
			wait := (1 - tokens) / l.refill
			d.RetryAfter = time.Duration(math.Ceil(wait*1000)) * time.Millisecond
		}
	}
	return d, nil
}

func parseTokens(v interface{}) (float64, error) {
	switch v := v.(type) {
	case int64:
		return float64(v), nil
	case string:
		tokens, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse rate limit tokens %q: %w", v, err)
		}
		return tokens, nil
	default:
		return 0, fmt.Errorf("unexpected rate limit tokens %T", v)
	}
}

// Tokens are returned as a string so fractional refills survive the Lua to
// RESP integer conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
