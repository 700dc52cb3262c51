package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// gcraScript keeps one key per bucket holding the theoretical arrival time
// (TAT) in milliseconds. A request is admitted while TAT stays within the
// burst tolerance of the Redis server clock.
//
// ARGV: emission interval ms, burst tolerance ms.
// Returns: {allowed, remaining, retry_after_ms}.
const gcraScript = `
local emission = tonumber(ARGV[1])
local tolerance = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local tat = tonumber(redis.call("GET", KEYS[1]) or now)
if tat < now then
  tat = now
end

local next_tat = tat + emission
local allow_at = next_tat - tolerance
if now < allow_at then
  return {0, 0, allow_at - now}
end

redis.call("SET", KEYS[1], next_tat, "PX", next_tat - now)
return {1, math.floor((tolerance - (next_tat - now)) / emission), 0}
`

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket is a GCRA limiter. It behaves like a token bucket refilled at
// rate per second holding at most burst tokens, but stores one integer per key.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(gcraScript)}
}

var errBucketNotConfigured = errors.New("rate limiter not configured")

func (b *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Decision, error) {
	switch {
	case b == nil || b.client == nil:
		return nil, errBucketNotConfigured
	case key == "":
		return nil, errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return nil, fmt.Errorf("rate limiter needs positive rate and burst, got %v/%d", rate, burst)
	}

	emission := int64(math.Ceil(1000 / rate))
	if emission < 1 {
		emission = 1
	}
	reply, err := b.script.Run(ctx, b.client, []string{key}, emission, emission*int64(burst)).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("rate limiter script returned %d values", len(reply))
	}

	return &Decision{
		Allowed:    reply[0] == 1,
		Limit:      burst,
		Remaining:  int(max(reply[1], 0)),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
