package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/engineerpark/cdulog/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyWriteActor = "%s:ratelimit:write:%s"

// WriteLimiter throttles mutating API calls per actor with a shared Redis
// token bucket, so the limit holds across API replicas.
type WriteLimiter struct {
	bucket *TokenBucket
	prefix string
	rate   float64
	burst  int
}

// NewWriteLimiter returns nil when rate limiting is disabled or no Redis is
// configured. A nil limiter allows everything.
func NewWriteLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*WriteLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		log.Warn("rate limiting enabled but REDIS_ADDR is empty; write limiter disabled")
		return nil, nil
	}
	if limitCfg.WriteRate <= 0 || limitCfg.WriteBurst <= 0 {
		return nil, fmt.Errorf("write rate limit must be positive")
	}
	prefix := strings.Trim(cfg.Redis.KeyPrefix, ":")
	if prefix == "" {
		prefix = "cdulog"
	}
	return &WriteLimiter{
		bucket: NewTokenBucket(client),
		prefix: prefix,
		rate:   limitCfg.WriteRate,
		burst:  limitCfg.WriteBurst,
	}, nil
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WriteLimiter) Allow(ctx context.Context, actorID string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWriteActor, l.prefix, actorID), l.rate, l.burst)
}
