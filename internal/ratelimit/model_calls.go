package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"

	"github.com/babcialabs/babcia/internal/config"
)

const (
	keyBowlGenerate       = "ai:bowl_generate:user:%s"
	keyVerificationSubmit = "ai:verification_submit:user:%s"
	keySchedulerJobLock   = "scheduler:lock:%s"
)

// ModelCallLimiter sits in front of the two endpoints that call a
// vision model: bowl generation and verification submit. It also owns
// the locker the scheduler uses for single-runner jobs, since both
// share the one redis client.
type ModelCallLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

// NewModelCallLimiter returns nil when no redis address is configured;
// every check then passes, so the limiter never blocks the domain.
func NewModelCallLimiter(cfg config.Config) (*ModelCallLimiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	if cfg.AIRatePerMinute <= 0 || cfg.AIRateBurst <= 0 {
		return nil, errors.New("ai rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &ModelCallLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.AIRatePerMinute / 60,
		burst:   cfg.AIRateBurst,
	}, nil
}

func (l *ModelCallLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ModelCallLimiter) AllowBowlGeneration(ctx context.Context, userID snowflake.ID) (*RateLimitResult, error) {
	return l.allow(ctx, fmt.Sprintf(keyBowlGenerate, userID.String()))
}

func (l *ModelCallLimiter) AllowVerificationSubmit(ctx context.Context, userID snowflake.ID) (*RateLimitResult, error) {
	return l.allow(ctx, fmt.Sprintf(keyVerificationSubmit, userID.String()))
}

func (l *ModelCallLimiter) allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

func (l *ModelCallLimiter) TryJobLock(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keySchedulerJobLock, strings.TrimSpace(job)), ttl)
}

func (l *ModelCallLimiter) ReleaseJobLock(ctx context.Context, job, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keySchedulerJobLock, strings.TrimSpace(job)), token)
}
