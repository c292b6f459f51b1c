package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkflow-ai/inkflow/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyGenerateUser = "generate:user:%s"
	keyGenerateLock = "generate:lock:%s"

	admissionLockTTL = 30 * time.Second
)

// GenerateLimiter throttles generation admissions per user and serializes
// concurrent admissions for the same account. Disabled (nil) when rate
// limiting is off; every method then allows.
type GenerateLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	userRate  float64
	userBurst int
}

func NewGenerateLimiter(cfg config.Config) (*GenerateLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.UserRate <= 0 || limitCfg.UserBurst <= 0 {
		return nil, errors.New("user rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &GenerateLimiter{
		enabled:   true,
		bucket:    NewTokenBucket(client),
		locker:    NewLocker(client),
		userRate:  limitCfg.UserRate,
		userBurst: limitCfg.UserBurst,
	}, nil
}

func (l *GenerateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowUser consumes one admission token for the user.
func (l *GenerateLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyGenerateUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}

// TryLockUser takes the short per-user admission lock so bursts from one
// account debit sequentially instead of churning on balance conflicts.
func (l *GenerateLimiter) TryLockUser(ctx context.Context, userID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyGenerateLock, strings.TrimSpace(userID)), admissionLockTTL)
}

func (l *GenerateLimiter) ReleaseUser(ctx context.Context, userID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyGenerateLock, strings.TrimSpace(userID)), token)
}
