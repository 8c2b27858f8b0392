package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PHPxCODER/rdp-website-sub000/internal"
)

var (
	ErrEmailLookupRateLimited = errors.New("email lookup rate limited")
	ErrEmailLookupUnavailable = errors.New("email lookup limiter unavailable")
)

// EmailLookupConfig bounds how often one address, and one client IP, may
// ask whether an account exists.
type EmailLookupConfig struct {
	MaxPerEmail int
	MaxPerIP    int
	Window      time.Duration
	Prefix      string
}

// EmailLookupLimiter is a fixed-window counter in Redis. A nil limiter
// allows everything.
type EmailLookupLimiter struct {
	redis redis.UniversalClient
	cfg   EmailLookupConfig
}

func NewEmailLookupLimiter(redisClient redis.UniversalClient, cfg EmailLookupConfig) *EmailLookupLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "signin:lookup"
	}
	return &EmailLookupLimiter{redis: redisClient, cfg: cfg}
}

// Allow counts one lookup for email and ip. Both counters are charged
// before either limit is evaluated.
func (l *EmailLookupLimiter) Allow(ctx context.Context, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	emailCount, err := l.incr(ctx, l.cfg.Prefix+":e:"+internal.HashEmail(email))
	if err != nil {
		return err
	}
	var ipCount int64
	if ip != "" && l.cfg.MaxPerIP > 0 {
		if ipCount, err = l.incr(ctx, l.cfg.Prefix+":ip:"+ip); err != nil {
			return err
		}
	}

	if l.cfg.MaxPerEmail > 0 && int(emailCount) > l.cfg.MaxPerEmail {
		return ErrEmailLookupRateLimited
	}
	if l.cfg.MaxPerIP > 0 && int(ipCount) > l.cfg.MaxPerIP {
		return ErrEmailLookupRateLimited
	}
	return nil
}

func (l *EmailLookupLimiter) incr(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEmailLookupUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrEmailLookupUnavailable, err)
		}
	}
	return count, nil
}
