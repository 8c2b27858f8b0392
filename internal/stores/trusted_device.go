package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTrustedDeviceBackend = errors.New("trusted device backend unavailable")

// TrustedDeviceStore keeps, per user, a hash of token digest to expiry.
// The key's own TTL follows the newest device so idle users cost nothing.
type TrustedDeviceStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTrustedDeviceStore(redisClient redis.UniversalClient, prefix string) *TrustedDeviceStore {
	if prefix == "" {
		prefix = "signin:device"
	}
	return &TrustedDeviceStore{redis: redisClient, prefix: prefix, now: time.Now}
}

func (s *TrustedDeviceStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *TrustedDeviceStore) Trust(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	key := s.key(userID)
	expiresAt := s.now().Add(ttl).Unix()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, tokenHash, expiresAt)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return nil
}

// IsTrusted reports whether tokenHash is registered for userID and unexpired.
// Expired entries are removed lazily.
func (s *TrustedDeviceStore) IsTrusted(ctx context.Context, userID, tokenHash string) (bool, error) {
	raw, err := s.redis.HGet(ctx, s.key(userID), tokenHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || s.now().Unix() >= expiresAt {
		_, _ = s.redis.HDel(ctx, s.key(userID), tokenHash).Result()
		return false, nil
	}
	return true, nil
}

// RevokeAll forgets every trusted device of userID.
func (s *TrustedDeviceStore) RevokeAll(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return nil
}
