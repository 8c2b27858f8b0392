package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEnrollmentNotFound = errors.New("totp enrollment not found")
	ErrEnrollmentBackend  = errors.New("totp enrollment backend unavailable")
)

// EnrollmentStore holds the secret generated by a setup request until the
// user confirms it with a first code.
type EnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewEnrollmentStore(redisClient redis.UniversalClient, prefix string) *EnrollmentStore {
	if prefix == "" {
		prefix = "signin:enroll"
	}
	return &EnrollmentStore{redis: redisClient, prefix: prefix}
}

func (s *EnrollmentStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Save replaces any pending secret for userID.
func (s *EnrollmentStore) Save(ctx context.Context, userID, secret string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(userID), secret, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

func (s *EnrollmentStore) Get(ctx context.Context, userID string) (string, error) {
	secret, err := s.redis.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEnrollmentNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return secret, nil
}

func (s *EnrollmentStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}
