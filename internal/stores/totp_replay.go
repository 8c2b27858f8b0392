package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrReplayBackend = errors.New("totp replay backend unavailable")

// claimStepLua advances the last accepted step of a user.
// KEYS[1] = per-user key
// ARGV[1] = step
// ARGV[2] = ttl (milliseconds)
// Returns 1 when the step is newer than the stored one, 0 otherwise.
var claimStepLua = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// ReplayGuard remembers the last TOTP time step accepted for each user. A
// code is only fresh when its step is later than that one, so an older code
// still inside the drift window cannot be used after a newer one.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

func NewReplayGuard(redisClient redis.UniversalClient, prefix string) *ReplayGuard {
	if prefix == "" {
		prefix = "signin:totp-step"
	}
	return &ReplayGuard{redis: redisClient, prefix: prefix}
}

// Claim returns true when step is later than the last step claimed for
// userID within ttl, and records it.
func (g *ReplayGuard) Claim(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	n, err := claimStepLua.Run(ctx, g.redis, []string{g.prefix + ":" + userID}, step, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	return n == 1, nil
}
