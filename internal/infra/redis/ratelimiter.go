package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 600
	windowSeconds            = 1
	// Keys outlive their window by one second so a slow caller cannot
	// resurrect an expired budget key.
	keyTTLSeconds = windowSeconds + 1
)

var reserveScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
local want = tonumber(ARGV[2])
if current >= limit then
  return 0
end
local granted = want
if current + granted > limit then
  granted = limit - current
end
redis.call("INCRBY", KEYS[1], granted)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return granted
`)

var _ ratelimit.Limiter = (*RedisBudgetLimiter)(nil)

// RedisBudgetLimiter is a distributed per-second recipient budget backed by
// Redis, so the dispatch ceiling holds even with multiple relay replicas.
type RedisBudgetLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	script      *goredis.Script
}

func NewRedisBudgetLimiter(client *goredis.Client, limitPerSec int) (*RedisBudgetLimiter, error) {
	return newRedisBudgetLimiter(client, int64(limitPerSec), time.Now)
}

func newRedisBudgetLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
) (*RedisBudgetLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisBudgetLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		script:      reserveScript,
	}, nil
}

func (r *RedisBudgetLimiter) ReserveN(ctx context.Context, scope string, n int) (int, error) {
	if r == nil || r.client == nil || r.script == nil {
		return 0, fmt.Errorf("budget limiter is not initialized")
	}

	normalizedScope := strings.ToLower(strings.TrimSpace(scope))
	if normalizedScope == "" {
		return 0, fmt.Errorf("scope is required")
	}
	if n <= 0 {
		return 0, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("budget:%s:%d", normalizedScope, r.now().UTC().Unix())
	granted, err := r.script.Run(ctx, r.client, []string{key}, r.limitPerSec, n, keyTTLSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve budget: %w", err)
	}

	return granted, nil
}
