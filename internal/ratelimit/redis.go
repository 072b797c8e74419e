package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a fixed-window limiter shared by every instance that uses
// the same Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	period time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, period time.Duration) (*RedisLimiter, error) {
	return newRedisLimiter(client, prefix, limit, period, time.Now)
}

func newRedisLimiter(client *redis.Client, prefix string, limit int, period time.Duration, nowFn func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 || period < time.Second {
		return nil, fmt.Errorf("rate limit must be positive with a window of at least one second")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		period: period,
		prefix: prefix,
		now:    nowFn,
	}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	seconds := int64(r.period / time.Second)
	bucket := r.now().UTC().Unix() / seconds
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", r.prefix, key, bucket)

	result, err := allowScript.Run(ctx, r.client, []string{redisKey}, r.limit, seconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return result == 1, nil
}
