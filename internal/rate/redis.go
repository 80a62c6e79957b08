package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript trims the window, checks the cap and records the attempt
// atomically. Returns 1 when admitted.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisWindow is a sliding-window limiter shared by every instance that
// points at the same Redis.
type RedisWindow struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

// NewRedisWindow returns a Redis-backed limiter. A nil clock uses time.Now.
func NewRedisWindow(client redis.UniversalClient, cfg Config, now func() time.Time) *RedisWindow {
	if now == nil {
		now = time.Now
	}
	return &RedisWindow{redis: client, cfg: cfg.withDefaults(), now: now}
}

// Allow records an attempt for key if the window has room.
func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	nowMs := r.now().UnixMilli()
	res, err := allowScript.Run(ctx, r.redis, []string{redisKey(key)},
		nowMs, r.cfg.Window.Milliseconds(), r.cfg.Limit, fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

func redisKey(key string) string {
	return "rl:" + key
}
