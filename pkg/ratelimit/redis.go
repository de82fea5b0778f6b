package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills continuously at rate tokens per second up to capacity and
// consumes one token per call. Returns 1 when allowed.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts) / 1000.0
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000) + 1000)
return allowed
`)

// RedisLimiter shares token buckets across replicas through Redis.
type RedisLimiter struct {
	client   redis.UniversalClient
	capacity int
	perSec   float64
	prefix   string
}

func NewRedisLimiter(client redis.UniversalClient, rpm, burst int) *RedisLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{
		client:   client,
		capacity: burst,
		perSec:   float64(rpm) / 60.0,
		prefix:   "auraaudit:ratelimit:",
	}
}

// Allow fails open: on a Redis error the request proceeds and the error is returned
// for logging.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.perSec <= 0 {
		return true, nil
	}
	res, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + key},
		l.capacity, l.perSec, time.Now().UnixMilli()).Int()
	if err != nil {
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return res == 1, nil
}
