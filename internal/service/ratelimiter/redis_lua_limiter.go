// Package ratelimiter throttles calls to the external detection service.
//
// A Redis-backed token bucket is shared by every worker process, so the
// fleet-wide request rate stays under the detector's quota regardless of how
// many workers run.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits or defers a unit of work against a named bucket.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// NewBucketConfigFromPerMinute converts a per-minute budget into a bucket.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLuaLimiter implements Limiter with a Lua token bucket so refill and
// consume happen atomically in Redis. A nil limiter allows everything.
type RedisLuaLimiter struct {
	redis   *redis.Client
	buckets map[string]BucketConfig
	script  *redis.Script
	mu      sync.RWMutex
}

// NewRedisLuaLimiter constructs a limiter over the given client and buckets.
// Returns nil when rdb is nil so callers can wire it unconditionally.
func NewRedisLuaLimiter(rdb *redis.Client, buckets map[string]BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLuaLimiter{
		redis:   rdb,
		buckets: buckets,
		script:  redis.NewScript(luaTokenBucketScript),
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

return { allowed, tokens, last_refill, retry_after }
`

// Allow consumes cost tokens from the bucket behind key. Unknown buckets and
// Redis errors fail open; the detector's own 429 handling is the backstop.
func (l *RedisLuaLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{"rate:" + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}

	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toFloat64(vals[3]) * float64(time.Second))
	return allowed, retryAfter, nil
}

// SetBucketConfig updates or creates the bucket for the given logical key.
// Safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]BucketConfig{}
	}
	l.buckets[key] = cfg
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}
