package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/config"
)

// tokenBucket keeps {t: tokens, ts: last update ms} per key and refills
// continuously at rate tokens per interval, using the redis clock so every
// server instance agrees on time.  Returns {allowed, remaining,
// retry_after_ms}.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local clock = redis.call('TIME')
local now = tonumber(clock[1]) * 1000 + math.floor(tonumber(clock[2]) / 1000)

local t = tonumber(redis.call('HGET', KEYS[1], 't'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
if t == nil or ts == nil then
	t = capacity
	ts = now
end

local per_ms = rate / interval_ms
t = math.min(capacity, t + math.max(0, now - ts) * per_ms)

local allowed = 0
local wait = 0
if t >= 1 then
	allowed = 1
	t = t - 1
else
	wait = math.ceil((1 - t) / per_ms)
end

redis.call('HSET', KEYS[1], 't', tostring(t), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return { allowed, math.floor(t), wait }
`)

// NewTokenBucket limits mutating scenario routes per caller.  It is a
// pass-through when disabled or when no redis client is available, and
// fails open if redis errors mid-request.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			args := []interface{}{
				cfg.Capacity,
				cfg.RefillTokens,
				max(cfg.RefillInterval.Milliseconds(), 1),
				max(cfg.TTL.Milliseconds(), 1),
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
			if err != nil {
				log.Warn("limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			arr, ok := vals.([]interface{})
			if !ok || len(arr) != 3 {
				log.Warn("unexpected limiter result", zap.String("key", key), zap.Any("result", vals))
				return next(c)
			}
			allowed := asInt64(arr[0]) == 1
			remaining := asInt64(arr[1])
			retryMs := asInt64(arr[2])

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				h.Set("Retry-After", strconv.Itoa(secs))
				log.Debug("request throttled", zap.String("key", key), zap.Int64("retry_ms", retryMs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	default:
		if n, err := strconv.ParseInt(fmt.Sprint(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// rateKey builds the bucket key.  The route is the registered path, so
// /v1/scenarios/1/steal and /v1/scenarios/2/steal share a bucket.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	route := c.Request().Method + " " + c.Path()
	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip_route":
		parts = append(parts, "ip", clientIP(c), "route", route)
	case "ip_user_route":
		parts = append(parts, "ip", clientIP(c), "user", callerID(c), "route", route)
	default: // "user_route"
		parts = append(parts, "user", callerID(c), "route", route)
	}
	return strings.Join(parts, ":")
}
