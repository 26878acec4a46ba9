package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// checkScript performs the fixed-window read-increment-write atomically
// on the Redis side. The window anchors at the first request; a new
// window opens once the old one has fully elapsed. Keys expire at twice
// the window width so idle state cleans itself up.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local now_ms = tonumber(ARGV[2])

local data = redis.call('HMGET', key, 'count', 'start')
local count = tonumber(data[1])
local start = tonumber(data[2])

if count == nil or now_ms - start >= window_ms then
	count = 1
	start = now_ms
else
	count = count + 1
end

redis.call('HMSET', key, 'count', count, 'start', start)
redis.call('PEXPIRE', key, window_ms * 2)

return {count, start}
`)

// RateLimitStore implements ports.RateLimitStore on Redis so that
// several instances enforce one shared window per key.
type RateLimitStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRateLimitStore creates a Redis-backed rate limit store.
func NewRateLimitStore(rdb *redis.Client) *RateLimitStore {
	return &RateLimitStore{rdb: rdb, prefix: "ratelimit:"}
}

// Check atomically counts the request against its window and reports
// the admission decision.
func (s *RateLimitStore) Check(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	vals, err := checkScript.Run(ctx, s.rdb, []string{s.prefix + key},
		cfg.Window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return ratelimit.Result{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}

	count := int(vals[0])
	windowStart := time.UnixMilli(vals[1])
	resetAt := windowStart.Add(cfg.Window)

	result := ratelimit.Result{
		Allowed:   count <= cfg.Limit,
		Remaining: maxInt(0, cfg.Limit-count),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		retry := cfg.Window - now.Sub(windowStart)
		if retry < 0 {
			retry = 0
		}
		result.RetryAfter = retry
		result.Reason = ratelimit.ReasonLimitExceeded
	}
	return result, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)
