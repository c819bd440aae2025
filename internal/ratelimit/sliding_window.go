package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The previous window's count is weighted by how much of it still overlaps
// the sliding window, then added to the current window's count.
var slidingWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local previous = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local elapsed = tonumber(ARGV[3])
local weighted = math.floor(previous * (window - elapsed) / window) + current
if weighted >= limit then
  return {0, weighted}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], window * 2 + 1000)
end
return {1, weighted + 1}
`)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// SlidingWindowLimiter limits requests per key over a sliding window
// approximated from two fixed Redis counters.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
	now         func() time.Time
}

// NewSlidingWindowLimiter creates a Redis-backed distributed limiter.
func NewSlidingWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "stupify:ratelimit"
	}
	return &SlidingWindowLimiter{
		limit:       limit,
		window:      window,
		redisClient: client,
		redisPrefix: prefix,
		now:         time.Now,
	}, nil
}

// Allow checks and consumes one request for key.
// On Redis failures it fails closed: the decision denies and the error is
// returned for logging.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	elapsed := nowMs % windowMs
	retry := time.Duration(windowMs-elapsed) * time.Millisecond
	keys := []string{
		fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, slot),
		fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, slot-1),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := slidingWindowScript.Run(ctx, l.redisClient, keys, l.limit, windowMs, elapsed).Int64Slice()
	if err != nil {
		return Decision{Limit: l.limit, RetryAfter: retry}, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return Decision{Limit: l.limit, RetryAfter: retry}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     l.limit,
		Remaining: max(0, l.limit-int(res[1])),
	}
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d, nil
}
