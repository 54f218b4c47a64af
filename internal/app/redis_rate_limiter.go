package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "filpass:rate_limit"

// reviewWindowScript opens the window on first use and counts the call.
// Returns {count, remaining window in ms}.
var reviewWindowScript = redis.NewScript(`
redis.call("SET", KEYS[1], 0, "PX", ARGV[1], "NX")
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateDecision is the limiter's verdict for one review call.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RedisReviewRateLimiter caps review actions per approver role in fixed
// windows shared by every instance.
type RedisReviewRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisReviewRateLimiter returns a limiter allowing limit calls per window.
// A nil client or non-positive limit allows everything.
func NewRedisReviewRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisReviewRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisReviewRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow counts one review action by userRoleID.
func (r *RedisReviewRateLimiter) Allow(ctx context.Context, userRoleID int64) (RateDecision, error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}

	raw, err := reviewWindowScript.Run(ctx, r.client, []string{r.key(userRoleID)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("review rate limit: %w", err)
	}
	if len(raw) != 2 {
		return RateDecision{}, fmt.Errorf("review rate limit: unexpected reply of %d values", len(raw))
	}
	return r.decide(int(raw[0]), time.Duration(raw[1])*time.Millisecond), nil
}

func (r *RedisReviewRateLimiter) decide(count int, ttl time.Duration) RateDecision {
	if ttl <= 0 {
		ttl = r.window
	}
	if count > r.limit {
		return RateDecision{Allowed: false, RetryAfter: ttl}
	}
	return RateDecision{Allowed: true, Remaining: r.limit - count}
}

func (r *RedisReviewRateLimiter) key(userRoleID int64) string {
	return r.prefix + ":review:" + strconv.FormatInt(userRoleID, 10)
}
