package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReviewRateLimiterWithoutClientAllows(t *testing.T) {
	limiter := NewRedisReviewRateLimiter(nil, "", 10, time.Minute)
	assert.Equal(t, "filpass:rate_limit:review:11", limiter.key(11))

	decision, err := limiter.Allow(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRedisReviewRateLimiterNormalisesSettings(t *testing.T) {
	limiter := NewRedisReviewRateLimiter(nil, " custom:limits: ", 5, 10*time.Millisecond)
	assert.Equal(t, "custom:limits", limiter.prefix)
	assert.Equal(t, time.Second, limiter.window)
}

func TestRedisReviewRateLimiterDecide(t *testing.T) {
	limiter := NewRedisReviewRateLimiter(nil, "", 3, time.Minute)

	tests := []struct {
		name  string
		count int
		ttl   time.Duration
		want  RateDecision
	}{
		{name: "first call", count: 1, ttl: time.Minute, want: RateDecision{Allowed: true, Remaining: 2}},
		{name: "at limit", count: 3, ttl: 10 * time.Second, want: RateDecision{Allowed: true, Remaining: 0}},
		{name: "over limit", count: 4, ttl: 12 * time.Second, want: RateDecision{Allowed: false, RetryAfter: 12 * time.Second}},
		{name: "missing ttl", count: 9, ttl: -1, want: RateDecision{Allowed: false, RetryAfter: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, limiter.decide(tt.count, tt.ttl))
		})
	}
}
