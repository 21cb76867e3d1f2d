package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurst(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow(), "burst exhausted")

	stats := limiter.GetStats()
	assert.Equal(t, int64(2), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(20, 1)
	require.True(t, limiter.Allow())

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond,
		"one token at 20/s refills in 50ms")
}

func TestWaitHonorsCancellation(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(0.1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetRateTakesEffect(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1, 1)
	limiter.SetRate(50)

	stats := limiter.GetStats()
	assert.Equal(t, float64(50), stats.Rate)
	assert.Equal(t, 1, stats.Burst)
}

func TestNewRateLimiterBuildsTokenBucket(t *testing.T) {
	limiter := NewRateLimiter(10, 5)

	stats := limiter.GetStats()
	assert.Equal(t, float64(10), stats.Rate)
	assert.Equal(t, 5, stats.Burst)
	assert.True(t, limiter.Allow())
}
