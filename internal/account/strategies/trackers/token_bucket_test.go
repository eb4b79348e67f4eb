package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

func TestTokenBucketDefaults(t *testing.T) {
	tracker := NewTokenBucketTracker(nil)

	assert.Equal(t, 50.0, tracker.Tokens("unknown"))
	assert.Equal(t, 50.0, tracker.MaxTokens())
	assert.True(t, tracker.HasTokens("unknown"))
}

func TestTokenBucketConsumeAndRefund(t *testing.T) {
	tracker := NewTokenBucketTracker(&config.TokenBucketConfig{
		MaxTokens:       3,
		TokensPerMinute: 0.0001, // effectively no refill during the test
		InitialTokens:   3,
	})

	assert.True(t, tracker.Consume("a"))
	assert.True(t, tracker.Consume("a"))
	assert.True(t, tracker.Consume("a"))
	assert.False(t, tracker.HasTokens("a"))
	assert.False(t, tracker.Consume("a"))

	tracker.Refund("a")
	assert.True(t, tracker.HasTokens("a"))
	assert.True(t, tracker.Consume("a"))
}

func TestTokenBucketRefundNeverExceedsMax(t *testing.T) {
	tracker := NewTokenBucketTracker(&config.TokenBucketConfig{
		MaxTokens:       2,
		TokensPerMinute: 0.0001,
		InitialTokens:   2,
	})

	tracker.Refund("a")
	tracker.Refund("a")
	assert.InDelta(t, 2, tracker.Tokens("a"), 0.01)
}

func TestTokenBucketWaitTimes(t *testing.T) {
	tracker := NewTokenBucketTracker(&config.TokenBucketConfig{
		MaxTokens:       1,
		TokensPerMinute: 6, // one token per 10s
		InitialTokens:   1,
	})

	assert.Zero(t, tracker.TimeUntilNextToken("a"))
	assert.True(t, tracker.Consume("a"))

	wait := tracker.TimeUntilNextToken("a")
	assert.Greater(t, wait, int64(0))
	assert.LessOrEqual(t, wait, int64(10_000))
}

func TestTokenBucketMinWaitAcrossAccounts(t *testing.T) {
	tracker := NewTokenBucketTracker(&config.TokenBucketConfig{
		MaxTokens:       1,
		TokensPerMinute: 6,
		InitialTokens:   1,
	})

	assert.True(t, tracker.Consume("a"))
	// "b" still has its initial token, so the pool as a whole has no wait.
	assert.Zero(t, tracker.MinTimeUntilToken([]string{"a", "b"}))

	assert.True(t, tracker.Consume("b"))
	assert.Greater(t, tracker.MinTimeUntilToken([]string{"a", "b"}), int64(0))
}

func TestTokenBucketClear(t *testing.T) {
	tracker := NewTokenBucketTracker(&config.TokenBucketConfig{
		MaxTokens:       1,
		TokensPerMinute: 0.0001,
		InitialTokens:   1,
	})

	assert.True(t, tracker.Consume("a"))
	assert.False(t, tracker.HasTokens("a"))

	tracker.Clear()
	assert.True(t, tracker.HasTokens("a"))
	assert.Empty(t, tracker.Snapshot())
}
