package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

func TestHealthTrackerDefaults(t *testing.T) {
	tracker := NewHealthTracker(nil)

	assert.Equal(t, 70.0, tracker.Score("unknown"))
	assert.True(t, tracker.IsUsable("unknown"))
	assert.Equal(t, 50.0, tracker.MinUsable())
	assert.Equal(t, 0, tracker.ConsecutiveFailures("unknown"))
}

func TestHealthTrackerOutcomes(t *testing.T) {
	tracker := NewHealthTracker(nil)

	tracker.RecordSuccess("a")
	assert.InDelta(t, 71, tracker.Score("a"), 0.01)

	tracker.RecordRateLimit("a")
	assert.InDelta(t, 61, tracker.Score("a"), 0.01)

	tracker.RecordFailure("a")
	assert.InDelta(t, 41, tracker.Score("a"), 0.01)
	assert.False(t, tracker.IsUsable("a"))
}

func TestHealthTrackerFailureStreak(t *testing.T) {
	tracker := NewHealthTracker(nil)

	tracker.RecordFailure("a")
	tracker.RecordRateLimit("a")
	assert.Equal(t, 2, tracker.ConsecutiveFailures("a"))

	tracker.RecordSuccess("a")
	assert.Equal(t, 0, tracker.ConsecutiveFailures("a"))
}

func TestHealthTrackerClampsToBounds(t *testing.T) {
	tracker := NewHealthTracker(nil)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure("a")
	}
	assert.Equal(t, 0.0, tracker.Score("a"))

	for i := 0; i < 200; i++ {
		tracker.RecordSuccess("b")
	}
	assert.Equal(t, 100.0, tracker.Score("b"))
}

func TestHealthTrackerResetAndClear(t *testing.T) {
	tracker := NewHealthTracker(nil)

	tracker.RecordFailure("a")
	tracker.Reset("a")
	assert.InDelta(t, 70, tracker.Score("a"), 0.01)

	tracker.RecordFailure("b")
	tracker.Clear()
	assert.Equal(t, 70.0, tracker.Score("b"))
	assert.Empty(t, tracker.Snapshot())
}

func TestHealthTrackerCustomConfig(t *testing.T) {
	tracker := NewHealthTracker(&config.HealthScoreConfig{
		Initial:        90,
		FailurePenalty: -5,
		MinUsable:      88,
	})
	require.NotNil(t, tracker)

	assert.Equal(t, 90.0, tracker.Score("a"))
	tracker.RecordFailure("a")
	assert.InDelta(t, 85, tracker.Score("a"), 0.01)
	assert.False(t, tracker.IsUsable("a"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 85, snap["a"], 0.01)
}
