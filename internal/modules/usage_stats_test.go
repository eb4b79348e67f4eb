package modules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

func TestUsageStatsCounters(t *testing.T) {
	s := NewUsageStats(nil)
	defer s.Close()

	s.RecordRequest(config.BackendCodex, "gpt-5.1-codex", 100, 20)
	s.RecordRequest(config.BackendCodex, "gpt-5.1-codex", 50, 10)
	s.RecordRequest(config.BackendCloudCode, "gemini-3-pro", 10, 5)
	s.RecordFailure(config.BackendCodex, "gpt-5.1-codex")

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	codex := snap["codex:gpt-5.1-codex"]
	assert.Equal(t, int64(2), codex.Requests)
	assert.Equal(t, int64(150), codex.InputTokens)
	assert.Equal(t, int64(30), codex.OutputTokens)
	assert.Equal(t, int64(1), codex.Failures)

	gemini := snap["cloudcode:gemini-3-pro"]
	assert.Equal(t, int64(1), gemini.Requests)
}

func TestUsageStatsFailureOnFreshModel(t *testing.T) {
	s := NewUsageStats(nil)
	defer s.Close()

	s.RecordFailure(config.BackendCursor, "composer-1")
	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap["cursor:composer-1"].Failures)
	assert.Zero(t, snap["cursor:composer-1"].Requests)
}

func TestUsageStatsSnapshotIsCopy(t *testing.T) {
	s := NewUsageStats(nil)
	defer s.Close()

	s.RecordRequest(config.BackendCodex, "gpt-5.1-codex", 1, 1)
	snap := s.Snapshot()

	s.RecordRequest(config.BackendCodex, "gpt-5.1-codex", 1, 1)
	assert.Equal(t, int64(1), snap["codex:gpt-5.1-codex"].Requests)
}

func TestUsageStatsConcurrentRecording(t *testing.T) {
	s := NewUsageStats(nil)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordRequest(config.BackendCopilot, "gpt-4.1", 1, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1600), s.Snapshot()["copilot:gpt-4.1"].Requests)
}
