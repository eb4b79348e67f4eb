// Package trackers holds the per-account signal trackers consulted by the
// hybrid selection strategy: health score, pacing tokens and quota level.
package trackers

import (
	"sync"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

// healthRecord is the stored state for one account.
type healthRecord struct {
	score               float64
	lastUpdated         time.Time
	consecutiveFailures int
}

// HealthTracker scores accounts by observed outcome. Successes nudge the
// score up, rate limits and failures pull it down, and idle time recovers
// it passively so a bad account is not punished forever.
type HealthTracker struct {
	mu      sync.RWMutex
	records map[string]*healthRecord
	cfg     config.HealthScoreConfig
}

// NewHealthTracker creates a tracker, filling unset config fields with
// defaults.
func NewHealthTracker(cfg *config.HealthScoreConfig) *HealthTracker {
	c := config.HealthScoreConfig{
		Initial:          70,
		SuccessReward:    1,
		RateLimitPenalty: -10,
		FailurePenalty:   -20,
		RecoveryPerHour:  10,
		MinUsable:        50,
		MaxScore:         100,
	}
	if cfg != nil {
		if cfg.Initial != 0 {
			c.Initial = cfg.Initial
		}
		if cfg.SuccessReward != 0 {
			c.SuccessReward = cfg.SuccessReward
		}
		if cfg.RateLimitPenalty != 0 {
			c.RateLimitPenalty = cfg.RateLimitPenalty
		}
		if cfg.FailurePenalty != 0 {
			c.FailurePenalty = cfg.FailurePenalty
		}
		if cfg.RecoveryPerHour != 0 {
			c.RecoveryPerHour = cfg.RecoveryPerHour
		}
		if cfg.MinUsable != 0 {
			c.MinUsable = cfg.MinUsable
		}
		if cfg.MaxScore != 0 {
			c.MaxScore = cfg.MaxScore
		}
	}
	return &HealthTracker{records: make(map[string]*healthRecord), cfg: c}
}

// Score returns the current health score for an account, with passive
// recovery applied. Unknown accounts get the initial score.
func (t *HealthTracker) Score(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scoreLocked(id)
}

func (t *HealthTracker) scoreLocked(id string) float64 {
	rec, ok := t.records[id]
	if !ok {
		return t.cfg.Initial
	}
	recovered := rec.score + time.Since(rec.lastUpdated).Hours()*t.cfg.RecoveryPerHour
	if recovered > t.cfg.MaxScore {
		return t.cfg.MaxScore
	}
	return recovered
}

func (t *HealthTracker) apply(id string, delta float64, failure bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	score := t.scoreLocked(id) + delta
	if score > t.cfg.MaxScore {
		score = t.cfg.MaxScore
	}
	if score < 0 {
		score = 0
	}

	failures := 0
	if failure {
		if rec := t.records[id]; rec != nil {
			failures = rec.consecutiveFailures
		}
		failures++
	}
	t.records[id] = &healthRecord{score: score, lastUpdated: time.Now(), consecutiveFailures: failures}
}

// RecordSuccess rewards a completed request and clears the failure streak.
func (t *HealthTracker) RecordSuccess(id string) { t.apply(id, t.cfg.SuccessReward, false) }

// RecordRateLimit penalizes a 429.
func (t *HealthTracker) RecordRateLimit(id string) { t.apply(id, t.cfg.RateLimitPenalty, true) }

// RecordFailure penalizes a hard failure.
func (t *HealthTracker) RecordFailure(id string) { t.apply(id, t.cfg.FailurePenalty, true) }

// IsUsable reports whether the score clears the usability floor.
func (t *HealthTracker) IsUsable(id string) bool {
	return t.Score(id) >= t.cfg.MinUsable
}

// ConsecutiveFailures returns the current failure streak for an account.
func (t *HealthTracker) ConsecutiveFailures(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rec, ok := t.records[id]; ok {
		return rec.consecutiveFailures
	}
	return 0
}

// MinUsable returns the usability floor.
func (t *HealthTracker) MinUsable() float64 { return t.cfg.MinUsable }

// Reset restores an account to the initial score.
func (t *HealthTracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = &healthRecord{score: t.cfg.Initial, lastUpdated: time.Now()}
}

// Clear drops all tracked state.
func (t *HealthTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*healthRecord)
}

// Snapshot returns the live scores for every tracked account.
func (t *HealthTracker) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.records))
	for id := range t.records {
		out[id] = t.scoreLocked(id)
	}
	return out
}
