package strategies

import (
	"fmt"
	"sort"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/account/strategies/trackers"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// Selection weights for the composite score.
const (
	weightHealth = 2.0
	weightTokens = 5.0
	weightQuota  = 3.0
	weightLRU    = 0.1

	// lruCapMinutes caps the freshness component.
	lruCapMinutes = 100
)

// HybridStrategy combines health score, pacing tokens, quota level and
// least-recently-used freshness into one composite score, and relaxes its
// filters level by level rather than failing when every account trips one:
//
//	score = health×2 + (tokens/max×100)×5 + quota×3 + minutesIdle×0.1
type HybridStrategy struct {
	health *trackers.HealthTracker
	bucket *trackers.TokenBucketTracker
	quota  *trackers.QuotaTracker
}

// NewHybridStrategy creates the strategy with tracker tuning from config.
func NewHybridStrategy(cfg *config.Config) *HybridStrategy {
	var hc *config.HealthScoreConfig
	var tc *config.TokenBucketConfig
	var qc *config.QuotaConfig
	if cfg != nil {
		hc, tc, qc = cfg.HealthScore, cfg.TokenBucket, cfg.Quota
	}
	return &HybridStrategy{
		health: trackers.NewHealthTracker(hc),
		bucket: trackers.NewTokenBucketTracker(tc),
		quota:  trackers.NewQuotaTracker(qc),
	}
}

// Name implements Strategy.
func (s *HybridStrategy) Name() string { return "hybrid" }

// Select implements Strategy.
func (s *HybridStrategy) Select(accounts []*store.Account, modelID string) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{}
	}

	now := time.Now()
	candidates, level := s.candidates(accounts, modelID, now)
	if len(candidates) == 0 {
		waitMs := minCooldownWaitMs(accounts, now)
		utils.Warn("[hybrid] no selectable account: %s", s.diagnose(accounts, modelID, now))
		return &SelectionResult{WaitMs: waitMs}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return s.score(candidates[i], modelID, now) > s.score(candidates[j], modelID, now)
	})

	best := candidates[0]
	best.LastUsed = now.UnixMilli()
	if level != FallbackLastResort && level != FallbackIgnoreTokens {
		s.bucket.Consume(best.ID)
	}

	levelInfo := ""
	if level != FallbackNone {
		levelInfo = fmt.Sprintf(", fallback: %s", level)
	}
	utils.Info("[hybrid] using account %s (score %.1f%s)",
		best.DisplayName(), s.score(best, modelID, now), levelInfo)

	return &SelectionResult{Account: best, Level: level}
}

// candidates filters accounts at progressively relaxed levels until one
// level yields something.
func (s *HybridStrategy) candidates(accounts []*store.Account, modelID string, now time.Time) ([]*store.Account, FallbackLevel) {
	levels := []struct {
		level        FallbackLevel
		checkHealth  bool
		checkTokens  bool
		checkQuota   bool
	}{
		{FallbackNone, true, true, true},
		{FallbackIgnoreHealth, false, true, true},
		{FallbackIgnoreTokens, true, false, true},
		{FallbackLastResort, false, false, false},
	}

	for _, l := range levels {
		var out []*store.Account
		for _, a := range accounts {
			if !eligible(a, now) {
				continue
			}
			if l.checkHealth && !s.health.IsUsable(a.ID) {
				continue
			}
			if l.checkTokens && !s.bucket.HasTokens(a.ID) {
				continue
			}
			if l.checkQuota && s.quota.IsCritical(a, modelID) {
				continue
			}
			out = append(out, a)
		}
		if len(out) > 0 {
			if l.level != FallbackNone {
				utils.Warn("[hybrid] relaxed selection to level %s", l.level)
			}
			return out, l.level
		}
	}
	return nil, FallbackNone
}

func (s *HybridStrategy) score(a *store.Account, modelID string, now time.Time) float64 {
	health := s.health.Score(a.ID) * weightHealth
	tokens := s.bucket.Tokens(a.ID) / s.bucket.MaxTokens() * 100 * weightTokens
	quota := s.quota.Score(a, modelID) * weightQuota
	lru := a.MinutesSinceLastUse(now, lruCapMinutes) * weightLRU
	return health + tokens + quota + lru
}

func (s *HybridStrategy) diagnose(accounts []*store.Account, modelID string, now time.Time) string {
	var invalid, cooling int
	for _, a := range accounts {
		switch {
		case a.Invalid:
			invalid++
		case a.IsCoolingDown(now):
			cooling++
		}
	}
	return fmt.Sprintf("%d account(s): %d invalid, %d cooling down", len(accounts), invalid, cooling)
}

// OnSuccess implements Strategy.
func (s *HybridStrategy) OnSuccess(a *store.Account) {
	if a != nil {
		s.health.RecordSuccess(a.ID)
	}
}

// OnRateLimit implements Strategy.
func (s *HybridStrategy) OnRateLimit(a *store.Account) {
	if a != nil {
		s.health.RecordRateLimit(a.ID)
	}
}

// OnFailure implements Strategy.
func (s *HybridStrategy) OnFailure(a *store.Account) {
	if a != nil {
		s.health.RecordFailure(a.ID)
		s.bucket.Refund(a.ID)
	}
}

// HealthTracker exposes the health tracker for status endpoints.
func (s *HybridStrategy) HealthTracker() *trackers.HealthTracker { return s.health }

// BucketTracker exposes the pacing tracker for status endpoints.
func (s *HybridStrategy) BucketTracker() *trackers.TokenBucketTracker { return s.bucket }

// ClearState resets all tracker state.
func (s *HybridStrategy) ClearState() {
	s.health.Clear()
	s.bucket.Clear()
}
