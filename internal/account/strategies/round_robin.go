package strategies

import (
	"sync"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// RoundRobinStrategy cycles through eligible accounts in order, ignoring
// health and pacing signals. Useful for deterministic testing and small
// pools of equivalent accounts.
type RoundRobinStrategy struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobinStrategy creates the strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Name implements Strategy.
func (s *RoundRobinStrategy) Name() string { return "round-robin" }

// SeedCursor positions the rotation cursor, used to resume from a persisted
// anchor.
func (s *RoundRobinStrategy) SeedCursor(idx int) {
	s.mu.Lock()
	if idx >= 0 {
		s.next = idx
	}
	s.mu.Unlock()
}

// Select implements Strategy.
func (s *RoundRobinStrategy) Select(accounts []*store.Account, modelID string) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{}
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for offset := 0; offset < len(accounts); offset++ {
		idx := (s.next + offset) % len(accounts)
		a := accounts[idx]
		if !eligible(a, now) {
			continue
		}
		s.next = idx + 1
		a.LastUsed = now.UnixMilli()
		utils.Info("[round-robin] using account %s (%d/%d)", a.DisplayName(), idx+1, len(accounts))
		return &SelectionResult{Account: a}
	}

	return &SelectionResult{WaitMs: minCooldownWaitMs(accounts, now)}
}

// OnSuccess implements Strategy.
func (s *RoundRobinStrategy) OnSuccess(a *store.Account) {}

// OnRateLimit implements Strategy.
func (s *RoundRobinStrategy) OnRateLimit(a *store.Account) {}

// OnFailure implements Strategy.
func (s *RoundRobinStrategy) OnFailure(a *store.Account) {}
