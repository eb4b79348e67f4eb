// Package strategies implements account selection for a backend pool.
package strategies

import (
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

// FallbackLevel records how many filters selection had to relax.
type FallbackLevel string

const (
	// FallbackNone: account passed every filter.
	FallbackNone FallbackLevel = "none"
	// FallbackIgnoreHealth: health floor bypassed.
	FallbackIgnoreHealth FallbackLevel = "ignoreHealth"
	// FallbackIgnoreTokens: pacing bucket bypassed; the health floor
	// still applies.
	FallbackIgnoreTokens FallbackLevel = "ignoreTokens"
	// FallbackLastResort: quota exclusion bypassed too; anything not invalid
	// and not cooling is fair game.
	FallbackLastResort FallbackLevel = "lastResort"
)

// SelectionResult is the outcome of one selection pass. A nil Account with
// WaitMs > 0 means the pool could serve after waiting that long; a nil
// Account with WaitMs == 0 means the pool is empty or fully invalid.
type SelectionResult struct {
	Account *store.Account
	WaitMs  int64
	Level   FallbackLevel
}

// Strategy picks one account from a pool snapshot.
type Strategy interface {
	Name() string
	// Select picks an account for modelID. It may mutate tracker state
	// (consume a pacing token, stamp LastUsed).
	Select(accounts []*store.Account, modelID string) *SelectionResult
	// OnSuccess, OnRateLimit and OnFailure feed request outcomes back into
	// the trackers.
	OnSuccess(a *store.Account)
	OnRateLimit(a *store.Account)
	OnFailure(a *store.Account)
}

// CursorSeeker is implemented by strategies with a positional cursor, so the
// pool can restore the persisted rotation anchor on startup.
type CursorSeeker interface {
	SeedCursor(idx int)
}

// New builds the strategy named in config; unknown names fall back to hybrid.
func New(name string, cfg *config.Config) Strategy {
	switch name {
	case "round-robin":
		return NewRoundRobinStrategy()
	default:
		return NewHybridStrategy(cfg)
	}
}

// eligible reports whether an account may be used at all: enabled, not
// invalidated and not inside a rate-limit cooldown.
func eligible(a *store.Account, now time.Time) bool {
	return a.Enabled && !a.Invalid && !a.IsCoolingDown(now)
}

// minCooldownWaitMs returns the shortest remaining cooldown across accounts
// that are merely cooling (enabled and not invalid), or 0 when none are
// cooling.
func minCooldownWaitMs(accounts []*store.Account, now time.Time) int64 {
	var min int64
	for _, a := range accounts {
		if !a.Enabled || a.Invalid || !a.IsCoolingDown(now) {
			continue
		}
		remaining := a.CooldownRemainingMs(now)
		if min == 0 || remaining < min {
			min = remaining
		}
	}
	return min
}
