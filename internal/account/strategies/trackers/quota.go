package trackers

import (
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

// QuotaTracker interprets the quota observations stored on each account.
// It is stateless itself; the observations live on the account record.
type QuotaTracker struct {
	cfg config.QuotaConfig
}

// NewQuotaTracker creates a tracker, filling unset config fields with
// defaults.
func NewQuotaTracker(cfg *config.QuotaConfig) *QuotaTracker {
	c := config.QuotaConfig{
		LowThreshold:      0.10,
		CriticalThreshold: 0.05,
		StaleMs:           5 * 60 * 1000,
		UnknownScore:      50,
	}
	if cfg != nil {
		if cfg.LowThreshold != 0 {
			c.LowThreshold = cfg.LowThreshold
		}
		if cfg.CriticalThreshold != 0 {
			c.CriticalThreshold = cfg.CriticalThreshold
		}
		if cfg.StaleMs != 0 {
			c.StaleMs = cfg.StaleMs
		}
		if cfg.UnknownScore != 0 {
			c.UnknownScore = cfg.UnknownScore
		}
	}
	return &QuotaTracker{cfg: c}
}

// IsFresh reports whether the account's quota observation is recent enough
// to act on.
func (t *QuotaTracker) IsFresh(a *store.Account) bool {
	if a == nil || a.Quota == nil || a.Quota.LastChecked == 0 {
		return false
	}
	age := time.Since(time.UnixMilli(a.Quota.LastChecked))
	return age < time.Duration(t.cfg.StaleMs)*time.Millisecond
}

// IsCritical reports whether the account should be excluded for this model.
// Unknown or stale quota never excludes.
func (t *QuotaTracker) IsCritical(a *store.Account, modelID string) bool {
	fraction := a.QuotaFraction(modelID)
	if fraction < 0 || !t.IsFresh(a) {
		return false
	}
	return fraction <= t.cfg.CriticalThreshold
}

// IsLow reports whether quota is low but still above critical.
func (t *QuotaTracker) IsLow(a *store.Account, modelID string) bool {
	fraction := a.QuotaFraction(modelID)
	if fraction < 0 {
		return false
	}
	return fraction <= t.cfg.LowThreshold && fraction > t.cfg.CriticalThreshold
}

// Score maps the quota observation to 0-100. Missing or stale observations
// both count as unknown and get the neutral score.
func (t *QuotaTracker) Score(a *store.Account, modelID string) float64 {
	fraction := a.QuotaFraction(modelID)
	if fraction < 0 || !t.IsFresh(a) {
		return t.cfg.UnknownScore
	}
	return fraction * 100
}

// CriticalThreshold returns the exclusion threshold.
func (t *QuotaTracker) CriticalThreshold() float64 { return t.cfg.CriticalThreshold }
