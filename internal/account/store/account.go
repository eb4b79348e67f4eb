// Package store defines the persisted account record and the JSON file
// store that holds each backend's pool on disk.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

// Credentials holds whatever secret material a backend needs. OAuth backends
// fill the token triple; static-token backends fill APIKey.
type Credentials struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is a unix-millisecond timestamp; zero means never expires.
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	// ProjectID is the Cloud Code project bound to this account.
	ProjectID string `json:"projectId,omitempty"`
	// AccountID carries a backend-side identity (e.g. ChatGPT account id)
	// required on some requests.
	AccountID string `json:"accountId,omitempty"`
}

// ModelQuota is the remaining quota for one model on one account.
type ModelQuota struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"`
}

// QuotaInfo is the last observed quota state for an account.
type QuotaInfo struct {
	Models map[string]*ModelQuota `json:"models,omitempty"`
	// LastChecked is a unix-millisecond timestamp of the last observation.
	LastChecked int64 `json:"lastChecked,omitempty"`
}

// Account is one upstream identity in a backend's pool.
type Account struct {
	ID      string         `json:"id"`
	Email   string         `json:"email,omitempty"`
	Label   string         `json:"label,omitempty"`
	Backend config.Backend `json:"backend"`

	Credentials Credentials `json:"credentials"`

	// Enabled is the operator switch. Disabled accounts keep their
	// credentials but never enter rotation, not even as a last resort.
	Enabled bool `json:"enabled"`

	// Invalid latches on 401/403 until credentials are replaced.
	Invalid       bool   `json:"invalid,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`

	// CooldownUntil is a unix-millisecond timestamp; the account is skipped
	// until it passes.
	CooldownUntil int64  `json:"cooldownUntil,omitempty"`
	LastUsed      int64  `json:"lastUsed,omitempty"`
	AddedAt       int64  `json:"addedAt,omitempty"`
	Quota         *QuotaInfo `json:"quota,omitempty"`
}

// NewAccount creates an account record with a fresh id.
func NewAccount(backend config.Backend, email string) *Account {
	return &Account{
		ID:      uuid.NewString(),
		Email:   email,
		Backend: backend,
		Enabled: true,
		AddedAt: time.Now().UnixMilli(),
	}
}

// DisplayName returns the label, email or id, in that preference order.
func (a *Account) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

// IsCoolingDown reports whether the rate-limit cooldown is still active.
func (a *Account) IsCoolingDown(now time.Time) bool {
	return a.CooldownUntil > now.UnixMilli()
}

// CooldownRemainingMs returns the remaining cooldown in milliseconds.
func (a *Account) CooldownRemainingMs(now time.Time) int64 {
	remaining := a.CooldownUntil - now.UnixMilli()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TokenExpiresSoon reports whether the access token expires within the
// refresh window.
func (a *Account) TokenExpiresSoon(now time.Time) bool {
	if a.Credentials.ExpiresAt == 0 {
		return false
	}
	return a.Credentials.ExpiresAt-now.UnixMilli() < config.TokenRefreshWindowMs
}

// MinutesSinceLastUse returns minutes since the account last served a
// request, capped at cap. Never-used accounts get the cap.
func (a *Account) MinutesSinceLastUse(now time.Time, cap float64) float64 {
	if a.LastUsed == 0 {
		return cap
	}
	minutes := float64(now.UnixMilli()-a.LastUsed) / 60000
	if minutes > cap {
		return cap
	}
	if minutes < 0 {
		return 0
	}
	return minutes
}

// QuotaFraction returns the remaining quota fraction for a model, or -1
// when unknown.
func (a *Account) QuotaFraction(modelID string) float64 {
	if a.Quota == nil || a.Quota.Models == nil {
		return -1
	}
	mq, ok := a.Quota.Models[modelID]
	if !ok || mq == nil {
		return -1
	}
	return mq.RemainingFraction
}
