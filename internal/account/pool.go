// Package account manages the per-backend account pools: selection,
// outcome bookkeeping, credential refresh and persistence.
package account

import (
	"context"
	"fmt"
	"time"

	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/account/strategies"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// RefreshFunc exchanges an account's refresh credentials for new ones.
// Backends that never refresh leave it nil.
type RefreshFunc func(ctx context.Context, a *store.Account) (*store.Credentials, error)

// Pool owns one backend's accounts. All state transitions go through the
// pool mutex so a selection and the mark that follows it cannot interleave
// with another request's view of the same account.
type Pool struct {
	backend config.Backend

	mu       sync.Mutex
	accounts []*store.Account
	// activeIndex is the rotation anchor: the slot after the last selected
	// account. Persisted so rotation survives restarts.
	activeIndex int

	strategy strategies.Strategy
	store    *store.FileStore
	refresh  RefreshFunc
	sf       singleflight.Group

	defaultCooldownMs int64
}

// NewPool creates a pool, loading any persisted accounts for the backend.
func NewPool(backend config.Backend, cfg *config.Config) *Pool {
	strategyName := ""
	cooldown := int64(config.DefaultCooldownMs)
	if cfg != nil {
		strategyName = cfg.Strategy
		if cfg.DefaultCooldownMs > 0 {
			cooldown = cfg.DefaultCooldownMs
		}
	}

	p := &Pool{
		backend:           backend,
		strategy:          strategies.New(strategyName, cfg),
		store:             store.NewFileStore(backend),
		defaultCooldownMs: cooldown,
	}
	p.accounts, p.activeIndex = p.store.Load()
	if p.activeIndex < 0 || p.activeIndex >= len(p.accounts) {
		p.activeIndex = 0
	}
	if seeker, ok := p.strategy.(strategies.CursorSeeker); ok {
		seeker.SeedCursor(p.activeIndex)
	}
	if len(p.accounts) > 0 {
		utils.Info("[%s] loaded %d account(s)", backend, len(p.accounts))
	}
	return p
}

// SetRefreshFunc installs the backend's credential refresher.
func (p *Pool) SetRefreshFunc(fn RefreshFunc) { p.refresh = fn }

// Backend returns the backend this pool serves.
func (p *Pool) Backend() config.Backend { return p.backend }

// Size returns the number of accounts, regardless of state.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Select picks an account for a model. Returns a classified error when the
// pool is empty, fully invalid, or would require waiting longer than the
// fast-fail ceiling.
func (p *Pool) Select(modelID string) (*store.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.accounts) == 0 {
		return nil, proxyerr.Newf(proxyerr.KindConfigMissing,
			"no %s accounts configured; add one with the auth endpoints", p.backend)
	}

	result := p.strategy.Select(p.accounts, modelID)
	if result.Account != nil {
		for i, a := range p.accounts {
			if a == result.Account {
				p.activeIndex = (i + 1) % len(p.accounts)
				break
			}
		}
		p.store.Save(p.accounts, p.activeIndex)
		return result.Account, nil
	}

	if result.WaitMs > 0 {
		e := proxyerr.Newf(proxyerr.KindUnavailable,
			"all %s accounts are rate limited; next available in %s",
			p.backend, utils.FormatDuration(result.WaitMs))
		e.RetryAfterMs = result.WaitMs
		return nil, e
	}
	return nil, proxyerr.Newf(proxyerr.KindUnavailable,
		"no usable %s accounts (all invalidated)", p.backend)
}

// MarkRateLimited puts an account into cooldown. resetMs <= 0 applies the
// default cooldown.
func (p *Pool) MarkRateLimited(a *store.Account, resetMs int64) {
	if a == nil {
		return
	}
	if resetMs <= 0 {
		resetMs = p.defaultCooldownMs
	}

	p.mu.Lock()
	a.CooldownUntil = time.Now().UnixMilli() + resetMs
	p.store.Save(p.accounts, p.activeIndex)
	p.mu.Unlock()

	p.strategy.OnRateLimit(a)
	utils.Warn("[%s] account %s rate limited, cooling down for %s",
		p.backend, a.DisplayName(), utils.FormatDuration(resetMs))
}

// MarkInvalid latches an account out of rotation until its credentials are
// replaced.
func (p *Pool) MarkInvalid(a *store.Account, reason string) {
	if a == nil {
		return
	}

	p.mu.Lock()
	a.Invalid = true
	a.InvalidReason = reason
	p.store.Save(p.accounts, p.activeIndex)
	p.mu.Unlock()

	p.strategy.OnFailure(a)
	utils.Error("[%s] account %s invalidated: %s", p.backend, a.DisplayName(), reason)
}

// RecordSuccess feeds a completed request into the trackers.
func (p *Pool) RecordSuccess(a *store.Account) {
	p.strategy.OnSuccess(a)
}

// RecordFailure feeds a hard failure into the trackers.
func (p *Pool) RecordFailure(a *store.Account) {
	p.strategy.OnFailure(a)
}

// UpdateQuota stores a fresh quota observation on an account.
func (p *Pool) UpdateQuota(a *store.Account, modelID string, remainingFraction float64) {
	if a == nil {
		return
	}
	p.mu.Lock()
	if a.Quota == nil {
		a.Quota = &store.QuotaInfo{}
	}
	if a.Quota.Models == nil {
		a.Quota.Models = make(map[string]*store.ModelQuota)
	}
	a.Quota.Models[modelID] = &store.ModelQuota{RemainingFraction: remainingFraction}
	a.Quota.LastChecked = time.Now().UnixMilli()
	p.store.Save(p.accounts, p.activeIndex)
	p.mu.Unlock()
}

// SetProjectID stores a discovered companion project on the account and
// persists it. Goes through the pool lock like every other credential write
// so snapshots and save copies never observe a torn record.
func (p *Pool) SetProjectID(a *store.Account, projectID string) {
	if a == nil || projectID == "" {
		return
	}
	p.mu.Lock()
	a.Credentials.ProjectID = projectID
	p.store.Save(p.accounts, p.activeIndex)
	p.mu.Unlock()
}

// Token returns a valid bearer token for the account, refreshing through
// the backend's RefreshFunc when the current one is missing or expiring.
// Concurrent callers for the same account share one refresh.
func (p *Pool) Token(ctx context.Context, a *store.Account) (string, error) {
	if a == nil {
		return "", proxyerr.New(proxyerr.KindConfigMissing, "no account selected")
	}
	if a.Credentials.APIKey != "" {
		return a.Credentials.APIKey, nil
	}
	if a.Credentials.AccessToken != "" && !a.TokenExpiresSoon(time.Now()) {
		return a.Credentials.AccessToken, nil
	}
	if p.refresh == nil {
		if a.Credentials.AccessToken != "" {
			return a.Credentials.AccessToken, nil
		}
		return "", proxyerr.Newf(proxyerr.KindUnauthorized,
			"account %s has no credentials", a.DisplayName())
	}

	v, err, _ := p.sf.Do(a.ID, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed
		// while we queued.
		p.mu.Lock()
		if a.Credentials.AccessToken != "" && !a.TokenExpiresSoon(time.Now()) {
			token := a.Credentials.AccessToken
			p.mu.Unlock()
			return token, nil
		}
		p.mu.Unlock()

		utils.Info("[%s] refreshing token for %s", p.backend, a.DisplayName())
		creds, err := p.refresh(ctx, a)
		if err != nil {
			return "", err
		}

		p.mu.Lock()
		a.Credentials = *creds
		p.store.Save(p.accounts, p.activeIndex)
		p.mu.Unlock()
		return creds.AccessToken, nil
	})
	if err != nil {
		if proxyerr.IsKind(err, proxyerr.KindUnauthorized) {
			p.MarkInvalid(a, fmt.Sprintf("token refresh rejected: %v", err))
		}
		return "", err
	}
	return v.(string), nil
}

// ForceRefresh discards the cached access token and refreshes immediately.
func (p *Pool) ForceRefresh(ctx context.Context, a *store.Account) error {
	if a == nil || p.refresh == nil {
		return proxyerr.New(proxyerr.KindConfigMissing, "account does not support refresh")
	}
	p.mu.Lock()
	a.Credentials.AccessToken = ""
	a.Credentials.ExpiresAt = 0
	p.mu.Unlock()
	_, err := p.Token(ctx, a)
	return err
}

// Add inserts or replaces an account. Replacement is keyed by email (when
// set) so re-authenticating an invalidated account revives it.
func (p *Pool) Add(a *store.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a.Email != "" {
		for i, existing := range p.accounts {
			if existing.Email == a.Email {
				a.ID = existing.ID
				a.AddedAt = existing.AddedAt
				p.accounts[i] = a
				p.store.Save(p.accounts, p.activeIndex)
				utils.Success("[%s] replaced credentials for %s", p.backend, a.DisplayName())
				return nil
			}
		}
	}

	if len(p.accounts) >= config.MaxAccounts {
		return fmt.Errorf("pool for %s is full (%d accounts)", p.backend, config.MaxAccounts)
	}
	p.accounts = append(p.accounts, a)
	p.store.Save(p.accounts, p.activeIndex)
	utils.Success("[%s] added account %s (%d total)", p.backend, a.DisplayName(), len(p.accounts))
	return nil
}

// Remove deletes an account by id or email. Returns false when not found.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, a := range p.accounts {
		if a.ID == key || (a.Email != "" && a.Email == key) {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			p.store.Save(p.accounts, p.activeIndex)
			utils.Info("[%s] removed account %s", p.backend, a.DisplayName())
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the account records for status reporting.
func (p *Pool) Snapshot() []*store.Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*store.Account, len(p.accounts))
	for i, a := range p.accounts {
		clone := *a
		out[i] = &clone
	}
	return out
}

// ClearCooldowns lifts every cooldown and un-latches invalid accounts.
func (p *Pool) ClearCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.accounts {
		a.CooldownUntil = 0
		a.Invalid = false
		a.InvalidReason = ""
	}
	p.store.Save(p.accounts, p.activeIndex)
}

// Strategy exposes the selection strategy for status endpoints.
func (p *Pool) Strategy() strategies.Strategy { return p.strategy }

// Close flushes pending persistence work.
func (p *Pool) Close() {
	p.store.Close()
}
