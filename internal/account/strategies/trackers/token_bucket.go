package trackers

import (
	"math"
	"sync"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

type bucket struct {
	tokens      float64
	lastUpdated time.Time
}

// TokenBucketTracker paces requests per account on the client side. Each
// account owns a bucket that refills continuously; selection consumes one
// token per attempt and refunds it when the attempt never reached the
// upstream.
type TokenBucketTracker struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     config.TokenBucketConfig
}

// NewTokenBucketTracker creates a tracker, filling unset config fields with
// defaults.
func NewTokenBucketTracker(cfg *config.TokenBucketConfig) *TokenBucketTracker {
	c := config.TokenBucketConfig{MaxTokens: 50, TokensPerMinute: 6, InitialTokens: 50}
	if cfg != nil {
		if cfg.MaxTokens != 0 {
			c.MaxTokens = cfg.MaxTokens
		}
		if cfg.TokensPerMinute != 0 {
			c.TokensPerMinute = cfg.TokensPerMinute
		}
		if cfg.InitialTokens != 0 {
			c.InitialTokens = cfg.InitialTokens
		}
	}
	return &TokenBucketTracker{buckets: make(map[string]*bucket), cfg: c}
}

func (t *TokenBucketTracker) tokensLocked(id string) float64 {
	b, ok := t.buckets[id]
	if !ok {
		return t.cfg.InitialTokens
	}
	refilled := b.tokens + time.Since(b.lastUpdated).Minutes()*t.cfg.TokensPerMinute
	if refilled > t.cfg.MaxTokens {
		return t.cfg.MaxTokens
	}
	return refilled
}

// Tokens returns the current token balance for an account.
func (t *TokenBucketTracker) Tokens(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokensLocked(id)
}

// HasTokens reports whether a full token is available.
func (t *TokenBucketTracker) HasTokens(id string) bool {
	return t.Tokens(id) >= 1
}

// Consume takes one token; returns false when the bucket is empty.
func (t *TokenBucketTracker) Consume(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := t.tokensLocked(id)
	if tokens < 1 {
		return false
	}
	t.buckets[id] = &bucket{tokens: tokens - 1, lastUpdated: time.Now()}
	return true
}

// Refund returns one token, for attempts aborted before they cost anything
// upstream.
func (t *TokenBucketTracker) Refund(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := t.tokensLocked(id) + 1
	if tokens > t.cfg.MaxTokens {
		tokens = t.cfg.MaxTokens
	}
	t.buckets[id] = &bucket{tokens: tokens, lastUpdated: time.Now()}
}

// MaxTokens returns the bucket capacity.
func (t *TokenBucketTracker) MaxTokens() float64 { return t.cfg.MaxTokens }

// TimeUntilNextToken returns how long, in milliseconds, until the account
// has a full token again. Zero means a token is already available.
func (t *TokenBucketTracker) TimeUntilNextToken(id string) int64 {
	tokens := t.Tokens(id)
	if tokens >= 1 {
		return 0
	}
	minutes := (1 - tokens) / t.cfg.TokensPerMinute
	return int64(math.Ceil(minutes * 60 * 1000))
}

// MinTimeUntilToken returns the shortest wait across the given accounts.
func (t *TokenBucketTracker) MinTimeUntilToken(ids []string) int64 {
	min := int64(math.MaxInt64)
	for _, id := range ids {
		wait := t.TimeUntilNextToken(id)
		if wait == 0 {
			return 0
		}
		if wait < min {
			min = wait
		}
	}
	if min == int64(math.MaxInt64) {
		return 0
	}
	return min
}

// Clear drops all tracked state.
func (t *TokenBucketTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[string]*bucket)
}

// Snapshot returns the live balances for every tracked account.
func (t *TokenBucketTracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.buckets))
	for id := range t.buckets {
		out[id] = t.tokensLocked(id)
	}
	return out
}
