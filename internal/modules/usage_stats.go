// Package modules holds optional server modules that hang off the request
// path without being part of request semantics.
package modules

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// ModelUsage is the per-model counter set.
type ModelUsage struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	Failures     int64 `json:"failures"`
}

// UsageStats counts requests and token usage per backend and model. When a
// Redis address is configured the counters are mirrored there so they
// survive restarts; otherwise they are memory-only.
type UsageStats struct {
	mu     sync.Mutex
	counts map[string]*ModelUsage

	rdb *redis.Client
}

// NewUsageStats creates the module, connecting to Redis when configured.
func NewUsageStats(cfg *config.Config) *UsageStats {
	s := &UsageStats{counts: make(map[string]*ModelUsage)}
	if cfg != nil && cfg.RedisAddr != "" {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			utils.Warn("Usage stats: redis at %s unreachable, keeping counters in memory only: %v",
				cfg.RedisAddr, err)
			s.rdb = nil
		} else {
			utils.Info("Usage stats: persisting counters to redis at %s", cfg.RedisAddr)
		}
	}
	return s
}

func usageKey(backend config.Backend, model string) string {
	return string(backend) + ":" + model
}

// RecordRequest counts one completed request with its token usage.
func (s *UsageStats) RecordRequest(backend config.Backend, model string, inputTokens, outputTokens int) {
	s.mu.Lock()
	u := s.counts[usageKey(backend, model)]
	if u == nil {
		u = &ModelUsage{}
		s.counts[usageKey(backend, model)] = u
	}
	u.Requests++
	u.InputTokens += int64(inputTokens)
	u.OutputTokens += int64(outputTokens)
	s.mu.Unlock()

	if s.rdb != nil {
		go s.mirror(backend, model, map[string]int64{
			"requests":     1,
			"inputTokens":  int64(inputTokens),
			"outputTokens": int64(outputTokens),
		})
	}
}

// RecordFailure counts one failed request.
func (s *UsageStats) RecordFailure(backend config.Backend, model string) {
	s.mu.Lock()
	u := s.counts[usageKey(backend, model)]
	if u == nil {
		u = &ModelUsage{}
		s.counts[usageKey(backend, model)] = u
	}
	u.Failures++
	s.mu.Unlock()

	if s.rdb != nil {
		go s.mirror(backend, model, map[string]int64{"failures": 1})
	}
}

func (s *UsageStats) mirror(backend config.Backend, model string, fields map[string]int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := "usage:" + usageKey(backend, model)
	pipe := s.rdb.Pipeline()
	for field, n := range fields {
		pipe.HIncrBy(ctx, key, field, n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		utils.Debug("Usage stats: redis mirror failed: %v", err)
	}
}

// Snapshot returns a copy of the counters keyed by "backend:model".
func (s *UsageStats) Snapshot() map[string]ModelUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ModelUsage, len(s.counts))
	for k, v := range s.counts {
		out[k] = *v
	}
	return out
}

// Close releases the Redis connection, if any.
func (s *UsageStats) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
}
