// Package handlers provides HTTP request handlers for the server.
// This file handles health check endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunaroute/polyclaude-proxy/internal/account"
	"github.com/lunaroute/polyclaude-proxy/internal/account/strategies"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	manager *account.Manager
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(manager *account.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

type accountDetail struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Status               string  `json:"status"`
	Error                string  `json:"error,omitempty"`
	LastUsed             string  `json:"lastUsed,omitempty"`
	CooldownRemainingMs  int64   `json:"cooldownRemainingMs,omitempty"`
	HealthScore          float64 `json:"healthScore,omitempty"`
	ConsecutiveFailures  int     `json:"consecutiveFailures,omitempty"`
	TokensAvailable      float64 `json:"tokensAvailable,omitempty"`
	TokenExpiresInMs     int64   `json:"tokenExpiresInMs,omitempty"`
}

// Health handles GET /health - detailed per-backend, per-account status.
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()
	now := time.Now()

	backends := make(map[string]any)
	var total, available, cooling, invalid, disabled int

	for _, pool := range h.manager.Pools() {
		accounts := pool.Snapshot()
		hybrid, _ := pool.Strategy().(*strategies.HybridStrategy)

		details := make([]accountDetail, 0, len(accounts))
		for _, acc := range accounts {
			total++
			detail := accountDetail{
				ID:   acc.ID,
				Name: acc.DisplayName(),
			}
			if acc.LastUsed > 0 {
				detail.LastUsed = time.UnixMilli(acc.LastUsed).Format(time.RFC3339)
			}
			if acc.Credentials.ExpiresAt > 0 {
				detail.TokenExpiresInMs = acc.Credentials.ExpiresAt - now.UnixMilli()
			}
			if hybrid != nil {
				detail.HealthScore = hybrid.HealthTracker().Score(acc.ID)
				detail.ConsecutiveFailures = hybrid.HealthTracker().ConsecutiveFailures(acc.ID)
				detail.TokensAvailable = hybrid.BucketTracker().Tokens(acc.ID)
			}

			switch {
			case !acc.Enabled:
				disabled++
				detail.Status = "disabled"
			case acc.Invalid:
				invalid++
				detail.Status = "invalid"
				detail.Error = acc.InvalidReason
			case acc.IsCoolingDown(now):
				cooling++
				detail.Status = "rate-limited"
				detail.CooldownRemainingMs = acc.CooldownRemainingMs(now)
			default:
				available++
				detail.Status = "ok"
			}
			details = append(details, detail)
		}

		backends[string(pool.Backend())] = gin.H{
			"strategy": pool.Strategy().Name(),
			"accounts": details,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"counts": gin.H{
			"total":       total,
			"available":   available,
			"rateLimited": cooling,
			"invalid":     invalid,
			"disabled":    disabled,
		},
		"backends": backends,
	})
}
