// Package handlers provides HTTP request handlers for the server.
// This file handles pool introspection and operator endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunaroute/polyclaude-proxy/internal/account"
	"github.com/lunaroute/polyclaude-proxy/internal/account/strategies"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// AccountsHandler handles account pool introspection and operator hooks.
type AccountsHandler struct {
	manager *account.Manager
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(manager *account.Manager) *AccountsHandler {
	return &AccountsHandler{manager: manager}
}

// AccountLimits handles GET /account-limits - per-account quota and cooldown
// state across every backend.
func (h *AccountsHandler) AccountLimits(c *gin.Context) {
	now := time.Now()
	out := make(map[string]any)

	for _, pool := range h.manager.Pools() {
		accounts := pool.Snapshot()
		entries := make([]gin.H, 0, len(accounts))
		for _, acc := range accounts {
			entry := gin.H{
				"id":   acc.ID,
				"name": acc.DisplayName(),
			}
			if !acc.Enabled {
				entry["enabled"] = false
			}
			if acc.Invalid {
				entry["invalid"] = true
				entry["invalidReason"] = acc.InvalidReason
			}
			if acc.IsCoolingDown(now) {
				entry["cooldownRemainingMs"] = acc.CooldownRemainingMs(now)
			}
			if acc.Quota != nil && len(acc.Quota.Models) > 0 {
				models := make(gin.H, len(acc.Quota.Models))
				for modelID, mq := range acc.Quota.Models {
					models[modelID] = gin.H{
						"remaining":         utils.FormatPercent(mq.RemainingFraction),
						"remainingFraction": mq.RemainingFraction,
						"resetTime":         mq.ResetTime,
					}
				}
				entry["models"] = models
				entry["quotaCheckedAt"] = time.UnixMilli(acc.Quota.LastChecked).Format(time.RFC3339)
			}
			entries = append(entries, entry)
		}
		out[string(pool.Backend())] = entries
	}

	c.JSON(http.StatusOK, out)
}

// refreshRequest selects which accounts POST /refresh-token refreshes.
// Both fields optional: empty backend means every backend, empty account
// means every account of the backend.
type refreshRequest struct {
	Backend string `json:"backend"`
	Account string `json:"account"`
}

// RefreshToken handles POST /refresh-token - force a credential refresh.
func (h *AccountsHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req) // empty body means refresh everything

	pools := h.manager.Pools()
	if req.Backend != "" {
		pool := h.manager.Pool(config.Backend(req.Backend))
		if pool == nil {
			c.JSON(http.StatusBadRequest,
				anthropic.NewErrorResponse("invalid_request_error", "unknown backend: "+req.Backend))
			return
		}
		pools = []*account.Pool{pool}
	}

	refreshed := 0
	failed := make([]gin.H, 0)
	for _, pool := range pools {
		for _, acc := range pool.Snapshot() {
			if req.Account != "" && acc.ID != req.Account && acc.Email != req.Account {
				continue
			}
			if acc.Invalid || acc.Credentials.RefreshToken == "" {
				continue
			}
			if err := pool.ForceRefresh(c.Request.Context(), acc); err != nil {
				failed = append(failed, gin.H{
					"backend": pool.Backend(),
					"account": acc.DisplayName(),
					"error":   err.Error(),
				})
				continue
			}
			refreshed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"refreshed": refreshed,
		"failed":    failed,
	})
}

// ClearCache handles POST /clear-cache - lift cooldowns, un-latch invalid
// accounts and reset tracker state so the pools start from a clean slate.
func (h *AccountsHandler) ClearCache(c *gin.Context) {
	for _, pool := range h.manager.Pools() {
		pool.ClearCooldowns()
		if hybrid, ok := pool.Strategy().(*strategies.HybridStrategy); ok {
			hybrid.ClearState()
		}
	}
	utils.Info("[API] cooldowns and tracker state cleared")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
