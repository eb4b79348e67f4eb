// Package server provides the HTTP surface: gin engine, routes and
// middleware over the dispatcher and account pools.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// APIKeyAuthMiddleware validates the API key for /v1/* endpoints. Validation
// is skipped entirely when no key is configured.
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		var providedKey string
		authHeader := c.GetHeader("Authorization")
		xAPIKey := c.GetHeader("X-API-Key")

		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			providedKey = strings.TrimPrefix(authHeader, "Bearer ")
		} else if xAPIKey != "" {
			providedKey = xAPIKey
		}

		if providedKey == "" || providedKey != cfg.APIKey {
			utils.Warn("[API] Unauthorized request from %s, invalid API key", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid or missing API key",
				},
			})
			return
		}

		c.Next()
	}
}

// BodyLimitMiddleware caps request bodies so a runaway client cannot exhaust
// memory.
func BodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	}
}

// RequestLoggingMiddleware logs all requests
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		logMsg := "[%s] %s %d (%dms)"

		// Claude Code probes these constantly; keep them out of normal logs.
		if path == "/api/event_logging/batch" ||
			strings.HasPrefix(path, "/v1/messages/count_tokens") ||
			strings.HasPrefix(path, "/.well-known/") {
			utils.Debug(logMsg, c.Request.Method, path, status, duration.Milliseconds())
			return
		}

		if status >= 500 {
			utils.Error(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		} else if status >= 400 {
			utils.Warn(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		} else {
			utils.Info(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}

// SilentHandlerMiddleware answers Claude Code CLI telemetry endpoints without
// touching any backend.
func SilentHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" && c.Request.URL.Path == "/api/event_logging/batch" {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			c.Abort()
			return
		}
		if c.Request.Method == "POST" && c.Request.URL.Path == "/" {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			c.Abort()
			return
		}

		c.Next()
	}
}
