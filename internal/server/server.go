package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunaroute/polyclaude-proxy/internal/account"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/backends/cloudcode"
	"github.com/lunaroute/polyclaude-proxy/internal/backends/codex"
	"github.com/lunaroute/polyclaude-proxy/internal/backends/copilot"
	"github.com/lunaroute/polyclaude-proxy/internal/backends/cursor"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/dispatch"
	"github.com/lunaroute/polyclaude-proxy/internal/modules"
	"github.com/lunaroute/polyclaude-proxy/internal/server/handlers"
)

// Server owns the gin engine and the wiring between backends, pools and the
// dispatcher.
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	manager  *account.Manager
	registry *backends.Registry
	stats    *modules.UsageStats
}

// New builds the server: one adapter per backend registered, each OAuth
// backend's refresher installed on its pool.
func New(cfg *config.Config, manager *account.Manager, stats *modules.UsageStats) *Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := backends.NewRegistry()

	cc := cloudcode.New()
	registry.Register(cc)
	ccPool := manager.Pool(config.BackendCloudCode)
	ccPool.SetRefreshFunc(cc.RefreshFunc)
	cc.SetProjectSink(ccPool.SetProjectID)

	cx := codex.New()
	registry.Register(cx)
	manager.Pool(config.BackendCodex).SetRefreshFunc(cx.RefreshFunc)

	cp := copilot.New()
	registry.Register(cp)
	manager.Pool(config.BackendCopilot).SetRefreshFunc(cp.RefreshFunc)

	// Cursor uses a static API token; no refresher.
	registry.Register(cursor.New())

	return &Server{
		cfg:      cfg,
		engine:   gin.New(),
		manager:  manager,
		registry: registry,
		stats:    stats,
	}
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Registry returns the backend adapter registry.
func (s *Server) Registry() *backends.Registry { return s.registry }

// SetupRoutes registers middleware and all routes.
func (s *Server) SetupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(SilentHandlerMiddleware())

	dispatcher := dispatch.New(s.manager, s.registry)

	messages := handlers.NewMessagesHandler(dispatcher, s.stats)
	models := handlers.NewModelsHandler()
	health := handlers.NewHealthHandler(s.manager)
	accounts := handlers.NewAccountsHandler(s.manager)

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	v1.Use(BodyLimitMiddleware())
	{
		v1.POST("/messages", messages.Messages)
		v1.POST("/messages/count_tokens", messages.CountTokens)
		v1.GET("/models", models.ListModels)
	}

	s.engine.GET("/health", health.Health)
	s.engine.GET("/account-limits", accounts.AccountLimits)
	s.engine.POST("/refresh-token", accounts.RefreshToken)
	s.engine.POST("/clear-cache", accounts.ClearCache)

	s.engine.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"usage": s.stats.Snapshot()})
	})
}
