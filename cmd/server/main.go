// Package main provides the PolyClaude proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/modules"
	"github.com/lunaroute/polyclaude-proxy/internal/server"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

func main() {
	var (
		devMode      bool
		strategyName string
		port         int
		host         string
	)

	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode (verbose logs)")
	flag.StringVar(&strategyName, "strategy", "", "Account selection strategy (hybrid/round-robin)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.Parse()

	if os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}

	// Validate strategy
	if strategyName != "" {
		switch strings.ToLower(strategyName) {
		case "hybrid", "round-robin":
			strategyName = strings.ToLower(strategyName)
		default:
			utils.Warn("[Startup] Invalid strategy %q. Valid options: hybrid, round-robin. Using default.",
				strategyName)
			strategyName = ""
		}
	}

	utils.SetDebug(devMode)

	cfg := config.DefaultConfig()
	if err := cfg.Load(); err != nil {
		utils.Warn("[Startup] Failed to load config: %v", err)
	}
	cfg.DevMode = devMode
	if strategyName != "" {
		cfg.Strategy = strategyName
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}

	manager := account.NewManager(cfg)
	usageStats := modules.NewUsageStats(cfg)

	srv := server.New(cfg, manager, usageStats)
	srv.SetupRoutes()

	printBanner(cfg, manager)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long timeout for streaming responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[Server] Starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] Failed to start: %v", err)
			os.Exit(1)
		}
	}()

	utils.Success("Server started successfully on port %d", cfg.Port)
	if devMode {
		utils.Warn("Running in DEVELOPER mode - verbose logs enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
	}

	manager.Close()
	usageStats.Close()

	utils.Success("Server stopped")
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, manager *account.Manager) {
	displayHost := cfg.Host
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}

	var accountLines []string
	total := 0
	for _, pool := range manager.Pools() {
		n := pool.Size()
		total += n
		accountLines = append(accountLines,
			fmt.Sprintf("    %-10s %d account(s)", pool.Backend(), n))
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = "hybrid"
	}

	fmt.Println(`
╔══════════════════════════════════════════════════════════════╗
║              PolyClaude Proxy Server v` + config.Version + `                   ║
╠══════════════════════════════════════════════════════════════╣
║                                                              ║`)
	fmt.Printf("║  Running at: http://%s:%-32d ║\n", displayHost, cfg.Port)
	fmt.Printf("║  Strategy:   %-47s ║\n", strategy)
	fmt.Println("║                                                              ║")
	fmt.Printf("║  Accounts (%d total):                                         ║\n", total)
	for _, line := range accountLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Endpoints:                                                  ║")
	fmt.Println("║    POST /v1/messages         - Anthropic Messages API        ║")
	fmt.Println("║    GET  /v1/models           - List available models         ║")
	fmt.Println("║    GET  /health              - Health check                  ║")
	fmt.Println("║    GET  /account-limits      - Account status & quotas       ║")
	fmt.Println("║    POST /refresh-token       - Force token refresh           ║")
	fmt.Println("║    POST /clear-cache         - Reset cooldowns & trackers    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Configuration:                                              ║")
	fmt.Printf("║    Storage: %-49s ║\n", config.ConfigDir())
	fmt.Println("║                                                              ║")
	fmt.Println("║  Usage with Claude Code:                                     ║")
	fmt.Printf("║    export ANTHROPIC_BASE_URL=http://localhost:%-15d ║\n", cfg.Port)
	fmt.Println("║    claude                                                    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Add accounts:                                               ║")
	fmt.Println("║    polyclaude-accounts add --backend=<backend>               ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
}
