// Package config provides the proxy's options record and wire-level
// constants: backend endpoints, model tables, OAuth client settings and
// selection-strategy tuning defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Version information
const Version = "1.0.0"

// Backend identifies one upstream provider family.
type Backend string

const (
	BackendCloudCode Backend = "cloudcode"
	BackendCodex     Backend = "codex"
	BackendCopilot   Backend = "copilot"
	BackendCursor    Backend = "cursor"
)

// Backends lists every supported backend in display order.
var Backends = []Backend{BackendCloudCode, BackendCodex, BackendCopilot, BackendCursor}

// BackendForModel routes a canonical model name to its backend family.
// Returns false for unknown models; callers must reject those with a 400.
func BackendForModel(model string) (Backend, bool) {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "cu/"), strings.HasPrefix(lower, "cursor/"):
		return BackendCursor, true
	case strings.HasPrefix(lower, "gh/"), strings.HasPrefix(lower, "github/"):
		return BackendCopilot, true
	case strings.HasPrefix(lower, "claude-"), strings.HasPrefix(lower, "gemini-"):
		return BackendCloudCode, true
	case strings.HasPrefix(lower, "gpt-5"), strings.Contains(lower, "codex"):
		return BackendCodex, true
	default:
		return "", false
	}
}

// StripVendorPrefix removes the routing prefix ("cu/", "gh/", ...) so the
// bare model name can be sent upstream.
func StripVendorPrefix(model string) string {
	for _, prefix := range []string{"cu/", "cursor/", "gh/", "github/"} {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// Cloud Code API endpoints (in fallback order).
var CloudCodeEndpoints = []string{
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// Codex (OpenAI Responses) endpoint. The upstream only supports streaming.
const CodexResponsesURL = "https://chatgpt.com/backend-api/codex/responses"

// Copilot endpoints.
const (
	CopilotCompletionsURL = "https://api.githubcopilot.com/chat/completions"
	CopilotTokenMintURL   = "https://api.github.com/copilot_internal/v2/token"
)

// Cursor chat RPC endpoint. HTTP/2 preferred, HTTP/1.1 fallback.
const CursorStreamChatURL = "https://api2.cursor.sh/aiserver.v1.AiService/StreamChat"

// OAuthSettings holds one backend's OAuth client configuration.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// ExtraAuthParams are appended to the authorize URL verbatim.
	ExtraAuthParams map[string]string
}

// CloudCodeOAuth is the Google OAuth client used by the Cloud Code backend.
var CloudCodeOAuth = OAuthSettings{
	ClientID:     "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com",
	ClientSecret: "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",
	AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:     "https://oauth2.googleapis.com/token",
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
	ExtraAuthParams: map[string]string{
		"access_type": "offline",
		"prompt":      "consent",
	},
}

// CodexOAuth is the OpenAI OAuth client used by the Codex backend.
var CodexOAuth = OAuthSettings{
	ClientID: "app_EMoamEEZ73f0CkXaXp7hrann",
	AuthURL:  "https://auth.openai.com/oauth/authorize",
	TokenURL: "https://auth.openai.com/oauth/token",
	Scopes:   []string{"openid", "profile", "email", "offline_access"},
	ExtraAuthParams: map[string]string{
		"id_token_add_organizations": "true",
		"codex_cli_simplified_flow":  "true",
	},
}

// OAuth callback listener.
const (
	OAuthCallbackPort = 1455
	OAuthCallbackPath = "/auth/callback"
	// OAuthFlowTimeoutMs bounds the whole flow from URL emission to code receipt.
	OAuthFlowTimeoutMs = 5 * 60 * 1000
)

// OAuthCallbackFallbackPorts are tried in order when the primary is taken.
var OAuthCallbackFallbackPorts = []int{14550, 14551, 14552}

// Model tables per backend, with vendor prefixes where routing requires them.
var (
	CloudCodeModels = []string{
		"claude-sonnet-4-5",
		"claude-opus-4-5",
		"gemini-2.5-pro",
		"gemini-3-pro",
	}
	CodexModels = []string{
		"gpt-5.1-codex",
		"gpt-5.1-codex-mini",
		"gpt-5.2",
	}
	CopilotModels = []string{
		"gh/gpt-4.1",
		"gh/claude-sonnet-4.5",
		"gh/gemini-2.5-pro",
	}
	CursorModels = []string{
		"cu/claude-4.5-sonnet",
		"cu/gpt-5.2",
		"cu/composer-1",
	}
)

// ModelsForBackend returns the declared model list for one backend.
func ModelsForBackend(b Backend) []string {
	switch b {
	case BackendCloudCode:
		return CloudCodeModels
	case BackendCodex:
		return CodexModels
	case BackendCopilot:
		return CopilotModels
	case BackendCursor:
		return CursorModels
	default:
		return nil
	}
}

// Timing and retry constants.
const (
	// DefaultCooldownMs applies to a 429 that carries no reset hint.
	DefaultCooldownMs = 60 * 1000
	// MaxWaitBeforeErrorMs: beyond this, fail fast with RESOURCE_EXHAUSTED
	// instead of sleeping on a cooling pool.
	MaxWaitBeforeErrorMs = 60 * 1000
	// WaitRetryPaddingMs is added to strategy wait hints before re-selecting.
	WaitRetryPaddingMs = 500
	// MinRetryAttempts: the attempt budget is max(this, poolSize+1).
	MinRetryAttempts = 3
	// TokenRefreshWindowMs: refresh OAuth tokens this close to expiry.
	TokenRefreshWindowMs = 5 * 60 * 1000
	// RequestBodyLimit caps POST /v1/messages bodies (50MB).
	RequestBodyLimit int64 = 50 * 1024 * 1024
	// DefaultPort is the proxy's listen port.
	DefaultPort = 8080
	// MaxAccounts bounds each pool.
	MaxAccounts = 32
)

// HealthScoreConfig tunes the per-account health tracker.
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
}

// TokenBucketConfig tunes the client-side pacing bucket.
type TokenBucketConfig struct {
	MaxTokens       float64 `json:"maxTokens"`
	TokensPerMinute float64 `json:"tokensPerMinute"`
	InitialTokens   float64 `json:"initialTokens"`
}

// QuotaConfig tunes quota-fraction interpretation.
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// ConfigDir is where accounts and settings live on disk.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "polyclaude-proxy")
}

// AccountConfigPath returns the per-backend account file path.
func AccountConfigPath(b Backend) string {
	return filepath.Join(ConfigDir(), "accounts-"+string(b)+".json")
}

// CursorStateDBPath locates the Cursor editor's local state database, used
// to import its API token without re-authentication.
func CursorStateDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch {
	case fileExists(filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage", "state.vscdb")):
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage", "state.vscdb")
	case fileExists(filepath.Join(home, ".config", "Cursor", "User", "globalStorage", "state.vscdb")):
		return filepath.Join(home, ".config", "Cursor", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(home, "AppData", "Roaming", "Cursor", "User", "globalStorage", "state.vscdb")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
