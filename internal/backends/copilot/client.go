package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Adapter implements the Copilot (chat-completions) backend.
type Adapter struct {
	client  *http.Client
	url     string
	mintURL string
}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 10 * time.Minute},
		url:     config.CopilotCompletionsURL,
		mintURL: config.CopilotTokenMintURL,
	}
}

// NewWithURLs creates the adapter against custom endpoints.
func NewWithURLs(completionsURL, mintURL string) *Adapter {
	a := New()
	a.url = completionsURL
	a.mintURL = mintURL
	return a
}

// Backend implements backends.Adapter.
func (a *Adapter) Backend() config.Backend { return config.BackendCopilot }

// Execute implements backends.Adapter.
func (a *Adapter) Execute(ctx context.Context, account *store.Account, token string, req *anthropic.MessagesRequest) (*backends.Stream, error) {
	backends.StripCacheControl(req)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindContractViolation, "encode upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "build upstream request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Copilot-Integration-Id", "vscode-chat")
	httpReq.Header.Set("Editor-Version", "vscode/1.99.0")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "copilot request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		perr := proxyerr.FromStatus(resp.StatusCode, string(respBody))
		perr.Message = fmt.Sprintf("copilot upstream returned %d", resp.StatusCode)
		if perr.Kind == proxyerr.KindRateLimited {
			perr.RetryAfterMs = backends.ParseRateLimitResetMs(resp.Header, respBody)
		}
		return nil, perr
	}

	stream := backends.NewStream()
	emitter := backends.NewEmitter(stream, req.Model)
	go func() {
		defer resp.Body.Close()
		pumpStream(resp.Body, emitter)
	}()
	return stream, nil
}

// mintResponse is the copilot_internal token endpoint's reply.
type mintResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// RefreshFunc mints a short-lived session bearer from the account's
// long-lived device token. Wired as the Copilot pool's refresher.
func (a *Adapter) RefreshFunc(ctx context.Context, account *store.Account) (*store.Credentials, error) {
	deviceToken := account.Credentials.RefreshToken
	if deviceToken == "" {
		return nil, proxyerr.New(proxyerr.KindUnauthorized, "copilot account has no device token")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.mintURL, nil)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "build token request", err)
	}
	httpReq.Header.Set("Authorization", "token "+deviceToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "copilot token mint failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &proxyerr.Error{
				Kind:       proxyerr.KindUnauthorized,
				StatusCode: resp.StatusCode,
				Message:    "copilot device token rejected",
			}
		}
		return nil, proxyerr.FromStatus(resp.StatusCode, string(respBody))
	}

	var mint mintResponse
	if err := json.Unmarshal(respBody, &mint); err != nil {
		return nil, fmt.Errorf("parse token mint response: %w", err)
	}
	if mint.Token == "" {
		return nil, fmt.Errorf("token mint response carried no token")
	}

	return &store.Credentials{
		AccessToken:  mint.Token,
		RefreshToken: deviceToken,
		ExpiresAt:    mint.ExpiresAt * 1000,
	}, nil
}
