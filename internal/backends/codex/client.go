package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/auth"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Adapter implements the Codex (OpenAI Responses) backend.
type Adapter struct {
	client *http.Client
	url    string
	oauth  *auth.Flow
}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{
		client: &http.Client{Timeout: 10 * time.Minute},
		url:    config.CodexResponsesURL,
		oauth:  auth.NewFlow(config.CodexOAuth),
	}
}

// NewWithURL creates the adapter against a custom endpoint.
func NewWithURL(url string) *Adapter {
	a := New()
	a.url = url
	return a
}

// Backend implements backends.Adapter.
func (a *Adapter) Backend() config.Backend { return config.BackendCodex }

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
	httpReq.Header.Set("OpenAI-Beta", "responses=experimental")
	httpReq.Header.Set("originator", "codex_cli_rs")
	httpReq.Header.Set("session_id", uuid.NewString())
	if account.Credentials.AccountID != "" {
		httpReq.Header.Set("chatgpt-account-id", account.Credentials.AccountID)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "codex request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		perr := proxyerr.FromStatus(resp.StatusCode, string(respBody))
		perr.Message = fmt.Sprintf("codex upstream returned %d", resp.StatusCode)
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

// RefreshFunc refreshes the account's OpenAI OAuth credentials. Wired as
// the Codex pool's refresher.
func (a *Adapter) RefreshFunc(ctx context.Context, account *store.Account) (*store.Credentials, error) {
	if account.Credentials.RefreshToken == "" {
		return nil, proxyerr.New(proxyerr.KindUnauthorized, "codex account has no refresh token")
	}
	token, err := a.oauth.Refresh(ctx, account.Credentials.RefreshToken)
	if err != nil {
		return nil, err
	}
	creds := auth.CredentialsFromToken(token)
	creds.AccountID = account.Credentials.AccountID
	return creds, nil
}
