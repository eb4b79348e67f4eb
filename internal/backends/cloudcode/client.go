package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/auth"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Adapter implements the Cloud Code backend.
type Adapter struct {
	client    *http.Client
	endpoints []string
	oauth     *auth.Flow

	// projectSink receives discovered project ids. The server wires it to
	// the pool so the write happens under the pool lock and is persisted.
	projectSink func(a *store.Account, projectID string)
}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{
		client:    &http.Client{Timeout: 10 * time.Minute},
		endpoints: config.CloudCodeEndpoints,
		oauth:     auth.NewFlow(config.CloudCodeOAuth),
		projectSink: func(a *store.Account, projectID string) {
			a.Credentials.ProjectID = projectID
		},
	}
}

// SetProjectSink replaces the discovery sink.
func (a *Adapter) SetProjectSink(fn func(*store.Account, string)) {
	if fn != nil {
		a.projectSink = fn
	}
}

// NewWithEndpoints creates the adapter against custom endpoints.
func NewWithEndpoints(endpoints ...string) *Adapter {
	a := New()
	a.endpoints = endpoints
	return a
}

// Backend implements backends.Adapter.
func (a *Adapter) Backend() config.Backend { return config.BackendCloudCode }

// Execute implements backends.Adapter. Endpoints are tried in order;
// account-level failures (401/403/429) stop the fallback since they will
// repeat on every endpoint.
func (a *Adapter) Execute(ctx context.Context, account *store.Account, token string, req *anthropic.MessagesRequest) (*backends.Stream, error) {
	backends.StripCacheControl(req)

	projectID := account.Credentials.ProjectID
	if projectID == "" {
		discovered, err := a.discoverProject(ctx, token)
		if err != nil {
			return nil, err
		}
		projectID = discovered
		a.projectSink(account, discovered)
	}

	body, err := json.Marshal(buildPayload(req, projectID))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindContractViolation, "encode upstream request", err)
	}

	var lastErr error
	for _, endpoint := range a.endpoints {
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, proxyerr.Wrap(proxyerr.KindTransport, "build upstream request", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = proxyerr.Wrap(proxyerr.KindTransport, "cloudcode request failed", err)
			utils.Warn("[cloudcode] endpoint %s unreachable: %v", endpoint, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			perr := proxyerr.FromStatus(resp.StatusCode, string(respBody))
			perr.Message = fmt.Sprintf("cloudcode upstream returned %d", resp.StatusCode)
			if perr.Kind == proxyerr.KindRateLimited {
				perr.RetryAfterMs = backends.ParseRateLimitResetMs(resp.Header, respBody)
			}
			// Auth and rate failures follow the account, not the endpoint.
			if perr.Kind == proxyerr.KindUnauthorized || perr.Kind == proxyerr.KindRateLimited {
				return nil, perr
			}
			lastErr = perr
			utils.Warn("[cloudcode] endpoint %s returned %d, trying next", endpoint, resp.StatusCode)
			continue
		}

		stream := backends.NewStream()
		emitter := backends.NewEmitter(stream, req.Model)
		go func() {
			defer resp.Body.Close()
			pumpStream(resp.Body, emitter)
		}()
		return stream, nil
	}
	if lastErr == nil {
		lastErr = proxyerr.New(proxyerr.KindTransport, "no cloudcode endpoint reachable")
	}
	return nil, lastErr
}

// loadCodeAssistResponse is the project discovery reply.
type loadCodeAssistResponse struct {
	CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
}

// discoverProject resolves the account's companion project id, required on
// every generateContent call.
func (a *Adapter) discoverProject(ctx context.Context, token string) (string, error) {
	reqBody := map[string]any{
		"metadata": map[string]any{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	body, _ := json.Marshal(reqBody)

	var lastErr error
	for _, endpoint := range a.endpoints {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			endpoint+"/v1internal:loadCodeAssist", bytes.NewReader(body))
		if err != nil {
			return "", proxyerr.Wrap(proxyerr.KindTransport, "build discovery request", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = proxyerr.Wrap(proxyerr.KindTransport, "project discovery failed", err)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = proxyerr.FromStatus(resp.StatusCode, string(respBody))
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return "", lastErr
			}
			continue
		}

		var parsed loadCodeAssistResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			lastErr = fmt.Errorf("parse discovery response: %w", err)
			continue
		}
		if project := projectIDFromRaw(parsed.CloudAICompanionProject); project != "" {
			utils.Info("[cloudcode] discovered project %s", project)
			return project, nil
		}
		lastErr = fmt.Errorf("discovery response carried no project")
	}
	return "", lastErr
}

// projectIDFromRaw handles both encodings of the project field: a bare
// string or an object with an id.
func projectIDFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// RefreshFunc refreshes the account's Google OAuth credentials. Wired as
// the Cloud Code pool's refresher.
func (a *Adapter) RefreshFunc(ctx context.Context, account *store.Account) (*store.Credentials, error) {
	if account.Credentials.RefreshToken == "" {
		return nil, proxyerr.New(proxyerr.KindUnauthorized, "cloudcode account has no refresh token")
	}
	token, err := a.oauth.Refresh(ctx, account.Credentials.RefreshToken)
	if err != nil {
		return nil, err
	}
	creds := auth.CredentialsFromToken(token)
	creds.ProjectID = account.Credentials.ProjectID
	return creds, nil
}
