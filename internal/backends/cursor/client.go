package cursor

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Adapter implements the Cursor (binary-framed) backend.
type Adapter struct {
	client *http.Client
	url    string
}

// New creates the adapter with an HTTP/2-preferred client. ALPN negotiates
// h2 when the endpoint offers it and stays on HTTP/1.1 otherwise.
func New() *Adapter {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		utils.Warn("[cursor] http2 unavailable, staying on HTTP/1.1: %v", err)
	}
	return &Adapter{
		client: &http.Client{Transport: transport, Timeout: 10 * time.Minute},
		url:    config.CursorStreamChatURL,
	}
}

// NewWithClient creates the adapter with a custom client and endpoint.
func NewWithClient(client *http.Client, url string) *Adapter {
	return &Adapter{client: client, url: url}
}

// Backend implements backends.Adapter.
func (a *Adapter) Backend() config.Backend { return config.BackendCursor }

// Execute implements backends.Adapter.
func (a *Adapter) Execute(ctx context.Context, account *store.Account, token string, req *anthropic.MessagesRequest) (*backends.Stream, error) {
	backends.StripCacheControl(req)

	body, err := buildPayload(req)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindContractViolation, "encode upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "build upstream request", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/connect+json")
	httpReq.Header.Set("X-Cursor-Checksum", checksumHeader(machineIDForToken(token), time.Now()))
	httpReq.Header.Set("x-client-key", clientKey(token))
	httpReq.Header.Set("x-request-id", uuid.NewString())
	httpReq.Header.Set("x-session-id", uuid.NewString())
	httpReq.Header.Set("x-cursor-config-version", uuid.NewString())
	httpReq.Header.Set("x-amzn-trace-id", "Root="+uuid.NewString())

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "cursor request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		perr := proxyerr.FromStatus(resp.StatusCode, string(respBody))
		perr.Message = fmt.Sprintf("cursor upstream returned %d", resp.StatusCode)
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
