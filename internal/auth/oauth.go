// Package auth implements the OAuth login flows that mint account
// credentials, plus the Cursor editor credential import.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// pkcePair is a PKCE verifier and its S256 challenge.
type pkcePair struct {
	verifier  string
	challenge string
}

func newPKCEPair() (*pkcePair, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate PKCE verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return &pkcePair{
		verifier:  verifier,
		challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

func newStateToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenResponse is the token endpoint's reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// Flow runs an authorization-code-with-PKCE login for one OAuth client.
type Flow struct {
	settings config.OAuthSettings
	client   *http.Client

	// AuthURLHook, when set, receives the authorize URL once the callback
	// listener is up (e.g. to open a browser). The URL is always logged too.
	AuthURLHook func(url string)
}

// NewFlow creates a login flow for the given client settings.
func NewFlow(settings config.OAuthSettings) *Flow {
	return &Flow{
		settings: settings,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// callbackResult is what the local listener hands back.
type callbackResult struct {
	code string
	err  error
}

// Login walks the whole flow: start the local callback listener, print the
// authorize URL for the user, wait for the redirect, then exchange the code.
// The flow is bounded by the configured timeout.
func (f *Flow) Login(ctx context.Context) (*TokenResponse, error) {
	pkce, err := newPKCEPair()
	if err != nil {
		return nil, err
	}
	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	listener, port, err := listenCallback()
	if err != nil {
		return nil, err
	}
	redirectURI := redirectURIFor(port)

	resultCh := make(chan callbackResult, 1)
	server := &http.Server{Handler: callbackHandler(state, resultCh)}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			resultCh <- callbackResult{err: err}
		}
	}()
	defer server.Close()

	authURL := f.buildAuthURL(pkce.challenge, state, redirectURI)
	utils.Info("Open this URL in your browser to sign in:")
	utils.Info("  %s", authURL)
	if f.AuthURLHook != nil {
		f.AuthURLHook(authURL)
	}

	timeout := time.Duration(config.OAuthFlowTimeoutMs) * time.Millisecond
	flowCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var code string
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	case <-flowCtx.Done():
		return nil, fmt.Errorf("login timed out after %s", timeout)
	}

	return f.exchangeCode(flowCtx, code, pkce.verifier, redirectURI)
}

// listenCallback binds the primary callback port, falling through the
// configured alternates when it is taken.
func listenCallback() (net.Listener, int, error) {
	ports := append([]int{config.OAuthCallbackPort}, config.OAuthCallbackFallbackPorts...)
	for _, port := range ports {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no callback port available (tried %v)", ports)
}

// redirectURIFor builds the registered loopback redirect. Providers match
// redirect URIs exactly, so this must stay the literal 127.0.0.1 form.
func redirectURIFor(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, config.OAuthCallbackPath)
}

func callbackHandler(expectedState string, resultCh chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != config.OAuthCallbackPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
			resultCh <- callbackResult{err: fmt.Errorf("authorization denied: %s", errMsg)}
			return
		}
		if q.Get("state") != expectedState {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			resultCh <- callbackResult{err: fmt.Errorf("state mismatch on callback")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing code", http.StatusBadRequest)
			resultCh <- callbackResult{err: fmt.Errorf("callback carried no code")}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h2>Login complete</h2><p>You may close this window.</p></body></html>")
		resultCh <- callbackResult{code: code}
	})
}

func (f *Flow) buildAuthURL(challenge, state, redirectURI string) string {
	params := url.Values{}
	params.Set("client_id", f.settings.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(f.settings.Scopes, " "))
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("state", state)
	for k, v := range f.settings.ExtraAuthParams {
		params.Set(k, v)
	}
	return f.settings.AuthURL + "?" + params.Encode()
}

func (f *Flow) exchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", f.settings.ClientID)
	form.Set("code_verifier", verifier)
	if f.settings.ClientSecret != "" {
		form.Set("client_secret", f.settings.ClientSecret)
	}
	return f.postToken(ctx, form)
}

// Refresh exchanges a refresh token for a fresh access token. Providers
// that rotate refresh tokens return a new one; otherwise the old token
// stays in use.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", f.settings.ClientID)
	if f.settings.ClientSecret != "" {
		form.Set("client_secret", f.settings.ClientSecret)
	}

	resp, err := f.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

func (f *Flow) postToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.settings.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindTransport, "read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
			resp.StatusCode == http.StatusBadRequest {
			return nil, &proxyerr.Error{
				Kind:       proxyerr.KindUnauthorized,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("token endpoint rejected request: %s", utils.TruncateString(string(body), 200)),
			}
		}
		return nil, proxyerr.FromStatus(resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}
	return &token, nil
}

// IdentityFromIDToken pulls the email (or subject, as fallback) out of an
// ID token's claims without verifying the signature; the token just came
// over TLS from the issuer.
func IdentityFromIDToken(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Email string `json:"email"`
		Sub   string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	if claims.Email != "" {
		return claims.Email
	}
	return claims.Sub
}

// CredentialsFromToken converts a token response to stored credentials.
func CredentialsFromToken(token *TokenResponse) *store.Credentials {
	creds := &store.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().UnixMilli() + token.ExpiresIn*1000
	}
	return creds
}
