package cloudcode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

const (
	generatePath = "/v1internal:streamGenerateContent"
	discoverPath = "/v1internal:loadCodeAssist"
)

func streamingServer(t *testing.T, onBody func(map[string]any), payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, generatePath, r.URL.Path)
		if onBody != nil {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			onBody(body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}))
}

func collectStream(t *testing.T, stream *backends.Stream) []anthropic.StreamEvent {
	t.Helper()
	var events []anthropic.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func knownAccount() *store.Account {
	return &store.Account{ID: "acc-1", Credentials: store.Credentials{ProjectID: "proj-1"}}
}

func simpleRequest() *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model: "gemini-3-pro",
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		}},
		MaxTokens: 64,
	}
}

func TestCloudCodeExecuteStreamsWrappedCandidates(t *testing.T) {
	var gotBody map[string]any
	srv := streamingServer(t, func(body map[string]any) { gotBody = body },
		`{"response":{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}}`,
	)
	defer srv.Close()

	stream, err := NewWithEndpoints(srv.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	require.NoError(t, err)

	var text, stopReason string
	var usage *anthropic.Usage
	for _, ev := range collectStream(t, stream) {
		switch ev.Type {
		case anthropic.EventContentBlockDelta:
			text += ev.Delta.Text
		case anthropic.EventMessageDelta:
			stopReason = ev.Delta.StopReason
			usage = ev.Usage
		}
	}
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, anthropic.StopReasonEndTurn, stopReason)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.InputTokens)

	assert.Equal(t, "proj-1", gotBody["project"])
	assert.Equal(t, "gemini-3-pro", gotBody["model"])
}

func TestCloudCodeExecuteBareCandidates(t *testing.T) {
	srv := streamingServer(t, nil,
		`{"candidates":[{"content":{"parts":[{"text":"bare"}]},"finishReason":"STOP"}]}`,
	)
	defer srv.Close()

	stream, err := NewWithEndpoints(srv.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	require.NoError(t, err)

	var text string
	for _, ev := range collectStream(t, stream) {
		if ev.Type == anthropic.EventContentBlockDelta {
			text += ev.Delta.Text
		}
	}
	assert.Equal(t, "bare", text)
}

func TestCloudCodeExecuteFunctionCall(t *testing.T) {
	srv := streamingServer(t, nil,
		`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"id":"fc-1","name":"get_weather","args":{"city":"Oslo"}}}]},"finishReason":"STOP"}]}}`,
	)
	defer srv.Close()

	stream, err := NewWithEndpoints(srv.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	require.NoError(t, err)

	var block *anthropic.ContentBlock
	var args, stopReason string
	for _, ev := range collectStream(t, stream) {
		switch ev.Type {
		case anthropic.EventContentBlockStart:
			block = ev.ContentBlock
		case anthropic.EventContentBlockDelta:
			args += ev.Delta.PartialJSON
		case anthropic.EventMessageDelta:
			stopReason = ev.Delta.StopReason
		}
	}
	require.NotNil(t, block)
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "get_weather", block.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, args)
	assert.Equal(t, anthropic.StopReasonToolUse, stopReason)
}

func TestCloudCodeExecuteMaxTokens(t *testing.T) {
	srv := streamingServer(t, nil,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"trunc"}]},"finishReason":"MAX_TOKENS"}]}}`,
	)
	defer srv.Close()

	stream, err := NewWithEndpoints(srv.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	require.NoError(t, err)

	var stopReason string
	for _, ev := range collectStream(t, stream) {
		if ev.Type == anthropic.EventMessageDelta {
			stopReason = ev.Delta.StopReason
		}
	}
	assert.Equal(t, "max_tokens", stopReason)
}

func TestCloudCodeExecuteFallsBackToNextEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := streamingServer(t, nil,
		`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`,
	)
	defer good.Close()

	stream, err := NewWithEndpoints(bad.URL, good.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	require.NoError(t, err)

	var text string
	for _, ev := range collectStream(t, stream) {
		if ev.Type == anthropic.EventContentBlockDelta {
			text += ev.Delta.Text
		}
	}
	assert.Equal(t, "ok", text)
}

func TestCloudCodeExecuteAuthFailureStopsFallback(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer first.Close()
	var secondHit bool
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit = true
	}))
	defer second.Close()

	_, err := NewWithEndpoints(first.URL, second.URL).Execute(context.Background(), knownAccount(), "tok", simpleRequest())
	assert.True(t, proxyerr.IsKind(err, proxyerr.KindUnauthorized))
	assert.False(t, secondHit)
}

func TestCloudCodeExecuteDiscoversProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case discoverPath:
			fmt.Fprint(w, `{"cloudaicompanionProject":"proj-found"}`)
		case generatePath:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "proj-found", body["project"])
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}]}\n\n")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	account := &store.Account{ID: "acc-2"}
	stream, err := NewWithEndpoints(srv.URL).Execute(context.Background(), account, "tok", simpleRequest())
	require.NoError(t, err)
	collectStream(t, stream)

	// The discovered project is cached on the account for later attempts.
	assert.Equal(t, "proj-found", account.Credentials.ProjectID)
}

func TestCloudCodeDiscoveryRoutesThroughSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case discoverPath:
			fmt.Fprint(w, `{"cloudaicompanionProject":"proj-sink"}`)
		case generatePath:
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}]}\n\n")
		}
	}))
	defer srv.Close()

	var sunkAccount *store.Account
	var sunkProject string
	adapter := NewWithEndpoints(srv.URL)
	adapter.SetProjectSink(func(a *store.Account, projectID string) {
		sunkAccount = a
		sunkProject = projectID
		a.Credentials.ProjectID = projectID
	})

	account := &store.Account{ID: "acc-3"}
	stream, err := adapter.Execute(context.Background(), account, "tok", simpleRequest())
	require.NoError(t, err)
	collectStream(t, stream)

	assert.Same(t, account, sunkAccount)
	assert.Equal(t, "proj-sink", sunkProject)
}

func TestProjectIDFromRaw(t *testing.T) {
	assert.Equal(t, "p-1", projectIDFromRaw(json.RawMessage(`"p-1"`)))
	assert.Equal(t, "p-2", projectIDFromRaw(json.RawMessage(`{"id":"p-2"}`)))
	assert.Empty(t, projectIDFromRaw(nil))
	assert.Empty(t, projectIDFromRaw(json.RawMessage(`42`)))
}
