package cursor

import (
	"bytes"
	"context"
	"encoding/json"
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

func frameServer(t *testing.T, flag byte, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		for _, f := range frames {
			require.NoError(t, writeFrame(&buf, flag, []byte(f)))
		}
		w.Write(buf.Bytes())
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

func simpleRequest() *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model: "cu/composer-1",
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		}},
		MaxTokens: 64,
	}
}

func TestCursorExecuteStreamsText(t *testing.T) {
	srv := frameServer(t, 0x00,
		`{"text":"Hello"}`,
		`{"text":" world"}`,
	)
	defer srv.Close()

	adapter := NewWithClient(srv.Client(), srv.URL)
	stream, err := adapter.Execute(context.Background(), &store.Account{}, "tok", simpleRequest())
	require.NoError(t, err)

	var text, stopReason string
	for _, ev := range collectStream(t, stream) {
		switch ev.Type {
		case anthropic.EventContentBlockDelta:
			text += ev.Delta.Text
		case anthropic.EventMessageDelta:
			stopReason = ev.Delta.StopReason
		}
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, anthropic.StopReasonEndTurn, stopReason)
}

func TestCursorExecuteDecompressesFlaggedFrames(t *testing.T) {
	// 0x02-flagged frames are gzipped content, not a terminator.
	srv := frameServer(t, 0x02,
		`{"text":"hello"}`,
		`{"text":" again"}`,
	)
	defer srv.Close()

	stream, err := NewWithClient(srv.Client(), srv.URL).Execute(context.Background(), &store.Account{}, "tok", simpleRequest())
	require.NoError(t, err)

	var text string
	for _, ev := range collectStream(t, stream) {
		if ev.Type == anthropic.EventContentBlockDelta {
			text += ev.Delta.Text
		}
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "hello again", text)
}

func TestCursorExecuteToolCallFrames(t *testing.T) {
	srv := frameServer(t, 0x00,
		`{"toolCall":{"id":"tc-1","name":"get_weather","arguments":"{\"city\":"}}`,
		`{"toolCall":{"id":"tc-1","arguments":"\"Oslo\"}","done":true}}`,
		`{"text":"done"}`,
	)
	defer srv.Close()

	stream, err := NewWithClient(srv.Client(), srv.URL).Execute(context.Background(), &store.Account{}, "tok", simpleRequest())
	require.NoError(t, err)

	var starts []string
	var args string
	for _, ev := range collectStream(t, stream) {
		switch ev.Type {
		case anthropic.EventContentBlockStart:
			starts = append(starts, ev.ContentBlock.Type)
		case anthropic.EventContentBlockDelta:
			if ev.Delta.PartialJSON != "" {
				args += ev.Delta.PartialJSON
			}
		}
	}
	assert.Equal(t, []string{"tool_use", "text"}, starts)
	assert.JSONEq(t, `{"city":"Oslo"}`, args)
}

func TestCursorExecuteErrorFrameFailsStream(t *testing.T) {
	srv := frameServer(t, 0x00,
		`{"error":{"code":"resource_exhausted","message":"quota hit"}}`,
	)
	defer srv.Close()

	stream, err := NewWithClient(srv.Client(), srv.URL).Execute(context.Background(), &store.Account{}, "tok", simpleRequest())
	require.NoError(t, err)

	events := collectStream(t, stream)
	assert.Empty(t, events)
	perr, ok := proxyerr.As(stream.Err())
	require.True(t, ok)
	assert.Equal(t, proxyerr.KindRateLimited, perr.Kind)
	assert.Equal(t, "quota hit", perr.Message)
}

func TestCursorExecuteSendsIdentityHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		var buf bytes.Buffer
		writeFrame(&buf, 0x00, []byte(`{"text":"ok"}`))
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	stream, err := NewWithClient(srv.Client(), srv.URL).Execute(context.Background(), &store.Account{}, "sess-tok", simpleRequest())
	require.NoError(t, err)
	collectStream(t, stream)

	assert.Equal(t, "Bearer sess-tok", got.Get("Authorization"))
	assert.Equal(t, "application/connect+json", got.Get("Content-Type"))
	assert.True(t, len(got.Get("X-Cursor-Checksum")) > 64)
	assert.Equal(t, clientKey("sess-tok"), got.Get("x-client-key"))
	assert.NotEmpty(t, got.Get("x-request-id"))
}

func TestCursorExecuteUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.Client(), srv.URL).Execute(context.Background(), &store.Account{}, "tok", simpleRequest())
	assert.True(t, proxyerr.IsKind(err, proxyerr.KindUnauthorized))
}

func TestNewNegotiatesHTTP2WithFallback(t *testing.T) {
	adapter := New()

	// The standard transport keeps HTTP/1.1 available while ALPN upgrades
	// to h2 when offered.
	transport, ok := adapter.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Contains(t, transport.TLSNextProto, "h2")
}

func TestClassifyErrorPayload(t *testing.T) {
	e := classifyErrorPayload([]byte(`{"error":{"code":"unauthenticated","message":"bad token"}}`))
	assert.Equal(t, proxyerr.KindUnauthorized, e.Kind)
	assert.Equal(t, "bad token", e.Message)

	e = classifyErrorPayload([]byte(`{"error":{"code":"resource_exhausted"}}`))
	assert.Equal(t, proxyerr.KindRateLimited, e.Kind)

	e = classifyErrorPayload([]byte(`{"error":{"code":"internal","message":"boom"}}`))
	assert.Equal(t, proxyerr.KindUpstream, e.Kind)

	e = classifyErrorPayload([]byte(`not json`))
	assert.Equal(t, proxyerr.KindUpstream, e.Kind)
}

func TestBuildPayloadFramesChatShape(t *testing.T) {
	body, err := buildPayload(&anthropic.MessagesRequest{
		Model:  "cu/composer-1",
		System: &anthropic.SystemContent{Text: "Be brief."},
		Messages: []anthropic.Message{
			{
				Role: "assistant",
				Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
					{Type: "tool_use", ID: "tc-1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
				}},
			},
			{
				Role: "user",
				Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
					{Type: "tool_result", ToolUseID: "tc-1", Content: "found"},
				}},
			},
		},
	})
	require.NoError(t, err)

	f, err := readFrame(bytes.NewReader(body))
	require.NoError(t, err)

	var payload chatPayload
	require.NoError(t, json.Unmarshal(f.payload, &payload))
	assert.Equal(t, "composer-1", payload.Model)
	assert.True(t, payload.Stream)
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Equal(t, "assistant", payload.Messages[1].Role)
	require.Len(t, payload.Messages[1].ToolCalls, 1)
	assert.Equal(t, `{"q":"x"}`, payload.Messages[1].ToolCalls[0].Arguments)
	assert.Equal(t, "tool", payload.Messages[2].Role)
	assert.Equal(t, "found", payload.Messages[2].Content)
}
