package cursor

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// chunk is one decoded response frame payload.
type chunk struct {
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	ToolCall *struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Done      bool   `json:"done"`
	} `json:"toolCall,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

var errPrefix = []byte(`{"error"`)

// classifyErrorPayload maps an embedded error frame to a classified error.
// Only JSON payloads opening with an "error" key are recognized; anything
// else is surfaced as a generic upstream failure.
func classifyErrorPayload(payload []byte) *proxyerr.Error {
	var wrapped struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return proxyerr.New(proxyerr.KindUpstream, "cursor upstream error: "+utils.TruncateString(string(payload), 200))
	}

	status := wrapped.Error.Status
	switch wrapped.Error.Code {
	case "unauthenticated", "unauthorized", "permission_denied":
		if status == 0 {
			status = http.StatusUnauthorized
		}
	case "resource_exhausted", "rate_limited":
		if status == 0 {
			status = http.StatusTooManyRequests
		}
	}
	if status == 0 {
		status = http.StatusBadGateway
	}

	e := proxyerr.FromStatus(status, string(payload))
	if wrapped.Error.Message != "" {
		e.Message = wrapped.Error.Message
	}
	return e
}

// pumpStream decodes response frames into canonical events. An error frame
// before any content fails the attempt (retryable upstream); one arriving
// mid-stream aborts the committed stream.
func pumpStream(body io.Reader, emitter *backends.Emitter) {
	var toolOpen bool
	for {
		f, err := readFrame(body)
		if err == io.EOF {
			break
		}
		if err != nil {
			utils.Warn("[cursor] frame read error: %v", err)
			if emitter.HasContent() {
				emitter.Abort(proxyerr.Wrap(proxyerr.KindTransport, "cursor stream broke mid-response", err))
				return
			}
			break
		}
		if len(f.payload) == 0 {
			continue
		}

		if bytes.HasPrefix(bytes.TrimSpace(f.payload), errPrefix) {
			perr := classifyErrorPayload(f.payload)
			utils.Warn("[cursor] upstream error frame: %s", perr.Message)
			emitter.Abort(perr)
			return
		}

		var c chunk
		if err := json.Unmarshal(f.payload, &c); err != nil {
			utils.Debug("[cursor] skipping undecodable frame: %s", utils.TruncateString(string(f.payload), 120))
			continue
		}

		emitter.EnsureStarted()
		if c.Thinking != "" {
			emitter.Thinking(c.Thinking)
		}
		if c.Text != "" {
			if toolOpen {
				emitter.EndToolUse()
				toolOpen = false
			}
			emitter.Text(c.Text)
		}
		if c.ToolCall != nil {
			if !toolOpen {
				emitter.StartToolUse(c.ToolCall.ID, c.ToolCall.Name)
				toolOpen = true
			}
			emitter.ToolInputDelta(c.ToolCall.Arguments)
			if c.ToolCall.Done {
				emitter.EndToolUse()
				toolOpen = false
			}
		}
	}
	emitter.Finish(anthropic.StopReasonEndTurn)
}
