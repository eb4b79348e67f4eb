package codex

import (
	"encoding/json"
	"io"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// responsesEvent is the subset of the Responses SSE payload the adapter
// consumes.
type responsesEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Item  *struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
	Response *struct {
		Status            string `json:"status"`
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// pumpStream reads the Responses SSE body and replays it through the
// emitter. Argument deltas are concatenated as they arrive; the full
// arguments echoed on item completion are ignored as redundant.
func pumpStream(body io.Reader, emitter *backends.Emitter) {
	stopReason := ""
	err := backends.ScanSSE(body, func(data string) bool {
		var ev responsesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			utils.Debug("[codex] skipping unparseable event: %s", utils.TruncateString(data, 120))
			return true
		}

		switch ev.Type {
		case "response.created", "response.in_progress":
			emitter.EnsureStarted()

		case "response.output_text.delta":
			emitter.Text(ev.Delta)

		case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
			emitter.Thinking(ev.Delta)

		case "response.output_item.added":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				callID := ev.Item.CallID
				if callID == "" {
					callID = ev.Item.ID
				}
				emitter.StartToolUse(callID, ev.Item.Name)
			}

		case "response.function_call_arguments.delta":
			emitter.ToolInputDelta(ev.Delta)

		case "response.output_item.done":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				emitter.EndToolUse()
			}

		case "response.completed", "response.incomplete":
			if ev.Response != nil {
				if ev.Response.Usage != nil {
					emitter.SetUsage(ev.Response.Usage.InputTokens, ev.Response.Usage.OutputTokens)
				}
				if ev.Response.IncompleteDetails != nil &&
					ev.Response.IncompleteDetails.Reason == "max_output_tokens" {
					stopReason = anthropic.StopReasonMaxTokens
				}
			}
			return false

		case "response.failed", "error":
			msg := "upstream stream failed"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			utils.Warn("[codex] stream error: %s", msg)
			return false
		}
		return true
	})
	if err != nil {
		utils.Warn("[codex] stream read error: %v", err)
	}
	emitter.Finish(stopReason)
}
