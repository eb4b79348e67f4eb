package copilot

import (
	"encoding/json"
	"io"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// chatChunk is one chat-completions SSE chunk.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// pumpStream replays a chat-completions stream through the emitter. A new
// tool call index closes the previous block; text arriving after tool
// calls opens a fresh text block, the emitter handles the bookkeeping.
func pumpStream(body io.Reader, emitter *backends.Emitter) {
	stopReason := ""
	currentCall := -1

	err := backends.ScanSSE(body, func(data string) bool {
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			utils.Debug("[copilot] skipping unparseable chunk: %s", utils.TruncateString(data, 120))
			return true
		}
		if chunk.Usage != nil {
			emitter.SetUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			return true
		}
		choice := chunk.Choices[0]

		emitter.EnsureStarted()
		if choice.Delta.Content != "" {
			currentCall = -1
			emitter.Text(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Index != currentCall {
				currentCall = tc.Index
				emitter.StartToolUse(tc.ID, tc.Function.Name)
			}
			emitter.ToolInputDelta(tc.Function.Arguments)
		}

		switch choice.FinishReason {
		case "":
		case "length":
			stopReason = anthropic.StopReasonMaxTokens
		case "tool_calls":
			stopReason = anthropic.StopReasonToolUse
		default:
			stopReason = anthropic.StopReasonEndTurn
		}
		return true
	})
	if err != nil {
		utils.Warn("[copilot] stream read error: %v", err)
	}
	emitter.Finish(stopReason)
}
