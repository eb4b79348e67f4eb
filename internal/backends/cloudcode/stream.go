package cloudcode

import (
	"encoding/json"
	"io"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// ssePayload is one data payload of the streamGenerateContent SSE body.
// The candidates may arrive wrapped in a "response" envelope or bare.
type ssePayload struct {
	Response *sseInner `json:"response,omitempty"`
	sseInner
}

type sseInner struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text         string `json:"text,omitempty"`
				Thought      bool   `json:"thought,omitempty"`
				FunctionCall *struct {
					ID   string         `json:"id"`
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				} `json:"functionCall,omitempty"`
			} `json:"parts,omitempty"`
		} `json:"content,omitempty"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// pumpStream replays a generateContent SSE body through the emitter.
// Function calls arrive whole, not as argument deltas: each one opens a
// tool block, emits the full arguments as one delta and closes the block.
func pumpStream(body io.Reader, emitter *backends.Emitter) {
	stopReason := ""
	err := backends.ScanSSE(body, func(data string) bool {
		var p ssePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			utils.Debug("[cloudcode] skipping unparseable payload: %s", utils.TruncateString(data, 120))
			return true
		}
		inner := &p.sseInner
		if p.Response != nil {
			inner = p.Response
		}

		if inner.UsageMetadata != nil {
			emitter.SetUsage(inner.UsageMetadata.PromptTokenCount, inner.UsageMetadata.CandidatesTokenCount)
		}

		for _, cand := range inner.Candidates {
			if cand.Content != nil {
				emitter.EnsureStarted()
				for _, part := range cand.Content.Parts {
					switch {
					case part.FunctionCall != nil:
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil || len(args) == 0 {
							args = []byte("{}")
						}
						emitter.StartToolUse(part.FunctionCall.ID, part.FunctionCall.Name)
						emitter.ToolInputDelta(string(args))
						emitter.EndToolUse()
					case part.Thought:
						emitter.Thinking(part.Text)
					case part.Text != "":
						emitter.Text(part.Text)
					}
				}
			}
			switch cand.FinishReason {
			case "":
			case "MAX_TOKENS":
				stopReason = anthropic.StopReasonMaxTokens
			default:
				stopReason = anthropic.StopReasonEndTurn
			}
		}
		return true
	})
	if err != nil {
		utils.Warn("[cloudcode] stream read error: %v", err)
	}
	emitter.Finish(stopReason)
}
