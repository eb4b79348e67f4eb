// Package copilot adapts the canonical Messages dialect to the GitHub
// Copilot chat-completions protocol, including the short-lived bearer
// tokens Copilot mints from a long-lived device token.
package copilot

import (
	"encoding/json"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// buildRequest converts a canonical request to the chat-completions
// dialect. The adapter always streams and aggregates for non-streaming
// callers upstreamward of here.
func buildRequest(req *anthropic.MessagesRequest) *chatRequest {
	tools, hasWebSearch := backends.FilterTools(req.Tools)
	messages := req.Messages
	if hasWebSearch {
		// Copilot has no native search tool; the blocks still have to go
		// since the tool is no longer declared.
		messages = backends.StripWebSearchBlocks(messages)
	}

	out := &chatRequest{
		Model:       config.StripVendorPrefix(req.Model),
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	if req.System != nil && req.System.Text != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System.Text})
	}
	out.Messages = append(out.Messages, buildMessages(messages)...)

	for _, t := range tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if tc := req.ToolChoice; tc != nil {
		switch tc.Type {
		case "any":
			out.ToolChoice = "required"
		case "tool":
			out.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": tc.Name},
			}
		case "none":
			out.ToolChoice = "none"
		default:
			out.ToolChoice = "auto"
		}
	}
	return out
}

// buildMessages flattens canonical turns into the chat shape: tool results
// become their own "tool" role messages and assistant tool_use blocks ride
// on the assistant message as tool_calls.
func buildMessages(messages []anthropic.Message) []chatMessage {
	var out []chatMessage
	for _, m := range messages {
		var text string
		var calls []toolCall
		var toolResults []chatMessage

		for _, b := range m.Content.Blocks {
			switch {
			case b.IsText():
				if b.Text != "" {
					if text != "" {
						text += "\n"
					}
					text += b.Text
				}
			case b.IsToolUse():
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, toolCall{
					ID:       b.ID,
					Type:     "function",
					Function: functionCall{Name: b.Name, Arguments: args},
				})
			case b.IsToolResult():
				toolResults = append(toolResults, chatMessage{
					Role:       "tool",
					ToolCallID: b.ToolUseID,
					Content:    anthropic.FlattenToolResultContent(b.Content),
				})
			}
		}

		// Tool results precede the turn's own text in the chat dialect.
		out = append(out, toolResults...)
		if text != "" || len(calls) > 0 {
			out = append(out, chatMessage{Role: m.Role, Content: text, ToolCalls: calls})
		}
	}
	return out
}
