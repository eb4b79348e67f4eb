package cursor

import (
	"encoding/json"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// chatPayload is the intermediate request the frame encoder wraps.
type chatPayload struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Tools           []chatTool    `json:"tools,omitempty"`
	ReasoningEffort string        `json:"reasoningEffort,omitempty"`
	Stream          bool          `json:"stream"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolCalls  []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"toolCalls,omitempty"`
}

type chatTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// buildPayload converts a canonical request to the intermediate shape and
// frames it for the wire.
func buildPayload(req *anthropic.MessagesRequest) ([]byte, error) {
	tools, hasWebSearch := backends.FilterTools(req.Tools)
	messages := req.Messages
	if hasWebSearch {
		messages = backends.StripWebSearchBlocks(messages)
	}

	payload := chatPayload{
		Model:  config.StripVendorPrefix(req.Model),
		Stream: true,
	}
	if req.System != nil && req.System.Text != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System.Text})
	}

	for _, m := range messages {
		var text string
		var msg chatMessage
		msg.Role = m.Role
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
				msg.ToolCalls = append(msg.ToolCalls, struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{ID: b.ID, Name: b.Name, Arguments: args})
			case b.IsToolResult():
				payload.Messages = append(payload.Messages, chatMessage{
					Role:       "tool",
					ToolCallID: b.ToolUseID,
					Content:    anthropic.FlattenToolResultContent(b.Content),
				})
			}
		}
		msg.Content = text
		if msg.Content != "" || len(msg.ToolCalls) > 0 {
			payload.Messages = append(payload.Messages, msg)
		}
	}

	for _, t := range tools {
		payload.Tools = append(payload.Tools, chatTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return encodeRequestBody(raw)
}
