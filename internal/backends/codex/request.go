// Package codex adapts the canonical Messages dialect to the OpenAI
// Responses protocol used by ChatGPT Codex accounts.
package codex

import (
	"encoding/json"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// agentPreamble fronts every instructions field. The Responses upstream
// expects agent-style instructions, not a bare system message.
const agentPreamble = "You are an autonomous coding agent. Work through the " +
	"user's request end to end, using the provided tools as needed, and only " +
	"stop when the task is complete or genuinely blocked."

// responsesRequest is the Responses API request body.
type responsesRequest struct {
	Model        string          `json:"model"`
	Instructions string          `json:"instructions,omitempty"`
	Input        []inputItem     `json:"input"`
	Tools        []responsesTool `json:"tools,omitempty"`
	ToolChoice   any             `json:"tool_choice,omitempty"`
	Stream       bool            `json:"stream"`
	Store        bool            `json:"store"`
	MaxTokens    int             `json:"max_output_tokens,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
	TopP         *float64        `json:"top_p,omitempty"`
}

// inputItem is one entry of the Responses input list: a message, a
// function call echoed back, or a function call result.
type inputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// responsesTool is a tool declaration. Function tools carry a sanitized
// schema; the web_search entry enables the provider's native search.
type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict"`
}

// buildRequest converts a canonical request to the Responses dialect. The
// upstream only streams, so Stream is always true; non-streaming callers
// get an aggregated reply from the dispatcher.
func buildRequest(req *anthropic.MessagesRequest) *responsesRequest {
	tools, hasWebSearch := backends.FilterTools(req.Tools)
	messages := req.Messages
	if hasWebSearch {
		messages = backends.StripWebSearchBlocks(messages)
	}

	out := &responsesRequest{
		Model:       config.StripVendorPrefix(req.Model),
		Input:       buildInput(messages),
		Stream:      true,
		Store:       false,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	out.Instructions = agentPreamble
	if req.System != nil && req.System.Text != "" {
		out.Instructions = agentPreamble + "\n\n" + req.System.Text
	}

	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		out.Tools = append(out.Tools, responsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  SanitizeToolSchema(schema),
		})
	}
	if hasWebSearch {
		out.Tools = append(out.Tools, responsesTool{Type: "web_search"})
	}

	out.ToolChoice = mapToolChoice(req.ToolChoice)
	return out
}

// mapToolChoice translates the Anthropic tool_choice forms to the OpenAI
// ones: "any" means "required", a named tool becomes a function reference.
func mapToolChoice(tc *anthropic.ToolChoice) any {
	if tc == nil {
		return nil
	}
	switch tc.Type {
	case "any":
		return "required"
	case "tool":
		return map[string]string{"type": "function", "name": tc.Name}
	case "none":
		return "none"
	default:
		return "auto"
	}
}

func buildInput(messages []anthropic.Message) []inputItem {
	var items []inputItem
	for _, m := range messages {
		var textParts []contentPart
		flushText := func() {
			if len(textParts) == 0 {
				return
			}
			items = append(items, inputItem{Type: "message", Role: m.Role, Content: textParts})
			textParts = nil
		}

		partType := "input_text"
		if m.Role == "assistant" {
			partType = "output_text"
		}

		for _, b := range m.Content.Blocks {
			switch {
			case b.IsText():
				if b.Text != "" {
					textParts = append(textParts, contentPart{Type: partType, Text: b.Text})
				}
			case b.IsToolUse():
				flushText()
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				items = append(items, inputItem{
					Type:      "function_call",
					CallID:    b.ID,
					Name:      b.Name,
					Arguments: args,
				})
			case b.IsToolResult():
				flushText()
				items = append(items, inputItem{
					Type:   "function_call_output",
					CallID: b.ToolUseID,
					Output: anthropic.FlattenToolResultContent(b.Content),
				})
			}
			// Thinking blocks are opaque to this dialect and dropped.
		}
		flushText()
	}
	return items
}
