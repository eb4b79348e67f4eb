// Package cloudcode adapts the canonical Messages dialect to the Cloud
// Code generateContent API serving Claude and Gemini models.
package cloudcode

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// payload is the wrapped Cloud Code request body.
type payload struct {
	Project     string         `json:"project"`
	Model       string         `json:"model"`
	Request     *geminiRequest `json:"request"`
	UserAgent   string         `json:"userAgent"`
	RequestType string         `json:"requestType"`
	RequestID   string         `json:"requestId"`
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *toolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig *functionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type functionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// buildPayload converts a canonical request to the wrapped Cloud Code body.
func buildPayload(req *anthropic.MessagesRequest, projectID string) *payload {
	tools, hasWebSearch := backends.FilterTools(req.Tools)
	messages := req.Messages
	if hasWebSearch {
		messages = backends.StripWebSearchBlocks(messages)
	}

	inner := &geminiRequest{
		Contents: buildContents(messages),
		GenerationConfig: &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			StopSequences:   req.StopSequences,
		},
	}
	if req.System != nil && req.System.Text != "" {
		inner.SystemInstruction = &geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: req.System.Text}},
		}
	}

	if len(tools) > 0 {
		decls := make([]functionDeclaration, 0, len(tools))
		for _, t := range tools {
			var schema map[string]any
			if len(t.InputSchema) > 0 {
				_ = json.Unmarshal(t.InputSchema, &schema)
			}
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  CleanSchema(schema),
			})
		}
		inner.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if tc := req.ToolChoice; tc != nil {
		mode := ""
		switch tc.Type {
		case "any", "tool":
			mode = "ANY"
		case "none":
			mode = "NONE"
		case "auto":
			mode = "AUTO"
		}
		if mode != "" {
			inner.ToolConfig = &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: mode}}
		}
	}

	return &payload{
		Project:     projectID,
		Model:       config.StripVendorPrefix(req.Model),
		Request:     inner,
		UserAgent:   "cloudcode-proxy",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.NewString(),
	}
}

// buildContents maps canonical turns to Gemini contents: assistant becomes
// "model", tool results become user-role functionResponse parts.
func buildContents(messages []anthropic.Message) []geminiContent {
	var out []geminiContent
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}

		var parts []geminiPart
		for _, b := range m.Content.Blocks {
			switch {
			case b.IsText():
				if b.Text != "" {
					parts = append(parts, geminiPart{Text: b.Text})
				}
			case b.IsThinking():
				if b.Thinking != "" {
					parts = append(parts, geminiPart{Text: b.Thinking, Thought: true})
				}
			case b.IsToolUse():
				var args map[string]any
				if len(b.Input) > 0 {
					_ = json.Unmarshal(b.Input, &args)
				}
				parts = append(parts, geminiPart{FunctionCall: &functionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: args,
				}})
			case b.IsToolResult():
				parts = append(parts, geminiPart{FunctionResponse: &functionResponse{
					ID: b.ToolUseID,
					Response: map[string]any{
						"output": anthropic.FlattenToolResultContent(b.Content),
					},
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}
