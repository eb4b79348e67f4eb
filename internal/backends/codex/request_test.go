package codex

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

func TestBuildRequestBasics(t *testing.T) {
	temp := 0.5
	out := buildRequest(&anthropic.MessagesRequest{
		Model:       "gpt-5.1-codex",
		System:      &anthropic.SystemContent{Text: "You are terse."},
		MaxTokens:   256,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		}},
	})

	assert.Equal(t, "gpt-5.1-codex", out.Model)
	assert.True(t, strings.HasPrefix(out.Instructions, agentPreamble))
	assert.True(t, strings.HasSuffix(out.Instructions, "You are terse."))
	assert.True(t, out.Stream)
	assert.False(t, out.Store)
	assert.Equal(t, 256, out.MaxTokens)
	require.Len(t, out.Input, 1)
	assert.Equal(t, "message", out.Input[0].Type)
	assert.Equal(t, "input_text", out.Input[0].Content[0].Type)
}

func TestBuildRequestAssistantTextIsOutputText(t *testing.T) {
	out := buildRequest(&anthropic.MessagesRequest{
		Model: "gpt-5.1-codex",
		Messages: []anthropic.Message{{
			Role:    "assistant",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{{Type: "text", Text: "sure"}}},
		}},
	})

	require.Len(t, out.Input, 1)
	assert.Equal(t, "output_text", out.Input[0].Content[0].Type)
}

func TestBuildRequestToolRoundTrip(t *testing.T) {
	out := buildRequest(&anthropic.MessagesRequest{
		Model: "gpt-5.1-codex",
		Messages: []anthropic.Message{
			{
				Role: "assistant",
				Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
					{Type: "text", Text: "checking"},
					{Type: "tool_use", ID: "call_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Oslo"}`)},
				}},
			},
			{
				Role: "user",
				Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
					{Type: "tool_result", ToolUseID: "call_1", Content: "sunny"},
				}},
			},
		},
	})

	require.Len(t, out.Input, 3)
	assert.Equal(t, "message", out.Input[0].Type)
	assert.Equal(t, "function_call", out.Input[1].Type)
	assert.Equal(t, "call_1", out.Input[1].CallID)
	assert.Equal(t, `{"city":"Oslo"}`, out.Input[1].Arguments)
	assert.Equal(t, "function_call_output", out.Input[2].Type)
	assert.Equal(t, "sunny", out.Input[2].Output)
}

func TestBuildRequestEmptyToolInputDefaults(t *testing.T) {
	out := buildRequest(&anthropic.MessagesRequest{
		Model: "gpt-5.1-codex",
		Messages: []anthropic.Message{{
			Role: "assistant",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
				{Type: "tool_use", ID: "call_2", Name: "noop"},
			}},
		}},
	})

	require.Len(t, out.Input, 1)
	assert.Equal(t, "{}", out.Input[0].Arguments)
}

func TestBuildRequestToolDeclarations(t *testing.T) {
	out := buildRequest(&anthropic.MessagesRequest{
		Model: "gpt-5.1-codex",
		Tools: []anthropic.Tool{
			{Name: "get_weather", Description: "Weather lookup", InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
			{Name: "WebSearch"},
		},
	})

	require.Len(t, out.Tools, 2)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Name)
	assert.Contains(t, out.Tools[0].Parameters["properties"], "city")
	assert.Equal(t, "web_search", out.Tools[1].Type)
}

func TestMapToolChoice(t *testing.T) {
	assert.Nil(t, mapToolChoice(nil))
	assert.Equal(t, "auto", mapToolChoice(&anthropic.ToolChoice{Type: "auto"}))
	assert.Equal(t, "required", mapToolChoice(&anthropic.ToolChoice{Type: "any"}))
	assert.Equal(t, "none", mapToolChoice(&anthropic.ToolChoice{Type: "none"}))
	assert.Equal(t,
		map[string]string{"type": "function", "name": "get_weather"},
		mapToolChoice(&anthropic.ToolChoice{Type: "tool", Name: "get_weather"}))
}

func TestBuildRequestDropsThinkingBlocks(t *testing.T) {
	out := buildRequest(&anthropic.MessagesRequest{
		Model: "gpt-5.1-codex",
		Messages: []anthropic.Message{{
			Role: "assistant",
			Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
				{Type: "thinking", Thinking: "hmm"},
				{Type: "text", Text: "answer"},
			}},
		}},
	})

	require.Len(t, out.Input, 1)
	require.Len(t, out.Input[0].Content, 1)
	assert.Equal(t, "answer", out.Input[0].Content[0].Text)
}
