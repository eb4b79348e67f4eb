package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Aggregate drains a canonical stream into one non-streaming response.
// Backends that only speak streaming are always streamed internally; this
// is the collection step for clients that asked for a plain response.
func Aggregate(stream *backends.Stream) (*anthropic.MessagesResponse, error) {
	resp := &anthropic.MessagesResponse{
		Type:       "message",
		Role:       "assistant",
		StopReason: anthropic.StopReasonEndTurn,
		Content:    []anthropic.ContentBlock{},
	}

	type openBlock struct {
		block anthropic.ContentBlock
		text  strings.Builder
	}
	blocks := make(map[int]*openBlock)
	var order []int

	for ev := range stream.Events() {
		switch ev.Type {
		case anthropic.EventMessageStart:
			if ev.Message != nil {
				resp.ID = ev.Message.ID
				resp.Model = ev.Message.Model
			}
		case anthropic.EventContentBlockStart:
			if ev.ContentBlock != nil {
				blocks[ev.Index] = &openBlock{block: *ev.ContentBlock}
				order = append(order, ev.Index)
			}
		case anthropic.EventContentBlockDelta:
			b, ok := blocks[ev.Index]
			if !ok || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				b.text.WriteString(ev.Delta.Text)
			case "thinking_delta":
				b.text.WriteString(ev.Delta.Thinking)
			case "input_json_delta":
				b.text.WriteString(ev.Delta.PartialJSON)
			}
		case anthropic.EventMessageDelta:
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				resp.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				resp.Usage = ev.Usage
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	for _, idx := range order {
		b := blocks[idx]
		switch b.block.Type {
		case "text":
			b.block.Text = b.text.String()
		case "thinking":
			b.block.Thinking = b.text.String()
		case "tool_use":
			input := strings.TrimSpace(b.text.String())
			if input == "" || !json.Valid([]byte(input)) {
				input = "{}"
			}
			b.block.Input = json.RawMessage(input)
		}
		resp.Content = append(resp.Content, b.block)
	}

	if resp.ID == "" {
		resp.ID = anthropic.GenerateMessageID()
	}
	return resp, nil
}
