package backends

import (
	"encoding/json"

	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// blockKind is the type of the currently open content block.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockTool
)

// Emitter drives the canonical streaming state machine on behalf of an
// adapter. It guarantees the event grammar regardless of what the upstream
// sends: message_start exactly once, dense 0-based block indices, every
// started block stopped, and a stop_reason of tool_use whenever any tool
// block was emitted. An upstream that completes without producing content
// still yields a well-formed message with one empty text block.
type Emitter struct {
	stream    *Stream
	messageID string
	model     string

	started   bool
	nextIndex int
	openIndex int
	openKind  blockKind

	sawToolUse bool
	usage      anthropic.Usage
	hasUsage   bool
}

// NewEmitter creates an emitter writing to the given stream.
func NewEmitter(stream *Stream, model string) *Emitter {
	return &Emitter{
		stream:    stream,
		messageID: anthropic.GenerateMessageID(),
		model:     model,
		openIndex: -1,
	}
}

// MessageID returns the id assigned to the streamed message.
func (e *Emitter) MessageID() string { return e.messageID }

func (e *Emitter) send(ev anthropic.StreamEvent) {
	e.stream.events <- ev
}

// EnsureStarted emits message_start once.
func (e *Emitter) EnsureStarted() {
	if e.started {
		return
	}
	e.started = true
	e.send(anthropic.StreamEvent{
		Type: anthropic.EventMessageStart,
		Message: &anthropic.MessagesResponse{
			ID:      e.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   e.model,
			Content: []anthropic.ContentBlock{},
			Usage:   &anthropic.Usage{},
		},
	})
}

func (e *Emitter) closeOpenBlock() {
	if e.openKind == blockNone {
		return
	}
	e.send(anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: e.openIndex})
	e.openKind = blockNone
	e.openIndex = -1
}

func (e *Emitter) openBlock(kind blockKind, block anthropic.ContentBlock) int {
	e.EnsureStarted()
	e.closeOpenBlock()
	idx := e.nextIndex
	e.nextIndex++
	e.openIndex = idx
	e.openKind = kind
	e.send(anthropic.StreamEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        idx,
		ContentBlock: &block,
	})
	return idx
}

// Text appends a text delta, opening a text block if none is open.
func (e *Emitter) Text(text string) {
	if text == "" {
		return
	}
	if e.openKind != blockText {
		e.openBlock(blockText, anthropic.ContentBlock{Type: "text", Text: ""})
	}
	e.send(anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: e.openIndex,
		Delta: &anthropic.Delta{Type: "text_delta", Text: text},
	})
}

// Thinking appends a thinking delta, opening a thinking block if needed.
func (e *Emitter) Thinking(text string) {
	if text == "" {
		return
	}
	if e.openKind != blockThinking {
		e.openBlock(blockThinking, anthropic.ContentBlock{Type: "thinking", Thinking: ""})
	}
	e.send(anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: e.openIndex,
		Delta: &anthropic.Delta{Type: "thinking_delta", Thinking: text},
	})
}

// StartToolUse opens a tool_use block, closing any open text first. A
// missing id gets a generated one.
func (e *Emitter) StartToolUse(id, name string) {
	if id == "" {
		id = anthropic.GenerateToolUseID()
	}
	e.sawToolUse = true
	e.openBlock(blockTool, anthropic.ContentBlock{
		Type:  "tool_use",
		ID:    id,
		Name:  name,
		Input: json.RawMessage("{}"),
	})
}

// ToolInputDelta appends a partial-JSON delta to the open tool block.
// Ignored when no tool block is open.
func (e *Emitter) ToolInputDelta(partial string) {
	if e.openKind != blockTool || partial == "" {
		return
	}
	e.send(anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: e.openIndex,
		Delta: &anthropic.Delta{Type: "input_json_delta", PartialJSON: partial},
	})
}

// EndToolUse closes the open tool block, if any.
func (e *Emitter) EndToolUse() {
	if e.openKind == blockTool {
		e.closeOpenBlock()
	}
}

// SetUsage records token usage to report on message_delta.
func (e *Emitter) SetUsage(inputTokens, outputTokens int) {
	e.usage = anthropic.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	e.hasUsage = true
}

// HasContent reports whether any block was ever opened.
func (e *Emitter) HasContent() bool { return e.nextIndex > 0 }

// Finish closes any open block and emits message_delta plus message_stop,
// then closes the stream. An empty stopReason defaults to end_turn; the
// presence of any tool_use block forces tool_use regardless.
func (e *Emitter) Finish(stopReason string) {
	e.EnsureStarted()
	if e.nextIndex == 0 {
		// Upstream finished without content: synthesize one empty block so
		// clients always see a valid message.
		e.openBlock(blockText, anthropic.ContentBlock{Type: "text", Text: ""})
	}
	e.closeOpenBlock()

	if stopReason == "" {
		stopReason = anthropic.StopReasonEndTurn
	}
	if e.sawToolUse {
		stopReason = anthropic.StopReasonToolUse
	}

	ev := anthropic.StreamEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: &anthropic.Delta{StopReason: stopReason},
	}
	if e.hasUsage {
		ev.Usage = &e.usage
	}
	e.send(ev)
	e.send(anthropic.StreamEvent{Type: anthropic.EventMessageStop})
	e.stream.CloseWithError(nil)
}

// Abort closes the stream with a terminal error, without emitting stop
// events. Only valid mid-stream; before any event the adapter should
// return the error instead.
func (e *Emitter) Abort(err error) {
	e.stream.CloseWithError(err)
}
