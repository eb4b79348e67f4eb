// Package anthropic defines the canonical Messages API types the proxy
// accepts from clients and emits back to them. Every backend adapter
// converts to and from these shapes.
package anthropic

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered list of content
// blocks on the wire. It always normalizes to blocks internally.
type MessageContent struct {
	Blocks []ContentBlock
}

// UnmarshalJSON accepts both the string and the block-array encodings.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		mc.Blocks = []ContentBlock{{Type: "text", Text: s}}
		return nil
	}
	return json.Unmarshal(data, &mc.Blocks)
}

// MarshalJSON always emits the block-array form.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(mc.Blocks)
}

// ContentBlock is the tagged union of message content variants. Type is the
// discriminator: "text", "tool_use", "tool_result" or "thinking".
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking (opaque to the proxy, passed through or dropped per backend)
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"` // string or []ContentBlock

	// Prompt-caching marker; stripped before any backend sees the request.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl marks a block for prompt caching on the client side.
type CacheControl struct {
	Type string `json:"type"`
}

// Tool declares a callable tool with its JSON-Schema input contract.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice expresses the caller's tool-selection preference.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// SystemContent is either a string or a list of text blocks.
type SystemContent struct {
	Text string
}

// UnmarshalJSON flattens either encoding to a single string.
func (sc *SystemContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		sc.Text = s
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	for i, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if i > 0 && sc.Text != "" {
			sc.Text += "\n\n"
		}
		sc.Text += b.Text
	}
	return nil
}

// MarshalJSON emits the string form.
func (sc SystemContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(sc.Text)
}

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	Stream        bool           `json:"stream,omitempty"`
	System        *SystemContent `json:"system,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Metadata      *Metadata      `json:"metadata,omitempty"`
}

// Metadata carries opaque request tracking fields.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesResponse is the non-streaming response shape.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stop reasons emitted by the proxy.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// Streaming event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is one canonical SSE event.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	// Index is always serialized: clients key block state on it, so the
	// first block's 0 must appear on the wire.
	Index        int               `json:"index"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *Delta            `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
}

// Delta is the payload of content_block_delta and message_delta events.
type Delta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error class and human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(errorType, message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: ErrorDetail{Type: errorType, Message: message}}
}

// Model is one entry of the GET /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the GET /v1/models envelope.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// IsToolUse reports whether the block is a tool invocation.
func (cb *ContentBlock) IsToolUse() bool { return cb.Type == "tool_use" }

// IsToolResult reports whether the block is a tool result.
func (cb *ContentBlock) IsToolResult() bool { return cb.Type == "tool_result" }

// IsText reports whether the block is plain text.
func (cb *ContentBlock) IsText() bool { return cb.Type == "text" }

// IsThinking reports whether the block is an opaque thinking block.
func (cb *ContentBlock) IsThinking() bool { return cb.Type == "thinking" }

// GenerateMessageID returns a fresh message identifier.
func GenerateMessageID() string { return "msg_" + randomHex(24) }

// GenerateToolUseID returns a fresh tool-use identifier.
func GenerateToolUseID() string { return "toolu_" + randomHex(24) }

func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}

// FlattenToolResultContent renders a tool_result content payload (string or
// block list) as a single string for backends that accept only text output.
func FlattenToolResultContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["type"].(string); t == "text" {
				if text, _ := m["text"].(string); text != "" {
					if out != "" {
						out += "\n"
					}
					out += text
				}
			}
		}
		return out
	case []ContentBlock:
		var out string
		for _, b := range v {
			if b.IsText() && b.Text != "" {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
		return out
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
