package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// drive runs fn against a fresh emitter and collects every emitted event.
func drive(t *testing.T, fn func(e *Emitter)) []anthropic.StreamEvent {
	t.Helper()
	stream := NewStream()
	go func() {
		fn(NewEmitter(stream, "test-model"))
	}()

	var events []anthropic.StreamEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	require.NoError(t, stream.Err())
	return events
}

func eventTypes(events []anthropic.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestEmitterTextStream(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Text("Hello")
		e.Text(", world")
		e.Finish("")
	})

	assert.Equal(t, []string{
		anthropic.EventMessageStart,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockStop,
		anthropic.EventMessageDelta,
		anthropic.EventMessageStop,
	}, eventTypes(events))

	assert.Equal(t, "text", events[1].ContentBlock.Type)
	assert.Equal(t, "Hello", events[2].Delta.Text)
	assert.Equal(t, anthropic.StopReasonEndTurn, events[5].Delta.StopReason)
}

func TestEmitterEmptyStreamSynthesizesTextBlock(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Finish("")
	})

	assert.Equal(t, []string{
		anthropic.EventMessageStart,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockStop,
		anthropic.EventMessageDelta,
		anthropic.EventMessageStop,
	}, eventTypes(events))
	assert.Equal(t, "text", events[1].ContentBlock.Type)
}

func TestEmitterToolUseForcesStopReason(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Text("thinking about it")
		e.StartToolUse("toolu_abc", "get_weather")
		e.ToolInputDelta(`{"city":`)
		e.ToolInputDelta(`"Paris"}`)
		e.EndToolUse()
		e.Finish("end_turn")
	})

	var stopReason string
	for _, ev := range events {
		if ev.Type == anthropic.EventMessageDelta {
			stopReason = ev.Delta.StopReason
		}
	}
	assert.Equal(t, anthropic.StopReasonToolUse, stopReason)
}

func TestEmitterDenseIndices(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Thinking("hmm")
		e.Text("answer")
		e.StartToolUse("", "lookup")
		e.Finish("")
	})

	var startIndices []int
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart {
			startIndices = append(startIndices, ev.Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, startIndices)

	// Every started block must be stopped, in order.
	var stops []int
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStop {
			stops = append(stops, ev.Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, stops)
}

func TestEmitterGeneratesToolUseID(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.StartToolUse("", "lookup")
		e.Finish("")
	})

	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart {
			assert.Contains(t, ev.ContentBlock.ID, "toolu_")
		}
	}
}

func TestEmitterSingleMessageStart(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.EnsureStarted()
		e.EnsureStarted()
		e.Text("x")
		e.Finish("")
	})

	count := 0
	for _, ev := range events {
		if ev.Type == anthropic.EventMessageStart {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestEmitterUsageOnMessageDelta(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Text("x")
		e.SetUsage(12, 34)
		e.Finish("")
	})

	for _, ev := range events {
		if ev.Type == anthropic.EventMessageDelta {
			require.NotNil(t, ev.Usage)
			assert.Equal(t, 12, ev.Usage.InputTokens)
			assert.Equal(t, 34, ev.Usage.OutputTokens)
		}
	}
}

func TestEmitterInterleavedTextAndTools(t *testing.T) {
	events := drive(t, func(e *Emitter) {
		e.Text("before")
		e.StartToolUse("toolu_1", "first")
		e.EndToolUse()
		e.Text("after")
		e.Finish("")
	})

	// Text after a tool block opens a new block rather than reusing index 0.
	var textStarts int
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock.Type == "text" {
			textStarts++
		}
	}
	assert.Equal(t, 2, textStarts)
}
