// Package backends defines the adapter contract each upstream provider
// implements, plus the shared plumbing they all need: the canonical event
// emitter, SSE scanning and rate-limit reset parsing.
package backends

import (
	"context"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Adapter executes one request attempt against one account of its backend,
// translating between the canonical Messages dialect and the provider's
// wire protocol.
type Adapter interface {
	Backend() config.Backend
	// Execute performs one attempt. Failures before any event is produced
	// come back as a classified error and are retryable; once events flow,
	// the stream is committed and mid-stream errors surface via Stream.Err.
	Execute(ctx context.Context, account *store.Account, token string, req *anthropic.MessagesRequest) (*Stream, error)
}

// Stream carries canonical events from an adapter to the dispatcher. The
// producer closes the channel when done; Err is valid after that.
type Stream struct {
	events chan anthropic.StreamEvent
	err    error
}

// NewStream creates a stream with a small event buffer.
func NewStream() *Stream {
	return &Stream{events: make(chan anthropic.StreamEvent, 32)}
}

// Events returns the event channel.
func (s *Stream) Events() <-chan anthropic.StreamEvent { return s.events }

// Send publishes one event. Only the producing side calls this.
func (s *Stream) Send(ev anthropic.StreamEvent) { s.events <- ev }

// Err returns the terminal error, valid once Events is closed.
func (s *Stream) Err() error { return s.err }

// CloseWithError closes the event channel, recording a terminal error.
func (s *Stream) CloseWithError(err error) {
	s.err = err
	close(s.events)
}

// Registry maps backends to their adapters.
type Registry struct {
	adapters map[config.Backend]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[config.Backend]Adapter)}
}

// Register adds an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Backend()] = a
}

// Get returns the adapter for a backend, or nil.
func (r *Registry) Get(b config.Backend) Adapter {
	return r.adapters[b]
}
