// Package sse provides Server-Sent Events response writing.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates an SSE writer; fails when the underlying writer cannot
// flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// SetHeaders sets the SSE response headers.
func (sw *Writer) SetHeaders() {
	sw.w.Header().Set("Content-Type", "text/event-stream")
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent marshals data and writes one named event, flushing after.
func (sw *Writer) WriteEvent(eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WritePing writes a ping event to keep the connection alive.
func (sw *Writer) WritePing() error {
	return sw.WriteEvent("ping", map[string]string{"type": "ping"})
}
