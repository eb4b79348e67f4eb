// Package handlers provides HTTP request handlers for the server.
// This file handles the Anthropic Messages endpoint.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/dispatch"
	"github.com/lunaroute/polyclaude-proxy/internal/modules"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/server/sse"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// MessagesHandler handles POST /v1/messages.
type MessagesHandler struct {
	dispatcher *dispatch.Dispatcher
	stats      *modules.UsageStats
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(dispatcher *dispatch.Dispatcher, stats *modules.UsageStats) *MessagesHandler {
	return &MessagesHandler{dispatcher: dispatcher, stats: stats}
}

// Messages handles POST /v1/messages for both streaming and non-streaming
// clients. The upstream is always streamed; non-streaming responses are
// aggregated from the stream.
func (h *MessagesHandler) Messages(c *gin.Context) {
	requestID := uuid.NewString()
	c.Header("request-id", requestID)

	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			anthropic.NewErrorResponse("invalid_request_error", "invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		c.JSON(http.StatusBadRequest,
			anthropic.NewErrorResponse("invalid_request_error", "model is required"))
		return
	}

	utils.Info("[API] %s request for %s (stream=%v)", requestID[:8], req.Model, req.Stream)

	stream, err := h.dispatcher.Dispatch(c.Request.Context(), &req)
	if err != nil {
		h.recordFailure(req.Model)
		writeAPIError(c, err)
		return
	}

	if req.Stream {
		h.streamResponse(c, &req, stream)
		return
	}
	h.jsonResponse(c, &req, stream)
}

func (h *MessagesHandler) streamResponse(c *gin.Context, req *anthropic.MessagesRequest, stream *backends.Stream) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			anthropic.NewErrorResponse("api_error", "streaming not supported"))
		return
	}
	writer.SetHeaders()
	c.Status(http.StatusOK)

	var usage anthropic.Usage
	for ev := range stream.Events() {
		if ev.Usage != nil {
			usage = *ev.Usage
		}
		if writeErr := writer.WriteEvent(ev.Type, ev); writeErr != nil {
			// Client went away; drain the rest so the producer can finish.
			for range stream.Events() {
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		h.recordFailure(req.Model)
		// The stream is committed; all we can do is surface the error event.
		_ = writer.WriteEvent(anthropic.EventError, anthropic.StreamEvent{
			Type: anthropic.EventError,
			Error: &anthropic.ErrorDetail{
				Type:    proxyerr.APIErrorType(err),
				Message: err.Error(),
			},
		})
		return
	}
	h.recordRequest(req.Model, usage)
}

func (h *MessagesHandler) jsonResponse(c *gin.Context, req *anthropic.MessagesRequest, stream *backends.Stream) {
	resp, err := dispatch.Aggregate(stream)
	if err != nil {
		h.recordFailure(req.Model)
		writeAPIError(c, err)
		return
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Usage != nil {
		h.recordRequest(req.Model, *resp.Usage)
	} else {
		h.recordRequest(req.Model, anthropic.Usage{})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) recordRequest(model string, usage anthropic.Usage) {
	if h.stats == nil {
		return
	}
	if backend, ok := config.BackendForModel(model); ok {
		h.stats.RecordRequest(backend, model, usage.InputTokens, usage.OutputTokens)
	}
}

func (h *MessagesHandler) recordFailure(model string) {
	if h.stats == nil {
		return
	}
	if backend, ok := config.BackendForModel(model); ok {
		h.stats.RecordFailure(backend, model)
	}
}

// CountTokens handles POST /v1/messages/count_tokens with a rough estimate;
// no backend exposes a real tokenizer endpoint.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			anthropic.NewErrorResponse("invalid_request_error", "invalid request body"))
		return
	}

	chars := 0
	if req.System != nil {
		chars += len(req.System.Text)
	}
	for _, m := range req.Messages {
		for _, b := range m.Content.Blocks {
			chars += len(b.Text) + len(b.Thinking) + len(b.Input)
		}
	}
	// ~4 chars per token is close enough for budgeting.
	c.JSON(http.StatusOK, gin.H{"input_tokens": chars / 4})
}

// writeAPIError maps a classified error onto the Anthropic error envelope.
func writeAPIError(c *gin.Context, err error) {
	status := proxyerr.ClientStatus(err)
	envelope := anthropic.NewErrorResponse(proxyerr.APIErrorType(err), err.Error())
	if perr, ok := proxyerr.As(err); ok && perr.RetryAfterMs > 0 {
		c.Header("Retry-After", strconv.FormatInt((perr.RetryAfterMs+999)/1000, 10))
	}
	c.JSON(status, envelope)
}
