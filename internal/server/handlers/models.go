// Package handlers provides HTTP request handlers for the server.
// This file handles model listing endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// ModelsHandler handles model listing endpoints.
type ModelsHandler struct{}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// ListModels handles GET /v1/models - the union of every backend's declared
// model table, OpenAI-compatible format.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	created := time.Now().Unix()
	var models []anthropic.Model
	for _, b := range config.Backends {
		for _, id := range config.ModelsForBackend(b) {
			models = append(models, anthropic.Model{
				ID:      id,
				Object:  "model",
				Created: created,
				OwnedBy: string(b),
			})
		}
	}

	c.JSON(http.StatusOK, anthropic.ModelsResponse{
		Object: "list",
		Data:   models,
	})
}
