package routing

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/pkg/response"
)

// ConfigRequest is the body of PUT /internal/routing/config.
type ConfigRequest struct {
	Rules            []Rule              `json:"rules"`
	DefaultConnector types.ConnectorType `json:"default_connector"`
}

// GinHandlers contains HTTP handlers for the internal routing endpoints
type GinHandlers struct {
	hub      *Hub
	reloader *Reloader
}

// NewGinHandlers creates the routing handlers. Without a reloader, PUT applies
// the config to the hub only and nothing is persisted.
func NewGinHandlers(hub *Hub, reloader *Reloader) *GinHandlers {
	return &GinHandlers{hub: hub, reloader: reloader}
}

// GetConfigHandler returns the active routing config snapshot
func (h *GinHandlers) GetConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.hub.Config())
	}
}

// UpdateConfigHandler validates, stores and applies a new routing config
func (h *GinHandlers) UpdateConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cfg := &Config{Rules: req.Rules, DefaultConnector: req.DefaultConnector}
		var (
			applied *Config
			err     error
		)
		if h.reloader != nil {
			applied, err = h.reloader.Save(c.Request.Context(), cfg)
		} else if _, err = h.hub.UpdateConfig(cfg); err == nil {
			applied = h.hub.Config()
		}
		if errors.Is(err, ErrInvalidConfig) {
			response.BadRequest(c, err.Error())
			return
		}
		if err != nil {
			response.InternalError(c, "Failed to update routing config")
			return
		}

		response.Success(c, applied)
	}
}

// GetDecisionsHandler lists the recorded routing decisions for a trace id
func (h *GinHandlers) GetDecisionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.hub.db == nil {
			response.NotFound(c, "Decision log is not enabled")
			return
		}
		records, err := h.hub.db.GetDecisionsByTraceID(c.Request.Context(), c.Param("trace_id"))
		if err != nil {
			response.InternalError(c, "Failed to load routing decisions")
			return
		}
		if len(records) == 0 {
			response.NotFound(c, "No routing decisions for trace id")
			return
		}
		response.Success(c, records)
	}
}
