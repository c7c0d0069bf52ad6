package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/updates"
)

// UpdateService serves and publishes update pointers.
type UpdateService interface {
	Latest(ctx context.Context) (*updates.Pointer, error)
	Publish(ctx context.Context, version, url, sha256 string) (*updates.Pointer, error)
}

// UpdateResponse is the client update check response.
type UpdateResponse struct {
	Update  bool   `json:"update"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
}

// PublishUpdateRequest is the admin body for publishing an update.
type PublishUpdateRequest struct {
	Version string `json:"version" form:"version"`
	URL     string `json:"url" form:"url"`
	SHA256  string `json:"sha256" form:"sha256"`
}

// UpdatesHandler handles the update pointer endpoints.
type UpdatesHandler struct {
	service UpdateService
	logger  zerolog.Logger
}

// NewUpdatesHandler creates a new UpdatesHandler.
func NewUpdatesHandler(service UpdateService, logger zerolog.Logger) *UpdatesHandler {
	return &UpdatesHandler{
		service: service,
		logger:  logger.With().Str("component", "updates_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the client update check.
func (h *UpdatesHandler) RegisterPublicRoutes(r gin.IRouter) {
	r.GET("/update", h.Latest)
}

// RegisterRoutes registers the publish route on the authenticated admin group.
func (h *UpdatesHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/updates", h.Publish)
}

// Latest reports the latest published update.
// GET /update
func (h *UpdatesHandler) Latest(c *gin.Context) {
	p, err := h.service.Latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, updates.ErrNoUpdate) {
			c.JSON(http.StatusOK, UpdateResponse{Update: false})
			return
		}
		h.logger.Error().Err(err).Msg("failed to load latest update")
		serviceUnavailable(c)
		return
	}

	c.JSON(http.StatusOK, UpdateResponse{
		Update:  true,
		Version: p.Version,
		URL:     p.URL,
		SHA256:  p.SHA256,
	})
}

// Publish publishes a new update pointer.
// POST /admin/updates
func (h *UpdatesHandler) Publish(c *gin.Context) {
	var req PublishUpdateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.service.Publish(c.Request.Context(), req.Version, req.URL, req.SHA256)
	if err != nil {
		if errors.Is(err, updates.ErrInvalidPointer) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to publish update")
		serviceUnavailable(c)
		return
	}

	c.JSON(http.StatusCreated, p)
}
