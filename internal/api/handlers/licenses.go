package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/license"
)

// LicenseManager performs the admin license operations.
type LicenseManager interface {
	Create(ctx context.Context, rawKey, label string) (*license.CreateResult, error)
	Ban(ctx context.Context, rawKey string) error
	Unban(ctx context.Context, rawKey string) error
	Delete(ctx context.Context, rawKey string) error
	List(ctx context.Context) (*license.Listing, error)
	Stats(ctx context.Context) (*license.Stats, error)
	Describe(lic *license.License) license.View
}

// CreateLicenseRequest is the body for creating a license. An empty key asks
// the server to generate one.
type CreateLicenseRequest struct {
	Key   string `json:"key" form:"key"`
	Label string `json:"label" form:"label"`
}

// CreateLicenseResponse describes the created license. Key is only set when
// the server generated it, since it cannot be recovered later.
type CreateLicenseResponse struct {
	License license.View `json:"license"`
	Key     string       `json:"key,omitempty"`
}

// LicenseKeyRequest names a license by its plaintext key.
type LicenseKeyRequest struct {
	Key string `json:"key" form:"key" binding:"required"`
}

// LicensesHandler handles the admin license endpoints.
type LicensesHandler struct {
	manager LicenseManager
	logger  zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(manager LicenseManager, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		manager: manager,
		logger:  logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the authenticated admin group.
func (h *LicensesHandler) RegisterRoutes(r gin.IRouter) {
	licenses := r.Group("/licenses")
	{
		licenses.GET("", h.List)
		licenses.POST("", h.Create)
		licenses.POST("/ban", h.Ban)
		licenses.POST("/unban", h.Unban)
		licenses.POST("/delete", h.Delete)
	}
	r.GET("/stats", h.Stats)
}

// List returns every license with presence and the online count.
// GET /admin/licenses
func (h *LicensesHandler) List(c *gin.Context) {
	listing, err := h.manager.List(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		serviceUnavailable(c)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Create creates a license.
// POST /admin/licenses
func (h *LicensesHandler) Create(c *gin.Context) {
	var req CreateLicenseRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.manager.Create(c.Request.Context(), req.Key, req.Label)
	if err != nil {
		switch {
		case errors.Is(err, license.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "license already exists"})
		case errors.Is(err, license.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error().Err(err).Msg("failed to create license")
			serviceUnavailable(c)
		}
		return
	}

	resp := CreateLicenseResponse{License: h.manager.Describe(result.License)}
	if result.Generated {
		resp.Key = result.Key
	}
	c.JSON(http.StatusCreated, resp)
}

// Ban deactivates a license.
// POST /admin/licenses/ban
func (h *LicensesHandler) Ban(c *gin.Context) {
	h.mutate(c, h.manager.Ban, "banned")
}

// Unban reactivates a license and clears its device binding.
// POST /admin/licenses/unban
func (h *LicensesHandler) Unban(c *gin.Context) {
	h.mutate(c, h.manager.Unban, "unbanned")
}

// Delete removes a license. Unknown keys succeed.
// POST /admin/licenses/delete
func (h *LicensesHandler) Delete(c *gin.Context) {
	h.mutate(c, h.manager.Delete, "deleted")
}

func (h *LicensesHandler) mutate(c *gin.Context, op func(context.Context, string) error, done string) {
	var req LicenseKeyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := op(c.Request.Context(), req.Key); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("op", done).Msg("license mutation failed")
		serviceUnavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "license " + done})
}

// Stats returns aggregate license counts.
// GET /admin/stats
func (h *LicensesHandler) Stats(c *gin.Context) {
	stats, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load license stats")
		serviceUnavailable(c)
		return
	}
	c.JSON(http.StatusOK, stats)
}
