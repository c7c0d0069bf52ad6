// Package handlers contains the gin handlers for the keygate HTTP API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/license"
)

// Validator decides validation outcomes.
type Validator interface {
	Validate(ctx context.Context, rawKey, hwid string) (license.Status, error)
}

// ValidationRecorder records validation metrics.
type ValidationRecorder interface {
	RecordValidation(status license.Status, err error, elapsed time.Duration)
}

// ValidateRequest is the client validation request body.
type ValidateRequest struct {
	Key  string `json:"key"`
	HWID string `json:"hwid"`
}

// ValidateResponse carries the validation outcome.
type ValidateResponse struct {
	Status license.Status `json:"status"`
}

// ValidateHandler serves the client validation endpoint.
type ValidateHandler struct {
	validator Validator
	recorder  ValidationRecorder
	logger    zerolog.Logger
}

// NewValidateHandler creates a new ValidateHandler. recorder may be nil.
func NewValidateHandler(validator Validator, recorder ValidationRecorder, logger zerolog.Logger) *ValidateHandler {
	return &ValidateHandler{
		validator: validator,
		recorder:  recorder,
		logger:    logger.With().Str("component", "validate_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the validation route.
func (h *ValidateHandler) RegisterPublicRoutes(r gin.IRouter) {
	r.POST("/validate", h.Validate)
}

// Validate decides the outcome for a key and HWID pair. Every outcome is
// reported with HTTP 200; only malformed requests and store failures use
// other status codes.
// POST /validate
func (h *ValidateHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	start := time.Now()
	status, err := h.validator.Validate(c.Request.Context(), req.Key, req.HWID)
	if h.recorder != nil {
		h.recorder.RecordValidation(status, err, time.Since(start))
	}
	if err != nil {
		h.logger.Error().Err(err).
			Str("key_id", license.ShortID(license.HashKey(req.Key))).
			Msg("validation failed")
		serviceUnavailable(c)
		return
	}

	c.JSON(http.StatusOK, ValidateResponse{Status: status})
}

func serviceUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
}
