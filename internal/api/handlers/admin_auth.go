package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/api/middleware"
	"github.com/keygate/keygate/internal/auth"
)

// AdminSessionManager issues and revokes admin sessions.
type AdminSessionManager interface {
	Login(w http.ResponseWriter, r *http.Request, password string) (string, time.Time, error)
	Logout(w http.ResponseWriter, r *http.Request, token string) error
}

// LoginRecorder records admin login metrics.
type LoginRecorder interface {
	RecordLogin(success bool)
}

// LoginRequest is the admin login body, accepted as JSON or a form.
type LoginRequest struct {
	Password string `json:"password" form:"password"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminAuthHandler handles admin login and logout.
type AdminAuthHandler struct {
	sessions AdminSessionManager
	recorder LoginRecorder
	logger   zerolog.Logger
}

// NewAdminAuthHandler creates a new AdminAuthHandler. recorder may be nil.
func NewAdminAuthHandler(sessions AdminSessionManager, recorder LoginRecorder, logger zerolog.Logger) *AdminAuthHandler {
	return &AdminAuthHandler{
		sessions: sessions,
		recorder: recorder,
		logger:   logger.With().Str("component", "admin_auth_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the login route on the admin group.
func (h *AdminAuthHandler) RegisterPublicRoutes(r gin.IRouter) {
	r.POST("/login", h.Login)
}

// RegisterRoutes registers routes that require a session.
func (h *AdminAuthHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/logout", h.Logout)
}

// Login checks the admin password and starts a session.
// POST /admin/login
func (h *AdminAuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, expiresAt, err := h.sessions.Login(c.Writer, c.Request, req.Password)
	if h.recorder != nil {
		h.recorder.RecordLogin(err == nil)
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn().Str("client_ip", c.ClientIP()).Msg("admin login rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to start admin session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	h.logger.Info().Str("client_ip", c.ClientIP()).Msg("admin logged in")
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// Logout revokes the current session.
// POST /admin/logout
func (h *AdminAuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Writer, c.Request, middleware.GetSessionToken(c)); err != nil {
		h.logger.Error().Err(err).Msg("failed to end admin session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
