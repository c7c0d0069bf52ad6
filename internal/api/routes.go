// Package api provides the HTTP API for the keygate server.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/api/handlers"
	"github.com/keygate/keygate/internal/api/middleware"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/metrics"
)

// Config holds configuration for the API router.
type Config struct {
	// Version is reported by /health.
	Version string
	// MaxBodyBytes bounds request bodies. Zero uses the middleware default.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version:      "dev",
		MaxBodyBytes: middleware.DefaultMaxBodyBytes,
	}
}

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Validator handlers.Validator
	Licenses  handlers.LicenseManager
	Updates   handlers.UpdateService
	Sessions  *auth.AdminSessions
	Store     handlers.StoreHealthChecker
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = middleware.DefaultMaxBodyBytes
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	// Health and metrics (no auth required)
	handlers.NewHealthHandler(deps.Store, cfg.Version, logger).RegisterPublicRoutes(r.Engine)
	if deps.Gatherer != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Client routes (no auth required)
	var validationRecorder handlers.ValidationRecorder
	var loginRecorder handlers.LoginRecorder
	if deps.Metrics != nil {
		validationRecorder = deps.Metrics
		loginRecorder = deps.Metrics
	}
	handlers.NewValidateHandler(deps.Validator, validationRecorder, logger).RegisterPublicRoutes(r.Engine)

	updatesHandler := handlers.NewUpdatesHandler(deps.Updates, logger)
	updatesHandler.RegisterPublicRoutes(r.Engine)

	// Admin routes
	admin := r.Engine.Group("/admin")
	authHandler := handlers.NewAdminAuthHandler(deps.Sessions, loginRecorder, logger)
	authHandler.RegisterPublicRoutes(admin)

	authed := admin.Group("")
	authed.Use(middleware.AdminAuth(deps.Sessions, logger))
	authHandler.RegisterRoutes(authed)
	handlers.NewLicensesHandler(deps.Licenses, logger).RegisterRoutes(authed)
	updatesHandler.RegisterRoutes(authed)

	r.Engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.logger.Info().Msg("API router initialized")
	return r
}
