// Package main is the entrypoint for the keygate license server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate/internal/api"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db"
	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/maintenance"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/mongostore"
	"github.com/keygate/keygate/internal/sqlitestore"
	"github.com/keygate/keygate/internal/updates"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// store is what every backend provides to the server.
type store interface {
	license.Store
	updates.Store
	Ping(ctx context.Context) error
	Health() map[string]any
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting keygate server")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", string(cfg.StoreDriver)).Msg("Failed to open license store")
		return 1
	}
	defer closeStore()

	// Admin sessions
	checker, err := auth.NewCredentialChecker(cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize admin credentials")
		return 1
	}
	if cfg.SessionSecret == "" {
		logger.Warn().Msg("SESSION_SECRET not set, admin cookies will not survive a restart")
	}
	cookieCfg, err := auth.DefaultCookieConfig([]byte(cfg.SessionSecret), cfg.IsProduction())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize cookie config")
		return 1
	}
	registry := auth.NewSessionRegistry(auth.RegistryConfig{
		TTL:         cfg.SessionTTL,
		MaxSessions: cfg.MaxSessions,
	}, logger)
	sessions, err := auth.NewAdminSessions(registry, checker, cookieCfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize admin sessions")
		return 1
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	validator := license.NewValidator(license.ValidatorConfig{
		Store:        st,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	})
	manager := license.NewManager(license.ManagerConfig{
		Store:          st,
		StoreTimeout:   cfg.StoreTimeout,
		PresenceWindow: cfg.PresenceWindow,
		Logger:         logger,
	})
	updateService := updates.NewService(st, cfg.StoreTimeout, logger)

	routerCfg := api.DefaultConfig()
	routerCfg.Version = Version
	router := api.NewRouter(routerCfg, api.Dependencies{
		Validator: validator,
		Licenses:  manager,
		Updates:   updateService,
		Sessions:  sessions,
		Store:     st,
		Metrics:   m,
		Gatherer:  reg,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Start maintenance scheduler
	scheduler := maintenance.NewScheduler(registry, manager, m, cfg.MaintenanceSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start maintenance scheduler")
	} else {
		defer scheduler.Stop()
		scheduler.RunNow()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serveErr:
		logger.Error().Err(err).Msg("HTTP server error")
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return exitCode
}

// openStore connects to the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return database, database.Close, nil

	case config.DriverSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close sqlite store")
			}
		}, nil

	case config.DriverMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				logger.Warn().Err(err).Msg("Failed to close mongo store")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
