// Package config provides configuration management for keygate.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// StoreDriver selects the license store backend.
type StoreDriver string

const (
	// DriverPostgres stores licenses in PostgreSQL.
	DriverPostgres StoreDriver = "postgres"
	// DriverMongo stores licenses in MongoDB.
	DriverMongo StoreDriver = "mongo"
	// DriverSQLite stores licenses in an embedded SQLite file.
	DriverSQLite StoreDriver = "sqlite"
)

// ServerConfig holds server configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment `envconfig:"ENV" default:"development"`
	ListenAddr  string      `envconfig:"LISTEN_ADDR" default:":8080"`

	StoreDriver   StoreDriver   `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	MongoURI      string        `envconfig:"MONGO_URI"`
	MongoDatabase string        `envconfig:"MONGO_DATABASE" default:"keygate"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"keygate.db"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	AdminPassword     string        `envconfig:"ADMIN_PASSWORD"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	SessionSecret     string        `envconfig:"SESSION_SECRET"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	MaxSessions       int           `envconfig:"MAX_SESSIONS" default:"1024"`

	PresenceWindow      time.Duration `envconfig:"PRESENCE_WINDOW" default:"120s"`
	MaintenanceSchedule string        `envconfig:"MAINTENANCE_SCHEDULE" default:"@every 1m"`
}

// LoadServerConfig reads server configuration from environment variables and
// validates it.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}

	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		cfg.Environment = EnvDevelopment
	}
	cfg.StoreDriver = StoreDriver(strings.ToLower(string(cfg.StoreDriver)))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c ServerConfig) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.PresenceWindow <= 0 {
		return errors.New("PRESENCE_WINDOW must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}
