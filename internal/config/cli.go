package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default CLI config directory (~/.keygate).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".keygate"), nil
}

// DefaultConfigPath returns the default CLI config file path (~/.keygate/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds keygatectl state between invocations.
type CLIConfig struct {
	ServerURL    string `yaml:"server_url,omitempty"`
	SessionToken string `yaml:"session_token,omitempty"`
	LicenseKey   string `yaml:"license_key,omitempty"`
	HWID         string `yaml:"hwid,omitempty"`
}

// Validate checks that a server has been configured.
func (c *CLIConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	return nil
}

// IsLoggedIn returns true if an admin session token is stored.
func (c *CLIConfig) IsLoggedIn() bool {
	return c.ServerURL != "" && c.SessionToken != ""
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file holds a session token and possibly a license key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
