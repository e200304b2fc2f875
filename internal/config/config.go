// Package config loads Lockbook's client/server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (LOCKBOOK_PATH, API_URL, LB_ADMIN_USERS)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is Lockbook's static configuration. Unlike the environment
// variables it is loaded from, LOCKBOOK_PATH/API_URL/LB_ADMIN_USERS don't
// share a common prefix, so bindEnvOverrides applies each one individually rather
// than relying on viper's SetEnvPrefix+AutomaticEnv convention.
type Config struct {
	// WriteablePath is the data directory: local.db, docs/, lb_id.bin.
	WriteablePath string `mapstructure:"writeable_path" validate:"required" yaml:"writeable_path"`

	// ApiUrl is the Lockbook server this client talks to.
	ApiUrl string `mapstructure:"api_url" validate:"required,url" yaml:"api_url"`

	// Logs enables log output.
	Logs bool `mapstructure:"logs" yaml:"logs"`

	// ColoredLogs enables ANSI color in log output.
	ColoredLogs bool `mapstructure:"colored_logs" yaml:"colored_logs"`

	// AdminUsers lists usernames allowed to call admin-only server
	// endpoints. Server-side only; clients never populate this.
	AdminUsers []string `mapstructure:"admin_users" yaml:"admin_users,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// configPath is the path to a YAML config file; an empty string uses the
// default location ($XDG_CONFIG_HOME/lockbook/config.yaml, or
// ~/.config/lockbook/config.yaml).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	bindEnvOverrides(v, cfg)

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error instead of
// a bare validation failure when the writeable path or API URL is missing.
func MustLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w\n\n"+
			"Set LOCKBOOK_PATH and API_URL, or write a config file at %s",
			err, GetDefaultConfigPath())
	}
	return cfg, nil
}

// SaveConfig saves cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills in unspecified fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.WriteablePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.WriteablePath = filepath.Join(home, ".lockbook")
		} else {
			cfg.WriteablePath = ".lockbook"
		}
	}
	if cfg.ApiUrl == "" {
		cfg.ApiUrl = "https://api.lockbook.net"
	}
}

// Validate checks that cfg is usable.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// setupViper configures config-file search. Environment binding happens
// separately in bindEnvOverrides, since the three env vars this package
// reads don't share a common prefix.
func setupViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error); a missing file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// bindEnvOverrides applies LOCKBOOK_PATH/API_URL/LB_ADMIN_USERS on top of
// whatever the config file set, matching the stated environment
// precedence over file values.
func bindEnvOverrides(v *viper.Viper, cfg *Config) {
	if path := os.Getenv("LOCKBOOK_PATH"); path != "" {
		cfg.WriteablePath = path
	}
	if url := os.Getenv("API_URL"); url != "" {
		cfg.ApiUrl = url
	}
	if raw := os.Getenv("LB_ADMIN_USERS"); raw != "" {
		cfg.AdminUsers = parseAdminUsers(raw)
	}
	_ = v
}

// parseAdminUsers splits a comma-separated LB_ADMIN_USERS value, trimming
// whitespace and dropping empty entries.
func parseAdminUsers(raw string) []string {
	parts := strings.Split(raw, ",")
	users := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			users = append(users, p)
		}
	}
	return users
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/lockbook
// if set, otherwise ~/.config/lockbook, falling back to "." if the home
// directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lockbook")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "lockbook")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
