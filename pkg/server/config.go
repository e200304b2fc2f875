package server

import (
	"time"

	"github.com/lockbook/lockbook/pkg/crypto"
)

// Config configures the Lockbook HTTP server.
type Config struct {
	// Port is the HTTP port the server listens on. Default: 8080.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading an entire request.
	// Default: 10s.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out a response
	// write. Default: 10s.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is how long to wait for the next keep-alive request.
	// Default: 60s.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ClockSkew bounds how far a request's signed timestamp may drift from
	// the server's clock before it is rejected (enforced by
	// pkg/server/authtoken). Default: crypto.DefaultSkewWindow.
	ClockSkew crypto.SkewWindow `mapstructure:"-"`

	// MinClientVersion rejects requests from older clients with
	// ErrClientUpdateRequired. Empty means no minimum is enforced.
	MinClientVersion string `mapstructure:"min_client_version"`

	// UsageCap is the flat per-account byte budget reported by GetUsage.
	// Zero means unlimited.
	UsageCap uint64 `mapstructure:"usage_cap"`

	// AdminUsers lists usernames allowed to call admin_purge
	// (LB_ADMIN_USERS, server-side only).
	AdminUsers []string `mapstructure:"-"`
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ClockSkew == (crypto.SkewWindow{}) {
		c.ClockSkew = crypto.DefaultSkewWindow
	}
}
