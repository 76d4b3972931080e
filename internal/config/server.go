// SPDX-License-Identifier: MIT

package config

import "time"

// ServerConfig holds HTTP server runtime settings. These are operational
// knobs, not deployment configuration, so they carry fixed defaults instead
// of environment variables.
type ServerConfig struct {
	// ListenAddr is the address the API server listens on (e.g. ":8080").
	ListenAddr string

	// MetricsAddr is the Prometheus listener address; empty disables it.
	MetricsAddr string

	// ReadTimeout bounds reading the entire request. Kiosk uploads are
	// multi-megabyte base64 bodies, so this is generous.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response.
	WriteTimeout time.Duration

	// IdleTimeout is how long a keep-alive connection may sit unused.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps request header parsing.
	MaxHeaderBytes int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

const (
	defaultReadTimeout     = 60 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
)

// Server derives the HTTP server runtime settings from the loaded
// configuration.
func (c *Config) Server() ServerConfig {
	return ServerConfig{
		ListenAddr:      c.Listen,
		MetricsAddr:     c.MetricsAddr,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		MaxHeaderBytes:  defaultMaxHeaderBytes,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}
