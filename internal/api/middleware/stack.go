// SPDX-License-Identifier: MIT

// Package middleware provides the canonical HTTP ingress stack for the
// cardforge API listener. Both the kiosk endpoints and the operations
// endpoints go through the same stack so cross-cutting behavior cannot
// drift between them.
package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventkiosk/cardforge/internal/log"
)

// StackConfig configures the canonical middleware stack.
type StackConfig struct {
	// CORS
	AllowedOrigins []string

	// Security headers
	CSP            string
	TrustedProxies []*net.IPNet

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting. Zero RateLimitPerMin disables the global limiter.
	RateLimitPerMin int
	RateLimitKey    func(r *http.Request) (string, error)
}

// NewRouter constructs a chi router with the canonical stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical stack to r. Order matters: the recoverer
// is outermost so nothing below it can crash the process, correlation comes
// before anything that logs, and the rate limiter sits innermost so rejected
// requests are still counted and traced.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	r.Use(SecurityHeaders(cfg.CSP, cfg.TrustedProxies))
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimitPerMin > 0 {
		r.Use(RateLimit(RateLimitConfig{
			RequestLimit: cfg.RateLimitPerMin,
			WindowSize:   time.Minute,
			KeyFunc:      cfg.RateLimitKey,
		}))
	}
}
