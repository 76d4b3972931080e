// SPDX-License-Identifier: MIT

// Package api implements the kiosk-facing HTTP surface: login, card
// transformation intake, job status, video generation, final card storage
// and print submission. Handlers never call the image model directly; card
// work goes through the queue so the dispatcher owns pacing. Only the
// video endpoints talk to the provider inline, behind a circuit breaker.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventkiosk/cardforge/internal/api/middleware"
	"github.com/eventkiosk/cardforge/internal/bedrock"
	"github.com/eventkiosk/cardforge/internal/config"
	"github.com/eventkiosk/cardforge/internal/health"
	"github.com/eventkiosk/cardforge/internal/jobs"
	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/objstore"
	"github.com/eventkiosk/cardforge/internal/queue"
	"github.com/eventkiosk/cardforge/internal/resilience"
)

// VideoProvider is the async video generation surface the API needs. Nil
// disables the video actions.
type VideoProvider interface {
	StartVideo(ctx context.Context, jpeg []byte, prompt string) (string, error)
	Status(ctx context.Context, invocationARN string) (*bedrock.VideoStatus, error)
}

// Deps holds all dependencies for the API server.
type Deps struct {
	Config  *config.Config
	Jobs    jobs.Store
	Queue   queue.Queue
	Ledger  *ledger.Ledger
	Objects objstore.Store
	Video   VideoProvider
	Breaker *resilience.Breaker
	Health  *health.Manager
}

// Server carries the wired dependencies behind the HTTP handlers.
type Server struct {
	cfg     *config.Config
	jobs    jobs.Store
	queue   queue.Queue
	ledger  *ledger.Ledger
	objects objstore.Store
	video   VideoProvider
	breaker *resilience.Breaker
	health  *health.Manager
	trusted []*net.IPNet

	// now is injectable for token expiry tests.
	now func() time.Time
}

// New constructs the API server. Deps.Config, Jobs, Queue, Ledger and
// Objects are required; Video may be nil when no video model is configured.
func New(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		jobs:    deps.Jobs,
		queue:   deps.Queue,
		ledger:  deps.Ledger,
		objects: deps.Objects,
		video:   deps.Video,
		breaker: deps.Breaker,
		health:  deps.Health,
		trusted: middleware.ParseCIDRs(deps.Config.TrustedProxies),
		now:     func() time.Time { return time.Now().UTC() },
	}
	return s
}

// Handler builds the routed HTTP handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	tracingService := ""
	if s.cfg.OTELEnabled {
		tracingService = "cardforge"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins:  s.cfg.AllowedOrigins,
		CSP:             middleware.DefaultCSP,
		TrustedProxies:  s.trusted,
		EnableMetrics:   true,
		TracingService:  tracingService,
		EnableLogging:   true,
		RateLimitPerMin: s.cfg.RateLimitPerMin,
		RateLimitKey:    s.rateLimitKey,
	})

	if s.health != nil {
		r.Get("/health", s.health.ServeHealth)
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}

	r.Group(func(pub chi.Router) {
		pub.Use(middleware.LoginRateLimit(s.cfg.LoginRatePerMin, s.rateLimitKey))
		pub.Post("/api/login", s.handleLogin)
	})

	r.Group(func(priv chi.Router) {
		priv.Use(s.authMiddleware)
		priv.Post("/api/transform-card", s.handleTransformCard)
		priv.Post("/api/store-card", s.handleStoreCard)
		priv.Post("/api/print-card", s.handlePrintCard)
	})

	return r
}

// rateLimitKey buckets rate limiting by resolved client identity, so kiosks
// behind the same proxy do not share one bucket.
func (s *Server) rateLimitKey(r *http.Request) (string, error) {
	ident := s.identify(r)
	return ident.IP, nil
}
