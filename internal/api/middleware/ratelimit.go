// SPDX-License-Identifier: MIT

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig parameterizes a sliding-window rate limiter.
type RateLimitConfig struct {
	// RequestLimit is the number of requests allowed per window.
	RequestLimit int
	// WindowSize is the sliding window, typically one minute.
	WindowSize time.Duration
	// KeyFunc buckets requests; nil falls back to httprate.KeyByIP. Deploys
	// behind a proxy must supply a resolver-aware key or every kiosk shares
	// the proxy's bucket.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit builds an httprate limiter that answers rejected requests with
// the standard error envelope and a Retry-After header.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"too many requests, please slow down"}`))
		}),
	)
}

// LoginRateLimit is the tighter per-IP bucket in front of credential checks.
func LoginRateLimit(perMinute int, keyFunc func(r *http.Request) (string, error)) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 10
	}
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
		KeyFunc:      keyFunc,
	})
}
