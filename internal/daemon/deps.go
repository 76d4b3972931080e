// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Worker is a long-running background component tied to the daemon lifetime:
// the job dispatcher, the capacity sweeper. Run blocks until its context is
// cancelled; returning any other error brings the daemon down.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps contains everything the daemon Manager serves and supervises.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the API server.
	APIHandler http.Handler

	// MetricsAddr is the Prometheus listener address; empty disables it.
	MetricsAddr string

	// MetricsHandler serves the metrics listener when MetricsAddr is set.
	MetricsHandler http.Handler

	// Workers are supervised background loops, started with the servers and
	// stopped before the shutdown hooks run.
	Workers []Worker
}

// Validate checks that the dependencies are usable.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	for _, w := range d.Workers {
		if w.Name == "" || w.Run == nil {
			return fmt.Errorf("%w: %q", ErrInvalidWorker, w.Name)
		}
	}
	return nil
}
