// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/eventkiosk/cardforge/internal/config"
)

// Store persists job records. Implementations must apply Transition as a
// single atomic read-modify-write.
type Store interface {
	// Create inserts a new record. The caller provides the id; the store
	// stamps status queued and the creation timestamps.
	Create(ctx context.Context, job *Job) error
	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Transition moves the record to the given status, applying mutate to
	// the record before persisting. A repeat of the current terminal status
	// returns the stored record untouched; any other write against a
	// terminal record, and any backwards move, fails with
	// ErrIllegalTransition.
	Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (*Job, error)
	// Ping verifies the backing storage is usable.
	Ping(ctx context.Context) error
	Close() error
}

// NewStore creates a Store for the configured backend.
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendBadger:
		return OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown job store backend: %s", backend)
	}
}

// prepareCreate normalizes a record before its first write.
func prepareCreate(job *Job, now time.Time) error {
	if job.ID == "" {
		return fmt.Errorf("job id must not be empty")
	}
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	job.CompletedAt = nil
	return nil
}
