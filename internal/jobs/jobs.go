// SPDX-License-Identifier: MIT

// Package jobs persists card generation job records and enforces their
// lifecycle: queued -> processing -> completed|failed. Terminal states are
// frozen; a repeated write of the same terminal status is a no-op so that
// queue redeliveries stay idempotent.
package jobs

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no record exists for the given job id.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned when creating a record under an id that
	// is already taken.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrIllegalTransition is returned when a status change would move a
	// record backwards or out of a terminal state.
	ErrIllegalTransition = errors.New("illegal job transition")
)

// Job is one card generation request as tracked from intake to artifact.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Prompt      string     `json:"prompt"`
	SessionID   string     `json:"session_id"`
	ClientIP    string     `json:"client_ip"`
	DeviceID    string     `json:"device_id,omitempty"`
	UserNumber  int        `json:"user_number,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	ArtifactKey string     `json:"s3_key,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// canTransition is the lifecycle table. Same-status terminal writes are
// handled by the callers as idempotent no-ops before consulting it;
// processing -> processing stays legal so a redelivered job can be picked
// up again after a worker died mid-flight.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// applyTransition mutates rec in place once the transition has been ruled
// legal. mutate runs before the timestamps are stamped so it can set the
// artifact key or failure reason.
func applyTransition(rec *Job, to Status, mutate func(*Job), now time.Time) {
	rec.Status = to
	if mutate != nil {
		mutate(rec)
	}
	rec.UpdatedAt = now
	if to.Terminal() {
		t := now
		rec.CompletedAt = &t
	}
}
