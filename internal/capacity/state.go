// SPDX-License-Identifier: MIT

// Package capacity implements the adaptive concurrency controller. The
// provider's real concurrency allowance is undocumented and varies per
// deployment, so the controller discovers it: slow additive growth on
// sustained success, immediate contraction to the observed level on throttle.
package capacity

import "time"

// Outcome classifies how an admitted job finished.
type Outcome string

const (
	// OutcomeSuccess is a completed generation.
	OutcomeSuccess Outcome = "success"
	// OutcomeThrottled is a provider throttle or quota-exceeded signal.
	OutcomeThrottled Outcome = "throttled"
	// OutcomeError is any other failure; it carries no capacity signal.
	OutcomeError Outcome = "error"
)

// State is the persisted controller state. It survives restarts so learned
// capacity is never lost to a redeploy.
type State struct {
	// AvailableSlots is the learned concurrency ceiling, never below 1.
	AvailableSlots int `json:"available_slots"`
	// InFlight maps admitted job ids to their admission time, used both for
	// the admission check and for aging out entries leaked by crashed workers.
	InFlight       map[string]time.Time `json:"in_flight"`
	TotalSuccesses int64                `json:"total_successes"`
	TotalThrottles int64                `json:"total_throttles"`
	LastSuccess    time.Time            `json:"last_success"`
	LastThrottle   time.Time            `json:"last_throttle"`
}

// clone returns a deep copy so callers can hold snapshots without aliasing
// the stored map.
func (s *State) clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.InFlight = make(map[string]time.Time, len(s.InFlight))
	for k, v := range s.InFlight {
		out.InFlight[k] = v
	}
	return &out
}
