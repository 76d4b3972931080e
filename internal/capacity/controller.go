// SPDX-License-Identifier: MIT

package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eventkiosk/cardforge/internal/log"
)

var (
	slotsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cardforge_capacity_available_slots",
		Help: "Learned concurrency ceiling for model invocations",
	})
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cardforge_capacity_in_flight",
		Help: "Jobs currently admitted and awaiting completion",
	})
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_capacity_admissions_total",
		Help: "Admission decisions by result",
	}, []string{"decision"})
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_capacity_completions_total",
		Help: "Job completions by outcome",
	}, []string{"outcome"})
	staleSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardforge_capacity_stale_swept_total",
		Help: "In-flight entries aged out by the sweeper",
	})
)

// Admission decision labels.
const (
	decisionAdmitted   = "admitted"
	decisionReadmitted = "readmitted"
	decisionSaturated  = "saturated"
)

// Config tunes the learning rules. Zero values fall back to the defaults
// documented on each field.
type Config struct {
	InitialSlots int           // starting ceiling, default 2
	Ceiling      int           // hard upper bound, default 10
	SuccessStep  int           // grow by one every Nth cumulative success, default 5
	StaleAfter   time.Duration // age out in-flight entries, default 10m
	Clock        func() time.Time
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.InitialSlots < 1 {
		out.InitialSlots = 2
	}
	if out.Ceiling < out.InitialSlots {
		out.Ceiling = 10
	}
	if out.SuccessStep < 1 {
		out.SuccessStep = 5
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 10 * time.Minute
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// Controller serializes all state changes through the store's atomic Update,
// so concurrent workers can never admit past the ceiling.
type Controller struct {
	store Store
	cfg   Config
}

func NewController(store Store, cfg Config) *Controller {
	return &Controller{store: store, cfg: cfg.withDefaults()}
}

// normalize initializes a zero state and repairs invariants after unmarshal.
func (c *Controller) normalize(st *State) {
	if st.InFlight == nil {
		st.InFlight = make(map[string]time.Time)
	}
	if st.AvailableSlots < 1 {
		st.AvailableSlots = c.cfg.InitialSlots
	}
	if st.AvailableSlots > c.cfg.Ceiling {
		st.AvailableSlots = c.cfg.Ceiling
	}
}

// Admit reports whether jobID may start processing. Admission of an id that
// is already in flight is idempotent: the slot stays held, the job proceeds.
func (c *Controller) Admit(ctx context.Context, jobID string) (bool, error) {
	admitted := false
	decision := decisionSaturated
	st, err := c.store.Update(ctx, func(st *State) error {
		c.normalize(st)
		if _, ok := st.InFlight[jobID]; ok {
			admitted = true
			decision = decisionReadmitted
			return nil
		}
		if len(st.InFlight) >= st.AvailableSlots {
			return nil
		}
		st.InFlight[jobID] = c.cfg.Clock().UTC()
		admitted = true
		decision = decisionAdmitted
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("capacity admit: %w", err)
	}
	admissionsTotal.WithLabelValues(decision).Inc()
	c.observe(st)
	if !admitted {
		log.FromContext(ctx).Debug().
			Str(log.FieldComponent, "capacity").
			Str(log.FieldJobID, jobID).
			Int(log.FieldSlots, st.AvailableSlots).
			Int(log.FieldInFlight, len(st.InFlight)).
			Msg("admission deferred, at learned ceiling")
	}
	return admitted, nil
}

// Complete releases jobID's slot and applies the learning rule for outcome.
// Unknown ids still advance the counters; the in-flight set is untouched.
func (c *Controller) Complete(ctx context.Context, jobID string, outcome Outcome) (*State, error) {
	now := c.cfg.Clock().UTC()
	st, err := c.store.Update(ctx, func(st *State) error {
		c.normalize(st)
		delete(st.InFlight, jobID)

		switch outcome {
		case OutcomeSuccess:
			st.TotalSuccesses++
			st.LastSuccess = now
			if st.TotalSuccesses%int64(c.cfg.SuccessStep) == 0 && st.AvailableSlots < c.cfg.Ceiling {
				st.AvailableSlots++
			}
		case OutcomeThrottled:
			st.TotalThrottles++
			st.LastThrottle = now
			// The provider just told us what it tolerates: everything still
			// running. Contract to that level, never below one.
			observed := len(st.InFlight)
			if observed < 1 {
				observed = 1
			}
			st.AvailableSlots = observed
		case OutcomeError:
			// No capacity signal; release the slot only.
		default:
			return fmt.Errorf("unknown outcome %q", outcome)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capacity complete: %w", err)
	}
	completionsTotal.WithLabelValues(string(outcome)).Inc()
	c.observe(st)

	evt := log.FromContext(ctx).Info()
	if outcome == OutcomeThrottled {
		evt = log.FromContext(ctx).Warn()
	}
	evt.
		Str(log.FieldComponent, "capacity").
		Str(log.FieldEvent, "capacity.complete").
		Str(log.FieldJobID, jobID).
		Str(log.FieldOutcome, string(outcome)).
		Int(log.FieldSlots, st.AvailableSlots).
		Int(log.FieldInFlight, len(st.InFlight)).
		Msg("job completed")
	return st, nil
}

// SweepStale drops in-flight entries older than the configured age. Crashed
// workers never call Complete; without this their slots would leak forever.
func (c *Controller) SweepStale(ctx context.Context) (int, error) {
	cutoff := c.cfg.Clock().UTC().Add(-c.cfg.StaleAfter)
	swept := 0
	st, err := c.store.Update(ctx, func(st *State) error {
		c.normalize(st)
		for id, admittedAt := range st.InFlight {
			if admittedAt.Before(cutoff) {
				delete(st.InFlight, id)
				swept++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("capacity sweep: %w", err)
	}
	if swept > 0 {
		staleSweptTotal.Add(float64(swept))
		logger := log.WithComponent("capacity")
		logger.Warn().
			Str(log.FieldEvent, "capacity.sweep").
			Int("swept", swept).
			Int(log.FieldInFlight, len(st.InFlight)).
			Msg("aged out stale in-flight entries")
	}
	c.observe(st)
	return swept, nil
}

// Snapshot returns a copy of the current state for health and introspection.
func (c *Controller) Snapshot(ctx context.Context) (*State, error) {
	st, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &State{}
	}
	c.normalize(st)
	return st, nil
}

// RunSweeper blocks, aging out stale in-flight entries every interval until
// ctx is cancelled.
func (c *Controller) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("capacity.sweeper")
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.SweepStale(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (c *Controller) observe(st *State) {
	if st == nil {
		return
	}
	slotsGauge.Set(float64(st.AvailableSlots))
	inFlightGauge.Set(float64(len(st.InFlight)))
}
