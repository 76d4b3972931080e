// SPDX-License-Identifier: MIT

// Package dispatch drains the job queue and drives card generation.
//
// The dispatcher is the only queue consumer. Each worker handles at most one
// message per receive cycle and never extends visibility or requeues
// explicitly: a message it does not acknowledge simply reappears, at its
// original position, once the visibility window lapses. That single rule
// gives ordered intake, capacity backpressure, and crash recovery without
// any coordination between workers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eventkiosk/cardforge/internal/bedrock"
	"github.com/eventkiosk/cardforge/internal/capacity"
	"github.com/eventkiosk/cardforge/internal/jobs"
	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/log"
	"github.com/eventkiosk/cardforge/internal/queue"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_dispatch_cycles_total",
		Help: "Dispatch cycles by result",
	}, []string{"result"})
	receiveErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardforge_dispatch_receive_errors_total",
		Help: "Failed queue receives",
	})
	jobSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardforge_dispatch_job_duration_seconds",
		Help:    "Admission-to-outcome duration of model invocations",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"outcome"})
)

// Cycle results.
const (
	resultProcessed   = "processed"   // terminal outcome reached, message acknowledged
	resultDeferred    = "deferred"    // left unacknowledged for redelivery
	resultEmpty       = "empty"       // nothing to receive
	resultRedelivered = "redelivered" // record already terminal, duplicate delivery dropped
	resultDiscarded   = "discarded"   // poison message dropped
)

// Envelope is the queue message schema. ClientIP rides along so the worker
// can account against the ledger without re-deriving identity.
type Envelope struct {
	JobID       string `json:"job_id"`
	Prompt      string `json:"prompt"`
	UserNumber  int    `json:"user_number,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	ClientIP    string `json:"client_ip"`
}

// ImageGenerator is the model call the dispatcher drives. Errors are
// classified with bedrock.Classify.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Config tunes the worker loops. Zero values fall back to the defaults
// documented on each field.
type Config struct {
	Workers     int           // concurrent workers, default 2
	BatchSize   int           // receive batch upper bound, default 5
	WaitTime    time.Duration // long-poll wait on receive, default 5s
	IdleDelay   time.Duration // pause after an empty receive or receive error, default 2s
	RetryBudget int           // receive count budget for transient model errors, default 1
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers < 1 {
		out.Workers = 2
	}
	if out.BatchSize < 1 {
		out.BatchSize = 5
	}
	if out.WaitTime <= 0 {
		out.WaitTime = 5 * time.Second
	}
	if out.IdleDelay <= 0 {
		out.IdleDelay = 2 * time.Second
	}
	if out.RetryBudget < 1 {
		out.RetryBudget = 1
	}
	return out
}

// Dispatcher owns the consume side of the queue.
type Dispatcher struct {
	queue    queue.Queue
	store    jobs.Store
	capacity *capacity.Controller
	ledger   *ledger.Ledger
	model    ImageGenerator
	cfg      Config
}

// New wires a dispatcher. Run must be called to start consuming.
func New(q queue.Queue, store jobs.Store, ctrl *capacity.Controller, led *ledger.Ledger, model ImageGenerator, cfg Config) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		store:    store,
		capacity: ctrl,
		ledger:   led,
		model:    model,
		cfg:      cfg.withDefaults(),
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled. The returned error is ctx.Err() on orderly shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := log.WithComponent("dispatch")
	logger.Info().
		Int("workers", d.cfg.Workers).
		Int("batch_size", d.cfg.BatchSize).
		Int("retry_budget", d.cfg.RetryBudget).
		Msg("dispatcher starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.workerLoop(ctx, worker)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) error {
	logger := log.WithComponent("dispatch").With().Int("worker", worker).Logger()
	logger.Debug().Msg("worker started")

	for {
		if err := ctx.Err(); err != nil {
			logger.Debug().Msg("worker stopping")
			return err
		}

		result := d.cycle(ctx, logger)
		cyclesTotal.WithLabelValues(result).Inc()

		if result == resultEmpty {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.IdleDelay):
			}
		}
	}
}

// cycle performs one receive-and-process round. Only the first received
// message is handled; the remainder fall back into visibility untouched so
// nothing ever overtakes the queue head.
func (d *Dispatcher) cycle(ctx context.Context, logger zerolog.Logger) string {
	msgs, err := d.queue.Receive(ctx, d.cfg.BatchSize, d.cfg.WaitTime)
	if err != nil {
		if ctx.Err() != nil {
			return resultEmpty
		}
		receiveErrorsTotal.Inc()
		logger.Error().Err(err).Msg("queue receive failed")
		return resultEmpty
	}
	if len(msgs) == 0 {
		return resultEmpty
	}

	msg := msgs[0]
	if len(msgs) > 1 {
		logger.Debug().Int("returned_to_queue", len(msgs)-1).Msg("processing head of batch only")
	}

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil || env.JobID == "" {
		logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping undecodable message")
		d.ack(ctx, logger, msg)
		return resultDiscarded
	}

	logger = logger.With().
		Str(log.FieldJobID, env.JobID).
		Str(log.FieldClientIP, env.ClientIP).
		Int(log.FieldReceiveCount, msg.ReceiveCount).
		Logger()

	rec, err := d.store.Get(ctx, env.JobID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		// Poison tolerance: a message without a record can never complete.
		logger.Warn().Msg("dropping message without job record")
		d.ack(ctx, logger, msg)
		return resultDiscarded
	case err != nil:
		logger.Error().Err(err).Msg("job store read failed, leaving message for redelivery")
		return resultDeferred
	}
	if rec.Status.Terminal() {
		// Redelivery after a successful run must not generate twice.
		logger.Debug().Str("status", string(rec.Status)).Msg("record already terminal, dropping duplicate delivery")
		d.ack(ctx, logger, msg)
		return resultRedelivered
	}

	admitted, err := d.capacity.Admit(ctx, env.JobID)
	if err != nil {
		logger.Error().Err(err).Msg("admission check failed, leaving message for redelivery")
		return resultDeferred
	}
	if !admitted {
		logger.Debug().Msg("capacity saturated, deferring")
		return resultDeferred
	}

	return d.process(ctx, logger, msg, env)
}

// process runs an admitted job to an outcome. Every path out of here settles
// the capacity slot exactly once.
func (d *Dispatcher) process(ctx context.Context, logger zerolog.Logger, msg queue.Message, env Envelope) string {
	if _, err := d.store.Transition(ctx, env.JobID, jobs.StatusProcessing, nil); err != nil {
		if errors.Is(err, jobs.ErrIllegalTransition) {
			// Raced to terminal between the Get and now.
			d.settle(ctx, logger, env.JobID, capacity.OutcomeError)
			d.ack(ctx, logger, msg)
			return resultRedelivered
		}
		logger.Error().Err(err).Msg("could not mark job processing, leaving message for redelivery")
		d.settle(ctx, logger, env.JobID, capacity.OutcomeError)
		return resultDeferred
	}

	started := time.Now()
	img, genErr := d.model.GenerateImage(ctx, env.Prompt)
	if genErr != nil {
		return d.handleModelError(ctx, logger, msg, env, genErr, started)
	}

	key, err := d.ledger.PutCard(ctx, env.ClientIP, img, ledger.Meta{
		Prompt:      env.Prompt,
		DisplayName: env.DisplayName,
		UserNumber:  env.UserNumber,
		DeviceID:    env.DeviceID,
	})
	if err != nil {
		// Artifact not stored; let redelivery regenerate.
		logger.Error().Err(err).Msg("artifact write failed, leaving message for redelivery")
		jobSeconds.WithLabelValues(string(capacity.OutcomeError)).Observe(time.Since(started).Seconds())
		d.settle(ctx, logger, env.JobID, capacity.OutcomeError)
		return resultDeferred
	}

	if _, err := d.store.Transition(ctx, env.JobID, jobs.StatusCompleted, func(j *jobs.Job) {
		j.ArtifactKey = key
	}); err != nil {
		// The artifact exists; acknowledging anyway avoids a duplicate
		// generation billed to the same session. The record stays
		// processing until a redelivered duplicate is dropped.
		logger.Error().Err(err).Str(log.FieldArtifactKey, key).Msg("could not mark job completed")
	}

	jobSeconds.WithLabelValues(string(capacity.OutcomeSuccess)).Observe(time.Since(started).Seconds())
	d.settle(ctx, logger, env.JobID, capacity.OutcomeSuccess)
	d.ack(ctx, logger, msg)
	logger.Info().
		Str(log.FieldArtifactKey, key).
		Dur("elapsed", time.Since(started)).
		Msg("job completed")
	return resultProcessed
}

// handleModelError maps a failed model call onto queue and capacity actions.
func (d *Dispatcher) handleModelError(ctx context.Context, logger zerolog.Logger, msg queue.Message, env Envelope, genErr error, started time.Time) string {
	elapsed := time.Since(started)

	switch kind := bedrock.Classify(genErr); kind {
	case bedrock.KindThrottle:
		// Internal backpressure: contract capacity, let the message come
		// back. The client keeps seeing "processing".
		logger.Warn().Err(genErr).Dur("elapsed", elapsed).Msg("model throttled, deferring")
		jobSeconds.WithLabelValues(string(capacity.OutcomeThrottled)).Observe(elapsed.Seconds())
		d.settle(ctx, logger, env.JobID, capacity.OutcomeThrottled)
		return resultDeferred

	case bedrock.KindTransient:
		if msg.ReceiveCount <= d.cfg.RetryBudget {
			logger.Warn().Err(genErr).Dur("elapsed", elapsed).Msg("transient model error, deferring within retry budget")
			jobSeconds.WithLabelValues(string(capacity.OutcomeThrottled)).Observe(elapsed.Seconds())
			d.settle(ctx, logger, env.JobID, capacity.OutcomeThrottled)
			return resultDeferred
		}
		logger.Error().Err(genErr).Dur("elapsed", elapsed).Msg("transient model error over retry budget, failing job")
		d.fail(ctx, logger, env.JobID, "image generation failed, please try again")
		jobSeconds.WithLabelValues(string(capacity.OutcomeError)).Observe(elapsed.Seconds())
		d.settle(ctx, logger, env.JobID, capacity.OutcomeError)
		d.ack(ctx, logger, msg)
		return resultProcessed

	default: // validation, content policy
		logger.Warn().Err(genErr).Dur("elapsed", elapsed).Msg("model rejected prompt, failing job")
		d.fail(ctx, logger, env.JobID, genErr.Error())
		jobSeconds.WithLabelValues(string(capacity.OutcomeError)).Observe(elapsed.Seconds())
		d.settle(ctx, logger, env.JobID, capacity.OutcomeError)
		d.ack(ctx, logger, msg)
		return resultProcessed
	}
}

func (d *Dispatcher) fail(ctx context.Context, logger zerolog.Logger, jobID, reason string) {
	if _, err := d.store.Transition(ctx, jobID, jobs.StatusFailed, func(j *jobs.Job) {
		j.Error = reason
	}); err != nil {
		logger.Error().Err(err).Msg("could not mark job failed")
	}
}

func (d *Dispatcher) settle(ctx context.Context, logger zerolog.Logger, jobID string, outcome capacity.Outcome) {
	if _, err := d.capacity.Complete(ctx, jobID, outcome); err != nil {
		logger.Error().Err(err).Str(log.FieldOutcome, string(outcome)).Msg("capacity completion failed")
	}
}

func (d *Dispatcher) ack(ctx context.Context, logger zerolog.Logger, msg queue.Message) {
	if err := d.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		// Visibility lapse will redeliver; the terminal-record guard turns
		// that into a dropped duplicate.
		logger.Warn().Err(err).Str("message_id", msg.ID).Msg("acknowledge failed")
	}
}
