// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eventkiosk/cardforge/internal/auth"
	"github.com/eventkiosk/cardforge/internal/dispatch"
	"github.com/eventkiosk/cardforge/internal/jobs"
	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/log"
)

// Prompt bounds for card generation, measured after trimming.
const (
	promptMinLen = 10
	promptMaxLen = 1024
)

// messageGroup keeps all jobs in one FIFO lane; total order is the contract
// the dispatcher relies on.
const messageGroup = "cardforge"

// transformRequest is the composite body of the /api/transform-card action
// multiplexer. Fields are interpreted per action.
type transformRequest struct {
	Action string `json:"action"`

	// transform_card. user_name is the display name stamped onto the card.
	Prompt     string `json:"prompt"`
	UserName   string `json:"user_name"`
	UserNumber int    `json:"user_number"`

	// get_job_status / check_job_status
	JobID string `json:"job_id"`

	// generate_video / get_video_status
	VideoPrompt     string `json:"video_prompt"`
	CardImage       string `json:"card_image"`
	InvocationARN   string `json:"invocation_arn"`
	AnimationPrompt string `json:"animation_prompt"`

	// apply_override
	OverrideCode string `json:"override_code"`
}

// handleTransformCard is the action multiplexer behind POST /api/transform-card.
func (s *Server) handleTransformCard(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = "transform_card"
	}

	logger := log.WithComponentFromContext(r.Context(), "api").With().
		Str(log.FieldAction, action).Logger()
	if claims := claimsFrom(r.Context()); claims != nil {
		logger = logger.With().Str("user", claims.Username).Logger()
	}

	switch action {
	case "transform_card":
		s.transformCard(w, r, &req, logger)
	case "get_job_status", "check_job_status":
		s.getJobStatus(w, r, &req, logger)
	case "generate_video":
		s.generateVideo(w, r, &req, logger)
	case "get_video_status":
		s.getVideoStatus(w, r, &req, logger)
	case "apply_override":
		s.applyOverride(w, r, &req, logger)
	default:
		writeBadRequest(w, "unknown action: "+action)
	}
}

type transformCardResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// transformCard validates the prompt, checks quota, records the job and
// enqueues it. Generation happens later in the dispatcher; the reply carries
// only the job id to poll.
func (s *Server) transformCard(w http.ResponseWriter, r *http.Request, req *transformRequest, logger zerolog.Logger) {
	ctx := r.Context()

	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) < promptMinLen || len(prompt) > promptMaxLen {
		writeBadRequest(w, "prompt must be between 10 and 1024 characters")
		return
	}

	ident := s.identify(r)

	usage, err := s.ledger.CheckQuota(ctx, ident.IP, ledger.KindCard)
	if err != nil {
		var qe *ledger.QuotaError
		if errors.As(err, &qe) {
			logger.Info().
				Str(log.FieldClientIP, ident.IP).
				Str("event", "quota.denied").
				Msg("card quota exhausted")
			writeQuotaExceeded(w, qe)
			return
		}
		logger.Error().Err(err).Str("event", "quota.check_error").Msg("quota check failed")
		writeInternal(w)
		return
	}

	job := &jobs.Job{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		SessionID:   usage.Session,
		ClientIP:    ident.IP,
		DeviceID:    ident.DeviceID,
		UserNumber:  req.UserNumber,
		DisplayName: strings.TrimSpace(req.UserName),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		logger.Error().Err(err).Str("event", "job.create_error").Msg("failed to create job record")
		writeInternal(w)
		return
	}

	body, err := json.Marshal(dispatch.Envelope{
		JobID:       job.ID,
		Prompt:      prompt,
		UserNumber:  job.UserNumber,
		DisplayName: job.DisplayName,
		DeviceID:    job.DeviceID,
		SessionID:   job.SessionID,
		ClientIP:    job.ClientIP,
	})
	if err != nil {
		writeInternal(w)
		return
	}
	if _, err := s.queue.Send(ctx, body, messageGroup, job.ID); err != nil {
		logger.Error().Err(err).
			Str(log.FieldJobID, job.ID).
			Str("event", "queue.send_error").
			Msg("failed to enqueue job")
		// The record must not stay queued forever with no message behind it.
		if _, terr := s.jobs.Transition(ctx, job.ID, jobs.StatusFailed, func(j *jobs.Job) {
			j.Error = "failed to enqueue job"
		}); terr != nil {
			logger.Error().Err(terr).Str(log.FieldJobID, job.ID).Msg("failed to mark orphaned job")
		}
		writeInternal(w)
		return
	}

	logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSessionID, job.SessionID).
		Str(log.FieldClientIP, ident.IP).
		Str("event", "job.queued").
		Msg("card job accepted")

	writeJSON(w, http.StatusOK, transformCardResponse{
		Success: true,
		JobID:   job.ID,
		Status:  string(jobs.StatusQueued),
		Message: "card generation started",
	})
}

type jobStatusResponse struct {
	Success     bool   `json:"success"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	S3Key       string `json:"s3_key,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
}

// getJobStatus reports the lifecycle state of a job, attaching a presigned
// artifact URL once completed.
func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request, req *transformRequest, logger zerolog.Logger) {
	ctx := r.Context()

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		writeBadRequest(w, "job_id is required")
		return
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		logger.Error().Err(err).Str(log.FieldJobID, jobID).Msg("job lookup failed")
		writeInternal(w)
		return
	}

	resp := jobStatusResponse{
		Success: true,
		JobID:   job.ID,
		Status:  string(job.Status),
		Error:   job.Error,
		S3Key:   job.ArtifactKey,
	}
	if job.Status == jobs.StatusCompleted && job.ArtifactKey != "" {
		url, perr := s.objects.PresignGet(ctx, job.ArtifactKey, s.cfg.PresignTTL)
		if perr != nil {
			// Status is still useful without the link; the client can retry.
			logger.Warn().Err(perr).
				Str(log.FieldJobID, jobID).
				Str(log.FieldArtifactKey, job.ArtifactKey).
				Msg("presign failed")
		} else {
			resp.ArtifactURL = url
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type applyOverrideResponse struct {
	Success        bool             `json:"success"`
	OverrideNumber int              `json:"override_number"`
	SessionID      string           `json:"session_id"`
	Remaining      ledger.Remaining `json:"remaining"`
}

// applyOverride opens a fresh session generation for the caller after staff
// code verification, restoring the full allowance.
func (s *Server) applyOverride(w http.ResponseWriter, r *http.Request, req *transformRequest, logger zerolog.Logger) {
	ctx := r.Context()

	if !auth.AuthorizeToken(req.OverrideCode, s.cfg.OverrideCode) {
		logger.Warn().
			Str("event", "override.rejected").
			Str("remote_addr", r.RemoteAddr).
			Msg("override code mismatch")
		writeUnauthorized(w, "invalid override code")
		return
	}

	ident := s.identify(r)

	n, session, err := s.ledger.ApplyOverride(ctx, ident.IP)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldClientIP, ident.IP).Msg("override failed")
		writeInternal(w)
		return
	}

	limits := s.ledger.Limits()
	logger.Info().
		Str("event", "override.applied").
		Str(log.FieldClientIP, ident.IP).
		Str(log.FieldSessionID, session).
		Int("override_number", n).
		Msg("override applied")

	writeJSON(w, http.StatusOK, applyOverrideResponse{
		Success:        true,
		OverrideNumber: n,
		SessionID:      session,
		Remaining: ledger.Remaining{
			Cards:  limits.Cards,
			Videos: limits.Videos,
			Prints: limits.Prints,
		},
	})
}
