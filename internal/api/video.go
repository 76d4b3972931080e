// SPDX-License-Identifier: MIT

package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eventkiosk/cardforge/internal/bedrock"
	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/log"
	"github.com/eventkiosk/cardforge/internal/resilience"
)

// Video prompt bounds, measured after trimming.
const (
	videoPromptMinLen = 5
	videoPromptMaxLen = 512
)

type generateVideoResponse struct {
	Success       bool   `json:"success"`
	InvocationARN string `json:"invocation_arn"`
	Status        string `json:"status"`
}

type videoStatusResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	VideoS3Key string `json:"video_s3_key,omitempty"`
	VideoURL   string `json:"video_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// throughBreaker runs fn under the circuit breaker when one is wired.
func (s *Server) throughBreaker(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}

// generateVideo submits a first-frame image plus prompt to the async video
// model. The reply carries the invocation ARN to poll; nothing is billed to
// the session until the finished output is copied in.
func (s *Server) generateVideo(w http.ResponseWriter, r *http.Request, req *transformRequest, logger zerolog.Logger) {
	ctx := r.Context()

	if s.video == nil {
		writeError(w, http.StatusServiceUnavailable, "video generation not enabled")
		return
	}

	prompt := strings.TrimSpace(req.VideoPrompt)
	if len(prompt) < videoPromptMinLen || len(prompt) > videoPromptMaxLen {
		writeBadRequest(w, "video prompt must be between 5 and 512 characters")
		return
	}

	jpeg, err := decodeJPEG(req.CardImage, "card_image")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ident := s.identify(r)

	if _, err := s.ledger.CheckQuota(ctx, ident.IP, ledger.KindVideo); err != nil {
		var qe *ledger.QuotaError
		if errors.As(err, &qe) {
			logger.Info().
				Str(log.FieldClientIP, ident.IP).
				Str("event", "quota.denied").
				Msg("video quota exhausted")
			writeQuotaExceeded(w, qe)
			return
		}
		logger.Error().Err(err).Str("event", "quota.check_error").Msg("quota check failed")
		writeInternal(w)
		return
	}

	var arn string
	err = s.throughBreaker(func() error {
		var serr error
		arn, serr = s.video.StartVideo(ctx, jpeg, prompt)
		return serr
	})
	if err != nil {
		s.writeVideoError(w, logger, err, "video generation failed, please try again")
		return
	}

	logger.Info().
		Str("event", "video.started").
		Str(log.FieldClientIP, ident.IP).
		Str(log.FieldInvocationARN, arn).
		Msg("video generation started")

	writeJSON(w, http.StatusOK, generateVideoResponse{
		Success:       true,
		InvocationARN: arn,
		Status:        string(bedrock.VideoInProgress),
	})
}

// getVideoStatus polls the provider. Completed output is copied into the
// session ledger exactly once per invocation; repeated polls find the
// existing artifact instead of billing the quota again.
func (s *Server) getVideoStatus(w http.ResponseWriter, r *http.Request, req *transformRequest, logger zerolog.Logger) {
	ctx := r.Context()

	if s.video == nil {
		writeError(w, http.StatusServiceUnavailable, "video generation not enabled")
		return
	}

	arn := strings.TrimSpace(req.InvocationARN)
	if arn == "" {
		writeBadRequest(w, "invocation_arn is required")
		return
	}

	var st *bedrock.VideoStatus
	err := s.throughBreaker(func() error {
		var serr error
		st, serr = s.video.Status(ctx, arn)
		return serr
	})
	if err != nil {
		s.writeVideoError(w, logger, err, "video status check failed")
		return
	}

	switch st.State {
	case bedrock.VideoCompleted:
		s.finishVideo(w, r, arn, st, logger)
	case bedrock.VideoFailed:
		reason := st.FailureMessage
		if reason == "" {
			reason = "video generation failed"
		}
		writeJSON(w, http.StatusOK, videoStatusResponse{
			Success: false,
			Status:  string(bedrock.VideoFailed),
			Error:   reason,
		})
	default:
		writeJSON(w, http.StatusOK, videoStatusResponse{
			Success: true,
			Status:  string(bedrock.VideoInProgress),
		})
	}
}

// finishVideo copies the provider output into the caller's session and
// returns the presigned artifact.
func (s *Server) finishVideo(w http.ResponseWriter, r *http.Request, arn string, st *bedrock.VideoStatus, logger zerolog.Logger) {
	ctx := r.Context()
	ident := s.identify(r)

	bucket, prefix, err := bedrock.ParseS3URI(st.OutputURI)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldInvocationARN, arn).
			Str("output_uri", st.OutputURI).
			Msg("unparseable video output location")
		writeInternal(w)
		return
	}
	srcKey := path.Join(prefix, "output.mp4")

	key, err := s.ledger.PutVideoFromSource(ctx, ident.IP, bucket, srcKey, arn)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldInvocationARN, arn).
			Str(log.FieldClientIP, ident.IP).
			Msg("failed to copy video output")
		writeInternal(w)
		return
	}

	resp := videoStatusResponse{
		Success:    true,
		Status:     string(bedrock.VideoCompleted),
		VideoS3Key: key,
	}
	url, perr := s.objects.PresignGet(ctx, key, s.cfg.PresignTTL)
	if perr != nil {
		logger.Warn().Err(perr).Str(log.FieldArtifactKey, key).Msg("presign failed")
	} else {
		resp.VideoURL = url
	}

	logger.Info().
		Str("event", "video.completed").
		Str(log.FieldClientIP, ident.IP).
		Str(log.FieldInvocationARN, arn).
		Str(log.FieldArtifactKey, key).
		Msg("video artifact stored")

	writeJSON(w, http.StatusOK, resp)
}

// writeVideoError maps provider-plane failures onto the client envelope.
// Breaker refusals become 503 so kiosks back off; validation surfaces as 400;
// everything else is a generic 500. Throttle details never reach the client.
func (s *Server) writeVideoError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Warn().Str("event", "video.breaker_open").Msg("video call refused by open breaker")
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "video service temporarily unavailable")
		return
	}
	if bedrock.Classify(err) == bedrock.KindValidation {
		writeBadRequest(w, err.Error())
		return
	}
	logger.Error().Err(err).Str("event", "video.provider_error").Msg("video provider call failed")
	writeError(w, http.StatusInternalServerError, fallback)
}

// decodeJPEG decodes base64 image data (tolerating a data URL prefix) and
// verifies the JPEG SOI marker.
func decodeJPEG(encoded, field string) ([]byte, error) {
	raw := strings.TrimSpace(encoded)
	if raw == "" {
		return nil, errors.New(field + " is required")
	}
	if strings.HasPrefix(raw, "data:") {
		if _, rest, ok := strings.Cut(raw, ","); ok {
			raw = rest
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.New(field + " is not valid base64")
		}
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New(field + " must be a JPEG")
	}
	return data, nil
}
