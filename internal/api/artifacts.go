// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/log"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// decodePNG decodes base64 image data (tolerating a data URL prefix) and
// verifies the PNG signature.
func decodePNG(encoded, field string) ([]byte, error) {
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
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		return nil, errors.New(field + " must be a PNG")
	}
	return data, nil
}

type storeCardRequest struct {
	FinalCardBase64 string `json:"final_card_base64"`
	Prompt          string `json:"prompt"`
	UserName        string `json:"user_name"`
}

type storeCardResponse struct {
	Success bool   `json:"success"`
	S3Key   string `json:"s3_key"`
}

// handleStoreCard stores a browser-composited final card. Final cards are
// shareable assets outside the quota; they consume neither the card
// allowance nor a pending override marker.
// POST /api/store-card
func (s *Server) handleStoreCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithComponentFromContext(ctx, "api")

	var req storeCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	data, err := decodePNG(req.FinalCardBase64, "final_card_base64")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ident := s.identify(r)

	key, err := s.ledger.PutFinalCard(ctx, ident.IP, data, ledger.Meta{
		Prompt:      strings.TrimSpace(req.Prompt),
		DisplayName: strings.TrimSpace(req.UserName),
		DeviceID:    ident.DeviceID,
	})
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldClientIP, ident.IP).
			Str("event", "store_card.error").
			Msg("failed to store final card")
		writeInternal(w)
		return
	}

	writeJSON(w, http.StatusOK, storeCardResponse{Success: true, S3Key: key})
}

type printCardRequest struct {
	CardImage  string `json:"card_image"`
	CardPrompt string `json:"card_prompt"`
	CardNumber int    `json:"card_number"`
}

type printCardResponse struct {
	Success       bool             `json:"success"`
	PrintFilename string           `json:"print_filename"`
	PrintNumber   int              `json:"print_number"`
	CardNumber    int              `json:"card_number"`
	Remaining     ledger.Remaining `json:"remaining"`
}

// handlePrintCard submits a card to the print queue. The artifact name
// carries both the card being printed and the session-wide print sequence,
// so the print station can collate without a database.
// POST /api/print-card
func (s *Server) handlePrintCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithComponentFromContext(ctx, "api")

	var req printCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	data, err := decodePNG(req.CardImage, "card_image")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ident := s.identify(r)

	if _, err := s.ledger.CheckQuota(ctx, ident.IP, ledger.KindPrint); err != nil {
		var qe *ledger.QuotaError
		if errors.As(err, &qe) {
			logger.Info().
				Str(log.FieldClientIP, ident.IP).
				Str("event", "quota.denied").
				Msg("print quota exhausted")
			writeQuotaExceeded(w, qe)
			return
		}
		logger.Error().Err(err).Str("event", "quota.check_error").Msg("quota check failed")
		writeInternal(w)
		return
	}

	cardNumber := req.CardNumber
	if cardNumber < 1 {
		cardNumber = 1
	}

	key, printNumber, err := s.ledger.PutPrint(ctx, ident.IP, data, cardNumber, ledger.Meta{
		Prompt:   strings.TrimSpace(req.CardPrompt),
		DeviceID: ident.DeviceID,
	})
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldClientIP, ident.IP).
			Str("event", "print_card.error").
			Msg("failed to queue print")
		writeInternal(w)
		return
	}

	remaining, _, err := s.ledger.Remaining(ctx, ident.IP)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldClientIP, ident.IP).Msg("failed to read remaining quota")
	}

	writeJSON(w, http.StatusOK, printCardResponse{
		Success:       true,
		PrintFilename: path.Base(key),
		PrintNumber:   printNumber,
		CardNumber:    cardNumber,
		Remaining:     remaining,
	})
}
