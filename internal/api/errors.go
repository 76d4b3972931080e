// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/eventkiosk/cardforge/internal/ledger"
)

// errorEnvelope is the uniform failure shape: {"success":false,"error":"..."}.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the failure envelope with the given status code.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorEnvelope{Success: false, Error: msg})
}

// writeBadRequest writes a 400 validation failure.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}

// writeUnauthorized writes a 401 response.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "unauthorized"
	}
	writeError(w, http.StatusUnauthorized, msg)
}

// writeInternal writes a 500 with a generic message; detail stays in logs.
func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// writeQuotaExceeded writes a 429 naming the exhausted kind.
func writeQuotaExceeded(w http.ResponseWriter, qe *ledger.QuotaError) {
	writeError(w, http.StatusTooManyRequests, qe.Error())
}
