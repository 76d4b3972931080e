// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/eventkiosk/cardforge/internal/log"
)

// HeaderRequestID is the correlation header accepted from and echoed to
// clients.
const HeaderRequestID = "X-Request-ID"

// RequestID attaches a correlation id to every request: the inbound header
// when present, otherwise a fresh UUID. The id is echoed in the response and
// stored in the request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
