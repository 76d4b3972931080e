// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eventkiosk/cardforge/internal/auth"
	"github.com/eventkiosk/cardforge/internal/ledger"
	"github.com/eventkiosk/cardforge/internal/log"
)

// ctxClaimsKey stores the authenticated claims in the request context.
type ctxClaimsKey struct{}

// claimsFrom returns the validated claims, or nil on unauthenticated paths.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxClaimsKey{}).(*auth.Claims)
	return claims
}

// authMiddleware enforces bearer-token authentication on kiosk endpoints.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "auth")

		raw := auth.ExtractBearer(r)
		if raw == "" {
			logger.Warn().Str("event", "auth.missing_header").Msg("authorization header missing")
			writeUnauthorized(w, "missing bearer token")
			return
		}

		claims, err := auth.Validate(raw, s.cfg.Event, s.now())
		if err != nil {
			logger.Warn().Err(err).Str("event", "auth.invalid_token").Msg("token rejected")
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxClaimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginResponse struct {
	Success   bool             `json:"success"`
	Token     string           `json:"token"`
	ExpiresIn int64            `json:"expires_in"`
	User      string           `json:"user"`
	Remaining ledger.Remaining `json:"remaining"`
	ClientIP  string           `json:"client_ip"`
}

// handleLogin authenticates kiosk credentials and issues a session token.
// POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	// Evaluate both comparisons before branching so a wrong username costs
	// the same as a wrong password.
	userOK := auth.AuthorizeToken(req.Username, s.cfg.Username)
	passOK := auth.AuthorizeToken(req.Password, s.cfg.Password)
	if !userOK || !passOK {
		logger.Warn().
			Str("event", "auth.login_failed").
			Str("remote_addr", r.RemoteAddr).
			Msg("login rejected")
		writeUnauthorized(w, "invalid credentials")
		return
	}

	deviceID := strings.TrimSpace(r.Header.Get(HeaderDeviceID))
	if deviceID == "" {
		deviceID = strings.TrimSpace(req.DeviceID)
	}
	ip := resolveClientIP(r, s.trusted)
	if ip == "" {
		ip = synthesizedIdentity(deviceID)
	}

	token, claims := auth.Issue(req.Username, s.cfg.Event, s.cfg.TokenTTL, nil, s.now())

	remaining, session, err := s.ledger.Remaining(r.Context(), ip)
	if err != nil {
		logger.Error().Err(err).Str("event", "login.ledger_error").Msg("failed to read remaining quota")
		writeInternal(w)
		return
	}

	logger.Info().
		Str("event", "auth.login").
		Str(log.FieldClientIP, ip).
		Str(log.FieldDeviceID, deviceID).
		Str(log.FieldSessionID, session).
		Msg("login succeeded")

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     token,
		ExpiresIn: int64(claims.TTL(s.now()).Seconds()),
		User:      claims.Username,
		Remaining: remaining,
		ClientIP:  ip,
	})
}
