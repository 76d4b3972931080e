// SPDX-License-Identifier: MIT

// Package auth implements the kiosk token scheme: an unsigned base64 JSON
// container scoped to a single event. Possession is the credential; tokens
// never cross deployment boundaries, so integrity is not verified.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformed means the token could not be decoded into claims.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired means the token's expiry lies in the past.
	ErrExpired = errors.New("token expired")
	// ErrWrongEvent means the token was issued for a different event.
	ErrWrongEvent = errors.New("token event mismatch")
)

// Claims is the decoded token payload. Timestamps are UTC and serialize as
// RFC 3339.
type Claims struct {
	Username    string    `json:"username"`
	SessionID   string    `json:"session_id"`
	Event       string    `json:"event"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Permissions []string  `json:"permissions"`
}

// HasPermission reports whether the claims grant the named permission.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// TTL returns the remaining lifetime relative to now, floored at zero.
func (c *Claims) TTL(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Issue creates a token for username scoped to event, valid for ttl from now.
// A fresh session id is minted per issue.
func Issue(username, event string, ttl time.Duration, permissions []string, now time.Time) (string, Claims) {
	if len(permissions) == 0 {
		permissions = []string{"transform"}
	}
	now = now.UTC()
	claims := Claims{
		Username:    username,
		SessionID:   uuid.NewString(),
		Event:       event,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		Permissions: permissions,
	}
	payload, _ := json.Marshal(claims)
	return base64.StdEncoding.EncodeToString(payload), claims
}

// Decode parses a raw token into claims without validating them.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Tolerate unpadded tokens from older clients.
		payload, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.Username == "" || claims.Event == "" {
		return nil, ErrMalformed
	}
	return &claims, nil
}

// Validate decodes raw and checks event scope and expiry against now.
func Validate(raw, wantEvent string, now time.Time) (*Claims, error) {
	claims, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.Event), []byte(wantEvent)) != 1 {
		return nil, ErrWrongEvent
	}
	if !claims.ExpiresAt.After(now) {
		return nil, ErrExpired
	}
	return claims, nil
}

// ExtractBearer retrieves the bearer token from the Authorization header, or
// the empty string when absent.
func ExtractBearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty secrets are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
