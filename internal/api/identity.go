// SPDX-License-Identifier: MIT

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/eventkiosk/cardforge/internal/api/middleware"
)

// HeaderDeviceID carries the opaque kiosk device identifier.
const HeaderDeviceID = "X-Device-ID"

// identity is the resolved accounting identity of a request. IP doubles as
// the ledger session key; DeviceID is correlation metadata and the fallback
// source when no address can be resolved.
type identity struct {
	IP       string
	DeviceID string
}

// identify resolves the caller per the kiosk identity rules: first hop of
// X-Forwarded-For when the peer is a trusted proxy, else X-Real-IP, else the
// RemoteAddr host. Forwarding headers from untrusted peers are ignored so a
// kiosk cannot spoof its way into another session's quota.
func (s *Server) identify(r *http.Request) identity {
	deviceID := strings.TrimSpace(r.Header.Get(HeaderDeviceID))

	ip := resolveClientIP(r, s.trusted)
	if ip == "" {
		ip = synthesizedIdentity(deviceID)
	}

	return identity{IP: ip, DeviceID: deviceID}
}

// resolveClientIP returns the best-effort client address, or "" when nothing
// usable is present.
func resolveClientIP(r *http.Request, trusted []*net.IPNet) string {
	if middleware.IsTrustedProxy(r.RemoteAddr, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return ""
}

// synthesizedIdentity derives a stable stand-in identity from the device id
// so session accounting survives an unresolvable address.
func synthesizedIdentity(deviceID string) string {
	if deviceID == "" {
		return "dev-unknown"
	}
	sum := sha256.Sum256([]byte(deviceID))
	return "dev-" + hex.EncodeToString(sum[:])[:8]
}
