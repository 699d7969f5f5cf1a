package realtime

import (
	"net/http"
	"net/url"
	"strings"
)

// loopback hosts are always allowed for local development.
func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// originAllowed validates the connecting origin: same-origin always passes,
// loopback hosts pass, and explicit allow-list entries pass (matched
// against the full origin or its host). Rejection is a silent handshake
// failure, not a user-facing error.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin; the session cookie is the
		// authentication boundary.
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if isLoopbackHost(u.Hostname()) {
		return true
	}
	for _, entry := range allowed {
		if strings.EqualFold(entry, origin) || strings.EqualFold(entry, u.Host) {
			return true
		}
	}
	return false
}
