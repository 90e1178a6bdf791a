package observability

import (
	"net"
	"net/http"
	"strings"
)

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// ActorFromRequest returns the authenticated actor id set by the gateway.
// WebSocket clients that cannot set headers pass it as user_id.
func ActorFromRequest(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-User-ID")); actor != "" {
		return actor
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
