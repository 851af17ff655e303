// Package httputil holds small HTTP helpers shared by the API server
// and the websocket hub.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the originating client address for a request.
// With trustProxy set, the leftmost X-Forwarded-For entry and then
// X-Real-IP are consulted before RemoteAddr. Leave trustProxy off
// unless a trusted reverse proxy sits in front of the server,
// otherwise clients can spoof their address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
