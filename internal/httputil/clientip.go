package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP from the request. Forwarding headers
// are honoured only when the direct peer is on the loopback interface, so a
// local reverse proxy can report the original client.
func GetClientIP(r *http.Request) string {
	peer := remoteIP(r)
	if !isLoopbackIP(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return peer
}

// IsLoopbackPeer reports whether the direct peer connected over loopback.
// Forwarding headers are ignored.
func IsLoopbackPeer(r *http.Request) bool {
	return isLoopbackIP(remoteIP(r))
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isLoopbackIP(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.IsLoopback()
}
