package middleware

import (
	"net"
	"net/http"
	"strings"
)

// forwardHeaders is the precedence order for proxy-reported client addresses.
var forwardHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Cluster-Client-IP",
}

// ClientIP extracts the originating client address. Proxy headers are checked
// in precedence order; X-Forwarded-For yields its first (leftmost) entry.
// Falls back to the transport peer address with the port stripped.
func ClientIP(r *http.Request) string {
	for _, h := range forwardHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if h == "X-Forwarded-For" {
			if idx := strings.Index(v, ","); idx >= 0 {
				v = strings.TrimSpace(v[:idx])
			}
		}
		if v != "" {
			return v
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
