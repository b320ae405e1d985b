package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// RateKey identifies who is calling what. It is derived per request and only
// lives as long as its counting windows.
type RateKey struct {
	Scope    string
	Subject  string
	Resource string
}

func (k RateKey) String() string {
	return k.Scope + ":" + k.Subject + ":" + k.Resource
}

// ClientIP extracts the client address, preferring the first X-Forwarded-For
// entry, then X-Real-IP, then the peer host without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
