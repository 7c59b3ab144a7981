package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const keyPrefix = "rate_limit:"

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP returns the address of the client that made the request.
// The first X-Forwarded-For entry wins, then X-Real-IP, then the
// connection address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// ByIP keys requests by client IP.
func ByIP(r *http.Request) string {
	return keyPrefix + "ip:" + ClientIP(r)
}

// ByUser keys requests by the user userFunc returns, and falls back to
// the client IP for anonymous requests.
func ByUser(userFunc func(r *http.Request) (string, bool)) KeyFunc {
	return func(r *http.Request) string {
		id, ok := userFunc(r)
		if !ok || id == "" {
			return ByIP(r)
		}
		return keyPrefix + "user:" + id
	}
}

// ByEndpoint keys requests by endpoint name and client IP.
func ByEndpoint(name string) KeyFunc {
	return func(r *http.Request) string {
		return keyPrefix + "endpoint:" + name + ":ip:" + ClientIP(r)
	}
}

// ForAuth keys requests to the named authentication endpoint by client IP.
// Each endpoint gets its own budget, so password reset requests do not
// eat into the login budget.
func ForAuth(name string) KeyFunc {
	return func(r *http.Request) string {
		return keyPrefix + "auth:" + name + ":ip:" + ClientIP(r)
	}
}
