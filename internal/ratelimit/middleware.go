package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Policy configures the Middleware.
type Policy struct {
	Key    KeyFunc
	Limit  int
	Window time.Duration
}

// Middleware admits requests according to the policy. Every response
// carries the X-RateLimit headers, rejected requests get a 429 with
// Retry-After. When the limiter fails the request is let through.
func Middleware(l Limiter, p Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := p.Key(r)

			allowed, info, err := l.Allow(r.Context(), key, p.Limit, p.Window)
			if err != nil {
				logger.Error("rate limiter failed, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))

			if !allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(info.RetryAfter.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
