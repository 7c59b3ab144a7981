// Package ratelimit implements sliding window rate limiting with a shared
// redis backend and an in-process fallback.
//
// Both backends record a request before deciding whether it is admitted,
// so rejected requests also consume a slot in the window.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLimit is returned for non positive limits or windows.
var ErrInvalidLimit = errors.New("limit and window must be positive")

// Info describes the state of a key after a request was recorded.
type Info struct {
	Limit     int
	Remaining int
	// Reset is when the current window ends.
	Reset time.Time
	// RetryAfter is zero for admitted requests.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, Info, error)
}

// decide turns the number of requests seen in the window before the current
// one into a decision. Backends must agree on this.
func decide(count, limit int, now time.Time, window time.Duration) (bool, Info) {
	allowed := count < limit

	info := Info{
		Limit:     limit,
		Remaining: max(0, limit-count-1),
		Reset:     now.Add(window),
	}

	if !allowed {
		info.RetryAfter = window
	}

	return allowed, info
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}
