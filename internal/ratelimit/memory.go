package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	hits   []time.Time
	window time.Duration
}

// Memory is an in-process Limiter. All keys share one mutex, which keeps
// the prune, count and record steps of a key atomic.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewMemory creates a new in-process limiter.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		NowFunc: time.Now,
	}
}

// Allow records the request and reports whether it is admitted.
func (l *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, Info, error) {
	err := validate(limit, window)
	if err != nil {
		return false, Info{}, err
	}

	now := l.NowFunc()
	windowStart := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{}
		l.entries[key] = e
	}

	e.hits = prune(e.hits, windowStart)
	count := len(e.hits)

	e.hits = append(e.hits, now)
	e.window = window

	allowed, info := decide(count, limit, now, window)
	return allowed, info, nil
}

// prune drops hits at or before windowStart. hits is in arrival order.
func prune(hits []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(windowStart) {
		i++
	}
	return hits[i:]
}

// Sweep removes keys without hits in their last window and returns
// the number of removed keys.
func (l *Memory) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		e.hits = prune(e.hits, now.Add(-e.window))
		if len(e.hits) == 0 {
			delete(l.entries, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys.
func (l *Memory) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunJanitor sweeps idle keys every interval until ctx is done.
func (l *Memory) RunJanitor(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep(l.NowFunc())
		}
	}
}
