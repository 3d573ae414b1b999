package perm

import (
	"sync"
	"time"
)

// Rate limiter defaults: 10 command invocations per rolling minute.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// RateLimiter is a sliding-window limiter keyed by (identity, scope).
// State is process-local and resets on restart.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter builds a limiter; non-positive arguments fall back to
// the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one invocation for (jid, scope) and reports whether it
// is within the limit. Exempt callers must not be passed here.
func (l *RateLimiter) Allow(jid, scope string) bool {
	key := jid + "|" + scope
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hist := l.history[key]
	live := hist[:0]
	for _, t := range hist {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) >= l.limit {
		l.history[key] = live
		return false
	}
	l.history[key] = append(live, now)
	return true
}

// Reset drops all recorded state. Called by the health supervisor
// under memory pressure.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	l.history = make(map[string][]time.Time)
	l.mu.Unlock()
}

// Tracked returns the number of live (identity, scope) keys.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}
