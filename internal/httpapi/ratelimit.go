package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Fixed-window IP limit guarding the whole surface.
const (
	ipLimitMax    = 100
	ipLimitWindow = 15 * time.Minute
)

type ipWindow struct {
	count int
	start time.Time
}

// ipLimiter is a fixed-window request counter keyed by client IP.
type ipLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*ipWindow
	now     func() time.Time
}

func newIPLimiter(max int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*ipWindow),
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[ip] = &ipWindow{count: 1, start: now}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":900}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
