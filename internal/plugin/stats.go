package plugin

import (
	"sync"
	"time"
)

// errorWindow is the number of recent runs the health check inspects.
const errorWindow = 20

// Stats tracks one plugin's runtime behavior.
type Stats struct {
	mu sync.Mutex

	LoadedAt      time.Time
	Executions    int64
	Errors        int64
	LastError     string
	LastErrorAt   time.Time
	LastRun       time.Time
	TotalExecTime time.Duration

	recent [errorWindow]bool // true = errored
	cursor int
	filled int
}

func newStats() *Stats {
	return &Stats{LoadedAt: time.Now()}
}

func (s *Stats) record(took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Executions++
	s.LastRun = time.Now()
	s.TotalExecTime += took
	failed := err != nil
	if failed {
		s.Errors++
		s.LastError = err.Error()
		s.LastErrorAt = s.LastRun
	}

	s.recent[s.cursor] = failed
	s.cursor = (s.cursor + 1) % errorWindow
	if s.filled < errorWindow {
		s.filled++
	}
}

// ErrorRateHigh reports whether more than half of the recent runs
// errored. Requires at least two recorded runs.
func (s *Stats) ErrorRateHigh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled < 2 {
		return false
	}
	errored := 0
	for i := 0; i < s.filled; i++ {
		if s.recent[i] {
			errored++
		}
	}
	return errored*2 > s.filled
}

// View is a point-in-time copy for the control plane.
type View struct {
	Name          string        `json:"name"`
	LoadedAt      time.Time     `json:"loadedAt"`
	Executions    int64         `json:"executions"`
	Errors        int64         `json:"errors"`
	LastError     string        `json:"lastError,omitempty"`
	LastErrorAt   time.Time     `json:"lastErrorAt,omitempty"`
	LastRun       time.Time     `json:"lastRun,omitempty"`
	TotalExecTime time.Duration `json:"totalExecTimeNs"`
}

// StatsView snapshots an entry's stats.
func (e *Entry) StatsView() View {
	e.Stats.mu.Lock()
	defer e.Stats.mu.Unlock()
	return View{
		Name:          e.Desc.Name,
		LoadedAt:      e.Stats.LoadedAt,
		Executions:    e.Stats.Executions,
		Errors:        e.Stats.Errors,
		LastError:     e.Stats.LastError,
		LastErrorAt:   e.Stats.LastErrorAt,
		LastRun:       e.Stats.LastRun,
		TotalExecTime: e.Stats.TotalExecTime,
	}
}
