// Package sched runs cron-timed jobs. Each job carries a standard
// 5-field expression in its own IANA timezone. The scheduler holds no
// durable state: the owning plugin persists records and re-registers
// its jobs on load.
package sched

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hermesbot/hermes/internal/metrics"
	"github.com/hermesbot/hermes/internal/transport"
)

// Deps is handed to every handler at fire time. Handlers must not
// capture a transport handle lexically; the provider supplies the
// current one so reconnects never leave a job holding a dead socket.
type Deps struct {
	Client transport.Client
	Send   func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)
}

// Handler is one job body. It runs on its own goroutine; overrunning
// handlers are not cancelled, the next fire simply runs in parallel.
type Handler func(ctx context.Context, deps Deps)

// JobInfo describes one live job.
type JobInfo struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Timezone   string    `json:"timezone"`
	NextFire   time.Time `json:"nextFire"`
}

type job struct {
	info   JobInfo
	runner *cron.Cron
	entry  cron.EntryID
}

// Scheduler owns the live job table.
type Scheduler struct {
	deps   func() Deps
	logger *log.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New builds a scheduler. deps is evaluated on every fire.
func New(deps func() Deps) *Scheduler {
	return &Scheduler{
		deps:   deps,
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		jobs:   make(map[string]*job),
	}
}

// Register installs a job, replacing any existing job with the same
// id. Returns false when the timezone or expression is invalid; the
// caller rolls back its own durable record on failure.
func (s *Scheduler) Register(id, expression, tz string, handler Handler) bool {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.logger.Printf("⚠️ Rejecting job %s: bad timezone %q: %v", id, tz, err)
		return false
	}

	runner := cron.New(cron.WithLocation(loc))
	entry, err := runner.AddFunc(expression, func() {
		go handler(context.Background(), s.deps())
	})
	if err != nil {
		s.logger.Printf("⚠️ Rejecting job %s: bad expression %q: %v", id, expression, err)
		return false
	}

	s.mu.Lock()
	if old, ok := s.jobs[id]; ok {
		old.runner.Stop()
	}
	s.jobs[id] = &job{
		info:   JobInfo{ID: id, Expression: expression, Timezone: tz},
		runner: runner,
		entry:  entry,
	}
	n := len(s.jobs)
	s.mu.Unlock()

	runner.Start()
	metrics.ScheduledJobs.Set(float64(n))
	s.logger.Printf("⏰ Registered job %s (%s %s)", id, expression, tz)
	return true
}

// Cancel stops and removes a job. Returns false when no such job.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	n := len(s.jobs)
	s.mu.Unlock()

	if !ok {
		return false
	}
	j.runner.Stop()
	metrics.ScheduledJobs.Set(float64(n))
	s.logger.Printf("⏹ Cancelled job %s", id)
	return true
}

// List returns every live job with its next fire time, sorted by id.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := j.info
		info.NextFire = j.runner.Entry(j.entry).Next
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Len returns the number of live jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// StopAll stops every job. Used at shutdown; running handlers are not
// awaited.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		j.runner.Stop()
	}
	metrics.ScheduledJobs.Set(0)
}
