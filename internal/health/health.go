// Package health runs the periodic self-checks: plugin error rates,
// memory pressure, transport liveness and store reachability. Alerts
// go to the owner over the transport.
package health

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/connection"
	"github.com/hermesbot/hermes/internal/identity"
	"github.com/hermesbot/hermes/internal/perm"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/transport"
)

// Loop cadences and thresholds.
const (
	warmup = 2 * time.Minute

	pluginPeriod    = 15 * time.Minute
	memoryPeriod    = 20 * time.Minute
	transportPeriod = 10 * time.Minute
	storePeriod     = 5 * time.Minute

	memGCAtMB    = 400
	memClearAtMB = 500
	memAlertAtMB = 600

	outageThreshold = time.Hour

	probePeriod   = 30 * time.Second
	probeAfterUp  = 45 * time.Second
	probeGrace    = 60 * time.Second
	probeWarnAt   = 3
	probeCriticAt = 5

	pluginAlertAt = 3
)

// StorePinger is the slice of the document store the health loop
// touches. nil when the store is not configured.
type StorePinger interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Monitor owns the health loops.
type Monitor struct {
	cfg      *config.Config
	conn     *connection.Supervisor
	store    StorePinger
	registry *plugin.Registry
	resolver *identity.Resolver
	rate     *perm.RateLimiter
	logger   *log.Logger

	stop chan struct{}

	probeFails int

	// Injectable for tests.
	heapMB func() uint64
	gc     func()
}

// NewMonitor wires a monitor. store may be nil.
func NewMonitor(cfg *config.Config, conn *connection.Supervisor, store StorePinger,
	registry *plugin.Registry, resolver *identity.Resolver, rate *perm.RateLimiter) *Monitor {
	return &Monitor{
		cfg:      cfg,
		conn:     conn,
		store:    store,
		registry: registry,
		resolver: resolver,
		rate:     rate,
		logger:   log.New(log.Writer(), "[HEALTH] ", log.LstdFlags),
		stop:     make(chan struct{}),
		heapMB: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.Alloc / (1 << 20)
		},
		gc: runtime.GC,
	}
}

// Start launches the loops. The slow loops begin after the warmup;
// the liveness probe starts immediately but respects its own grace
// rules.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx, warmup, pluginPeriod, m.CheckPlugins)
	go m.loop(ctx, warmup, memoryPeriod, m.CheckMemory)
	go m.loop(ctx, warmup, transportPeriod, m.CheckTransport)
	if m.store != nil {
		go m.loop(ctx, warmup, storePeriod, m.CheckStore)
	}
	go m.loop(ctx, 0, probePeriod, m.ProbeLiveness)
}

// Stop halts every loop.
func (m *Monitor) Stop() { close(m.stop) }

func (m *Monitor) loop(ctx context.Context, delay, period time.Duration, check func(context.Context)) {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-m.stop:
			return
		}
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check(ctx)
		case <-m.stop:
			return
		}
	}
}

// CheckPlugins scans for error-rate outliers and pages the owner when
// enough plugins look critical.
func (m *Monitor) CheckPlugins(ctx context.Context) {
	bad := m.registry.Unhealthy()
	if len(bad) == 0 {
		return
	}
	m.logger.Printf("⚠️ Plugins with high error rate: %v", bad)
	if len(bad) >= pluginAlertAt {
		m.alert(ctx, fmt.Sprintf("🚨 %d plugins are failing: %v", len(bad), bad))
	}
}

// CheckMemory applies the tiered memory response.
func (m *Monitor) CheckMemory(ctx context.Context) {
	mb := m.heapMB()
	m.logger.Printf("📊 Heap: %d MB", mb)

	if mb > memAlertAtMB {
		m.alert(ctx, fmt.Sprintf("🚨 Memory critical: %d MB heap", mb))
	}
	if mb > memClearAtMB {
		m.logger.Printf("🧹 Clearing caches (heap %d MB)", mb)
		m.resolver.ClearCache()
		m.rate.Reset()
		m.conn.ClearCaches()
	}
	if mb > memGCAtMB {
		m.gc()
	}
}

// CheckTransport kicks a reconnect after a prolonged outage.
func (m *Monitor) CheckTransport(ctx context.Context) {
	if m.conn.Running() || m.conn.State() == connection.StateConnecting {
		return
	}
	if time.Since(m.conn.LastAttempt()) < outageThreshold {
		return
	}
	m.logger.Printf("🔄 Connection down with no attempt for over %s, nudging reconnect", outageThreshold)
	m.conn.HalveAttempts()
	m.conn.TriggerReconnect()
}

// CheckStore pings the document store and tries one reconnect.
func (m *Monitor) CheckStore(ctx context.Context) {
	if err := m.store.Ping(ctx); err == nil {
		return
	}
	m.logger.Printf("⚠️ Store ping failed, reconnecting")
	if err := m.store.Reconnect(ctx); err != nil {
		m.logger.Printf("❌ Store reconnect failed: %v", err)
		m.alert(ctx, "🚨 Document store is unreachable: "+err.Error())
	}
}

// ProbeLiveness inspects the open session's user id and socket
// readiness. Failures must be consecutive to escalate.
func (m *Monitor) ProbeLiveness(ctx context.Context) {
	if !m.conn.Running() {
		m.probeFails = 0
		return
	}
	client := m.conn.Client()
	m.evaluateProbe(ctx, client.Ready() && client.UserID() != "", time.Since(m.conn.ConnectedAt()))
}

func (m *Monitor) evaluateProbe(ctx context.Context, healthy bool, up time.Duration) {
	if up < probeAfterUp || up < probeGrace {
		return
	}
	if healthy {
		m.probeFails = 0
		return
	}

	m.probeFails++
	switch {
	case m.probeFails >= probeCriticAt:
		m.logger.Printf("🚨 Liveness probe failed %d times", m.probeFails)
		m.alert(ctx, "🚨 Transport session looks dead despite running state")
	case m.probeFails >= probeWarnAt:
		m.logger.Printf("⚠️ Liveness probe failed %d times", m.probeFails)
	}
}

func (m *Monitor) alert(ctx context.Context, text string) {
	owner := m.cfg.OwnerNumber + transport.SuffixUser
	if _, err := m.conn.SendSafely(ctx, owner, &transport.Outgoing{Text: text}); err != nil {
		m.logger.Printf("⚠️ Owner alert failed: %v", err)
	}
}
