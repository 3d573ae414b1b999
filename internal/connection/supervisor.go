// Package connection owns the one-and-only transport handle. The
// Supervisor drives the connect/reconnect state machine, classifies
// disconnect causes, fans inbound events out to subscribers, and
// provides the safe send path every other component uses.
package connection

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/metrics"
	"github.com/hermesbot/hermes/internal/session"
	"github.com/hermesbot/hermes/internal/transport"
)

// State of the supervised connection.
type State string

const (
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StateAwaitingQR   State = "awaiting-qr"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

const (
	maxAttempts  = 10
	wipeCooldown = 3 * time.Minute
	sendAttempts = 3

	expBackoffMin  = 3 * time.Second
	expBackoffMax  = 45 * time.Second
	expBackoffMult = 1.5
)

type causePolicy struct {
	wipeCreds bool
	delay     time.Duration
}

// Per-cause response table. Causes absent here (unknown) use
// exponential backoff instead of a fixed delay.
var causePolicies = map[transport.CloseCause]causePolicy{
	transport.CauseBadSession:         {wipeCreds: true, delay: 15 * time.Second},
	transport.CauseConnectionClosed:   {delay: 10 * time.Second},
	transport.CauseConnectionLost:     {delay: 15 * time.Second},
	transport.CauseConnectionReplaced: {delay: 60 * time.Second},
	transport.CauseLoggedOut:          {wipeCreds: true, delay: 20 * time.Second},
	transport.CauseRestartRequired:    {delay: 10 * time.Second},
	transport.CauseTimedOut:           {delay: 20 * time.Second},
}

// Supervisor owns the transport handle and its lifecycle.
type Supervisor struct {
	cfg    *config.Config
	client transport.Client
	creds  *session.Store
	bus    *Bus
	retry  *retryCache
	logger *log.Logger

	mu           sync.Mutex
	state        State
	attempts     int
	connectedAt  time.Time
	lastAttempt  time.Time
	startedAt    time.Time
	notified     bool
	shuttingDown bool

	ctx      context.Context
	bioStop  chan struct{}
	loopDone chan struct{}

	// Injectable timers and credential wipe, swapped in tests.
	schedule func(d time.Duration, f func())
	sleep    func(d time.Duration)
	wipe     func() error
}

// NewSupervisor wires a supervisor over the transport and credential
// store. Call Start to begin connecting.
func NewSupervisor(cfg *config.Config, client transport.Client, creds *session.Store) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		client:   client,
		creds:    creds,
		bus:      NewBus(),
		retry:    newRetryCache(),
		logger:   log.New(log.Writer(), "[CONN] ", log.LstdFlags),
		state:    StateInitializing,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		sleep:    time.Sleep,
		wipe:     creds.Cleanup,
	}
}

// Bus returns the event fan-out other components subscribe on.
func (s *Supervisor) Bus() *Bus { return s.bus }

// Client returns the supervised transport handle. Reads only; all
// sends must go through SendSafely or message capabilities.
func (s *Supervisor) Client() transport.Client { return s.client }

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the session is open and authenticated.
func (s *Supervisor) Running() bool { return s.State() == StateRunning }

// Attempts returns the current reconnect attempt counter.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// HalveAttempts cuts the attempt counter in half. Called by the health
// supervisor when the connection has been down for too long.
func (s *Supervisor) HalveAttempts() {
	s.mu.Lock()
	s.attempts /= 2
	s.mu.Unlock()
}

// ConnectedAt returns when the session last reached running, or the
// zero time if it never has.
func (s *Supervisor) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

// Uptime returns the time since the process started supervising.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// LastAttempt returns when the last connect attempt started.
func (s *Supervisor) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

// TriggerReconnect forces a connect attempt when the session is down.
// Used by the health supervisor after a prolonged outage.
func (s *Supervisor) TriggerReconnect() {
	switch s.State() {
	case StateRunning, StateConnecting, StateStopping, StateStopped:
		return
	}
	go s.connect()
}

// RetryCacheLen returns the number of cached outbound messages.
func (s *Supervisor) RetryCacheLen() int { return s.retry.Len() }

// ClearCaches drops the retry cache. Invoked under memory pressure.
func (s *Supervisor) ClearCaches() { s.retry.Clear() }

// Start launches the event loop and the first connect attempt.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.loopDone = make(chan struct{})
	go s.eventLoop()
	s.connect()
}

// connect performs one connect attempt. Failure is routed through the
// same close handling as a mid-session drop.
func (s *Supervisor) connect() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	s.logger.Printf("🔌 Connecting (attempt %d/%d)", s.Attempts()+1, maxAttempts)
	if err := s.client.Connect(s.ctx); err != nil {
		s.logger.Printf("⚠️ Connect failed: %v", err)
		s.handleClose(transport.CauseUnknown, err)
	}
}

func (s *Supervisor) eventLoop() {
	defer close(s.loopDone)
	for ev := range s.client.Events() {
		switch e := ev.(type) {
		case transport.ConnectedEvent:
			s.onConnected(e)
			s.bus.Publish(TopicStatus, ev)
		case transport.QRCodeEvent:
			s.onQRCode(e)
		case transport.ChatsSyncedEvent:
			s.onChatsSynced()
		case transport.ClosedEvent:
			s.handleClose(e.Cause, e.Err)
			s.bus.Publish(TopicStatus, ev)
		case transport.MessageEvent:
			if e.Envelope != nil && e.Envelope.Content != nil {
				metrics.MessagesReceived.WithLabelValues(string(e.Envelope.Content.Kind)).Inc()
			}
			s.bus.Publish(TopicMessage, ev)
		case transport.CallEvent:
			s.onCall(e)
			s.bus.Publish(TopicCall, ev)
		case transport.GroupUpdateEvent:
			s.bus.Publish(TopicGroupUpdate, ev)
		case transport.ParticipantsEvent:
			s.bus.Publish(TopicParticipants, ev)
		case transport.CredsUpdateEvent:
			s.onCredsUpdate(e)
			s.bus.Publish(TopicCredsUpdate, ev)
		}
	}
}

func (s *Supervisor) onConnected(e transport.ConnectedEvent) {
	s.mu.Lock()
	s.state = StateRunning
	s.attempts = 0
	s.connectedAt = time.Now()
	startBio := s.cfg.AutoBio && s.bioStop == nil
	if startBio {
		s.bioStop = make(chan struct{})
	}
	s.mu.Unlock()

	metrics.ConnectionUp.Set(1)
	s.logger.Printf("✅ Connected as %s", e.UserID)
	if startBio {
		go s.bioLoop(s.bioStop)
	}
}

func (s *Supervisor) onQRCode(e transport.QRCodeEvent) {
	s.mu.Lock()
	s.state = StateAwaitingQR
	s.mu.Unlock()
	s.logger.Printf("📱 Pairing code ready, scan to authenticate: %s", e.Code)
}

// onChatsSynced sends the one-shot startup notice to the owner.
func (s *Supervisor) onChatsSynced() {
	s.mu.Lock()
	if s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.mu.Unlock()

	owner := s.cfg.OwnerNumber + transport.SuffixUser
	text := fmt.Sprintf("✅ %s is online and synced.", s.cfg.BotName)
	go func() {
		if _, err := s.SendSafely(s.ctx, owner, &transport.Outgoing{Text: text}); err != nil {
			s.logger.Printf("⚠️ Startup notice failed: %v", err)
		}
	}()
}

// onCredsUpdate persists refreshed credential material so the next
// dial authenticates with current state, not the material of the first
// login.
func (s *Supervisor) onCredsUpdate(e transport.CredsUpdateEvent) {
	if err := s.creds.Update(e.State); err != nil {
		s.logger.Printf("⚠️ Credential refresh not persisted: %v", err)
	}
}

func (s *Supervisor) onCall(e transport.CallEvent) {
	if !s.cfg.RejectCall {
		return
	}
	go func() {
		if err := s.client.RejectCall(s.ctx, e.CallID, e.CallerJID); err != nil {
			s.logger.Printf("⚠️ Call reject failed for %s: %v", e.CallID, err)
		} else {
			s.logger.Printf("📵 Rejected call %s from %s", e.CallID, e.CallerJID)
		}
	}()
}

// handleClose classifies the cause, cleans credentials when required,
// and schedules the next attempt.
func (s *Supervisor) handleClose(cause transport.CloseCause, err error) {
	metrics.ConnectionUp.Set(0)
	metrics.Reconnects.WithLabelValues(string(cause)).Inc()

	s.mu.Lock()
	if s.shuttingDown {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	policy, known := causePolicies[cause]
	s.logger.Printf("🔴 Connection closed (cause=%s attempt=%d): %v", cause, attempt, err)

	// The cap path wipes unconditionally, so the per-cause wipe would
	// be redundant on the capping close.
	if attempt >= maxAttempts {
		s.mu.Lock()
		s.state = StateError
		s.attempts = 0
		s.mu.Unlock()

		s.logger.Printf("🛑 Attempts exhausted, wiping session and cooling down %s", wipeCooldown)
		if cerr := s.wipe(); cerr != nil {
			s.logger.Printf("⚠️ Credential cleanup failed: %v", cerr)
		}
		s.schedule(wipeCooldown, s.connect)
		return
	}

	if policy.wipeCreds {
		if cerr := s.wipe(); cerr != nil {
			s.logger.Printf("⚠️ Credential cleanup failed: %v", cerr)
		}
	}

	delay := policy.delay
	if !known {
		delay = expBackoff(attempt)
	}
	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()

	s.logger.Printf("🔄 Reconnecting in %s", delay)
	s.schedule(delay, s.connect)
}

// expBackoff grows from 3s by 1.5x per attempt, capped at 45s.
func expBackoff(attempt int) time.Duration {
	d := time.Duration(float64(expBackoffMin) * math.Pow(expBackoffMult, float64(attempt-1)))
	if d > expBackoffMax {
		return expBackoffMax
	}
	return d
}

// SendSafely sends a message with up to 3 attempts, waiting
// 1s*attempt between them. It refuses to send unless the session is
// running, and records successes in the retry cache.
func (s *Supervisor) SendSafely(ctx context.Context, to string, msg *transport.Outgoing) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if s.State() != StateRunning {
			lastErr = fmt.Errorf("send to %s: connection not running (state=%s)", to, s.State())
		} else {
			id, err := s.client.SendMessage(ctx, to, msg)
			if err == nil {
				s.retry.Put(id, msg)
				return id, nil
			}
			lastErr = err
		}
		if attempt < sendAttempts {
			s.sleep(time.Duration(attempt) * time.Second)
		}
	}
	return "", lastErr
}

// bioLoop updates the profile status periodically, capped at three
// updates per hour.
func (s *Supervisor) bioLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.State() != StateRunning {
				continue
			}
			text := fmt.Sprintf("%s | online since %s", s.cfg.BotName,
				s.ConnectedAt().Format("15:04 MST"))
			if err := s.client.UpdateProfileStatus(s.ctx, text); err != nil {
				s.logger.Printf("⚠️ Bio update failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// Stop shuts the supervisor down: no further reconnects are scheduled
// and the transport is asked to close cleanly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.shuttingDown = true
	s.state = StateStopping
	if s.bioStop != nil {
		close(s.bioStop)
		s.bioStop = nil
	}
	s.mu.Unlock()

	s.client.Disconnect()

	if s.loopDone != nil {
		select {
		case <-s.loopDone:
		case <-time.After(2 * time.Second):
			s.logger.Printf("⚠️ Event loop did not drain in time")
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Printf("👋 Connection supervisor stopped")
}
