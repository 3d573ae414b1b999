// Package router turns normalized messages into plugin invocations:
// read receipts, permission and mode gates, rate limiting, prefix
// parsing, anti-link policy, and error isolation around plugin runs.
package router

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/message"
	"github.com/hermesbot/hermes/internal/metrics"
	"github.com/hermesbot/hermes/internal/perm"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/transport"
)

// linkPattern matches explicit http(s) URLs only; bare domains are
// not policed.
var linkPattern = regexp.MustCompile(`(?i)\bhttps?://\S+`)

// decryptFailures are transport-level errors demoted to warnings.
var decryptFailures = []string{"Bad MAC", "Failed to decrypt"}

const (
	antilinkDelay = 2 * time.Second
	autoReactRate = 0.10
)

var reactEmojis = []string{"👍", "🔥", "😂", "❤️", "💯", "🎉"}

// Deps wires the router's collaborators.
type Deps struct {
	Config     *config.Config
	Client     transport.Client
	Normalizer *message.Normalizer
	Registry   *plugin.Registry
	Oracle     *perm.Oracle
	Rate       *perm.RateLimiter
	Store      plugin.Store
	Sched      *sched.Scheduler
	StartedAt  time.Time
	Send       func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)
}

// Router dispatches inbound envelopes.
type Router struct {
	d      Deps
	logger *log.Logger

	// Injectable for tests.
	delay     func(time.Duration)
	randFloat func() float64
}

// New builds a router.
func New(d Deps) *Router {
	return &Router{
		d:         d,
		logger:    log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
		delay:     time.Sleep,
		randFloat: rand.Float64,
	}
}

// HandleEnvelope normalizes and routes one inbound envelope. Safe to
// call concurrently; one call per message.
func (r *Router) HandleEnvelope(ctx context.Context, env *transport.Envelope) {
	if env == nil {
		return
	}
	if env.ChatJID == transport.StatusBroadcast {
		if r.d.Config.AutoStatusSeen {
			if err := r.d.Client.MarkRead(ctx, env.ChatJID, []string{env.ID}); err != nil {
				r.logger.Printf("⚠️ Status read receipt failed: %v", err)
			}
		}
		return
	}
	r.dispatch(ctx, r.d.Normalizer.Normalize(ctx, env))
}

// dispatch applies the gating procedure to a normalized message.
func (r *Router) dispatch(ctx context.Context, m *message.Message) {
	if r.d.Config.AutoRead && !m.FromMe {
		if err := r.d.Client.MarkRead(ctx, m.ChatJID, []string{m.ID}); err != nil {
			r.logger.Printf("⚠️ Read receipt failed: %v", err)
		}
	}

	isOwner := r.d.Oracle.IsOwner(m.Sender)
	if !isOwner {
		if r.d.Oracle.IsBanned(ctx, m.Sender) {
			return
		}
		if !r.d.Oracle.Admitted(ctx, m.Sender) {
			return
		}
		if !r.d.Rate.Allow(m.Sender, "global") {
			metrics.RateLimited.Inc()
			return
		}
	}

	if r.handleAntilink(ctx, m, isOwner) {
		return
	}

	if r.d.Config.AutoReact && !m.FromMe && r.randFloat() < autoReactRate {
		emoji := reactEmojis[rand.Intn(len(reactEmojis))]
		go func() {
			if err := m.React(ctx, emoji); err != nil {
				r.logger.Printf("⚠️ Auto-react failed: %v", err)
			}
		}()
	}

	// Strict prefix: no whitespace tolerance before the prefix.
	if !strings.HasPrefix(m.Body, r.d.Config.Prefix) {
		return
	}
	rest := strings.TrimPrefix(m.Body, r.d.Config.Prefix)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	token := strings.ToLower(fields[0])
	argsText := strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))

	if r.d.Registry.Reloading() {
		r.replyOnce(ctx, m, "Plugins are reloading, try again in a moment.")
		return
	}
	entry, ok := r.d.Registry.Lookup(token)
	if !ok {
		return
	}

	if diag := r.gateDiagnostic(ctx, m, entry.Desc, isOwner); diag != "" {
		r.replyOnce(ctx, m, diag)
		return
	}

	r.invoke(ctx, m, entry, token, fields[1:], argsText)
}

// gateDiagnostic checks the plugin gates in order and returns the
// one-line reason for the first violation, or "".
func (r *Router) gateDiagnostic(ctx context.Context, m *message.Message, d plugin.Descriptor, isOwner bool) string {
	if d.OwnerOnly && !isOwner {
		return "owner only"
	}
	if d.AdminOnly && !isOwner && !r.d.Oracle.IsAdmin(ctx, m.Sender) {
		return "admins only"
	}
	if d.GroupOnly && !m.IsGroup {
		return "groups only"
	}
	return ""
}

// handleAntilink enforces the link policy in groups. Returns true when
// the message was consumed by the policy.
func (r *Router) handleAntilink(ctx context.Context, m *message.Message, isOwner bool) bool {
	if !r.d.Config.Antilink || !m.IsGroup || isOwner || m.FromMe {
		return false
	}
	if !linkPattern.MatchString(m.Body) {
		return false
	}
	if r.d.Oracle.IsAdmin(ctx, m.Sender) {
		return false
	}

	r.replyOnce(ctx, m, "🚫 Links are not allowed here.")
	if !m.IsBotAdmin(ctx) {
		r.logger.Printf("⚠️ Link from %s in %s but bot is not admin", m.Sender, m.ChatJID)
		return true
	}

	r.delay(antilinkDelay)
	if err := r.d.Client.GroupRemove(ctx, m.ChatJID, []string{m.Sender}); err != nil {
		r.logger.Printf("⚠️ Removing %s from %s failed: %v", m.Sender, m.ChatJID, err)
	}
	return true
}

// invoke runs the plugin with full error isolation.
func (r *Router) invoke(ctx context.Context, m *message.Message, entry *plugin.Entry, token string, args []string, argsText string) {
	pctx := &plugin.Context{
		Message:   m,
		Client:    r.d.Client,
		Config:    r.d.Config,
		Logger:    log.New(log.Writer(), "[PLUGIN:"+entry.Desc.Name+"] ", log.LstdFlags),
		Command:   token,
		Args:      args,
		ArgsText:  argsText,
		Perm:      r.d.Oracle,
		Rate:      r.d.Rate,
		Store:     r.d.Store,
		Sched:     r.d.Sched,
		Registry:  r.d.Registry,
		StartedAt: r.d.StartedAt,
		Send:      r.d.Send,
	}

	start := time.Now()
	err := r.runIsolated(ctx, entry, pctx)
	r.d.Registry.RecordRun(entry, time.Since(start), err)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if isDecryptFailure(err) {
			r.logger.Printf("⚠️ Decrypt failure in %s, dropping: %v", entry.Desc.Name, err)
		} else {
			r.logger.Printf("⚠️ Plugin %s failed on %q: %v", entry.Desc.Name, token, err)
		}
	}
	metrics.CommandsDispatched.WithLabelValues(entry.Desc.Name, outcome).Inc()
}

func (r *Router) runIsolated(ctx context.Context, entry *plugin.Entry, pctx *plugin.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return entry.Plugin.Run(ctx, pctx)
}

func (r *Router) replyOnce(ctx context.Context, m *message.Message, text string) {
	if _, err := m.Reply(ctx, text); err != nil {
		r.logger.Printf("⚠️ Diagnostic reply failed: %v", err)
	}
}

func isDecryptFailure(err error) bool {
	msg := err.Error()
	for _, needle := range decryptFailures {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
