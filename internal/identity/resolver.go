// Package identity canonicalizes opaque participant identifiers to
// stable phone-form identities. Every identity written to the store or
// compared anywhere in the core must pass through this resolver first.
package identity

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hermesbot/hermes/internal/transport"
)

const (
	cacheTTL        = 30 * time.Minute
	fullClearPeriod = time.Hour
)

// Resolved is the outcome of one resolution. Unresolved marks a
// best-effort value that must not be persisted without re-resolution.
type Resolved struct {
	JID        string
	Unresolved bool
}

type cacheEntry struct {
	jid      string
	inserted time.Time
}

// Resolver canonicalizes identities, caching surrogate-key lookups for
// 30 minutes. The cache is process-local and never persisted.
type Resolver struct {
	client transport.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry

	stop   chan struct{}
	logger *log.Logger
}

// NewResolver builds a resolver over the given transport.
func NewResolver(client transport.Client) *Resolver {
	r := &Resolver{
		client: client,
		cache:  make(map[string]cacheEntry),
		stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[IDENTITY] ", log.LstdFlags),
	}
	go r.clearLoop()
	return r
}

// Close stops the background cache-clear timer.
func (r *Resolver) Close() { close(r.stop) }

// Resolve canonicalizes an opaque identity. Three cases:
//
//  1. already-canonical individual identity, possibly with a device
//     suffix: the suffix is stripped;
//  2. surrogate (@lid) identity seen inside groupJID: resolved against
//     the cached or freshly fetched participant roster;
//  3. anything else is returned unchanged with a warning.
//
// When the roster fetch fails, a digits-derived form is returned with
// Unresolved set so downstream code re-resolves before persisting.
func (r *Resolver) Resolve(ctx context.Context, opaque, groupJID string) Resolved {
	if opaque == "" {
		return Resolved{JID: "", Unresolved: true}
	}

	if strings.HasSuffix(opaque, transport.SuffixUser) {
		return Resolved{JID: transport.LocalPart(opaque) + transport.SuffixUser}
	}

	if strings.HasSuffix(opaque, transport.SuffixLID) && groupJID != "" {
		if jid, ok := r.cached(opaque); ok {
			return Resolved{JID: jid}
		}
		if jid, ok := r.resolveFromRoster(ctx, opaque, groupJID); ok {
			r.put(opaque, jid)
			return Resolved{JID: jid}
		}
		// Best-effort fallback from the digits of the surrogate key.
		digits := digitsOf(transport.LocalPart(opaque))
		if digits != "" {
			return Resolved{JID: digits + transport.SuffixUser, Unresolved: true}
		}
		return Resolved{JID: opaque, Unresolved: true}
	}

	r.logger.Printf("⚠️ Cannot canonicalize %q, returning as-is", opaque)
	return Resolved{JID: opaque, Unresolved: true}
}

// ValidateAndNormalize returns the canonical form of opaque, or ""
// unless the result is an individual endpoint with a purely numeric
// local part.
func (r *Resolver) ValidateAndNormalize(opaque string) string {
	if !strings.HasSuffix(opaque, transport.SuffixUser) {
		return ""
	}
	local := transport.LocalPart(opaque)
	if local == "" || digitsOf(local) != local {
		return ""
	}
	return local + transport.SuffixUser
}

// resolveFromRoster fetches the group roster and matches the surrogate
// key against each participant's LID or phone field.
func (r *Resolver) resolveFromRoster(ctx context.Context, opaque, groupJID string) (string, bool) {
	info, err := r.client.GroupMetadata(ctx, groupJID)
	if err != nil {
		r.logger.Printf("⚠️ Roster fetch for %s failed: %v", groupJID, err)
		return "", false
	}
	key := transport.LocalPart(opaque)
	for _, p := range info.Participants {
		if p.LID != "" && transport.LocalPart(p.LID) == key {
			if jid := r.canonicalParticipant(p); jid != "" {
				return jid, true
			}
		}
		if p.Phone != "" && digitsOf(p.Phone) == key {
			if jid := r.canonicalParticipant(p); jid != "" {
				return jid, true
			}
		}
	}
	return "", false
}

func (r *Resolver) canonicalParticipant(p transport.GroupParticipant) string {
	if p.JID != "" && strings.HasSuffix(p.JID, transport.SuffixUser) {
		return transport.LocalPart(p.JID) + transport.SuffixUser
	}
	if p.Phone != "" {
		return digitsOf(p.Phone) + transport.SuffixUser
	}
	return ""
}

func (r *Resolver) cached(opaque string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[opaque]
	if !ok || time.Since(e.inserted) > cacheTTL {
		return "", false
	}
	return e.jid, true
}

// put inserts only successful resolutions.
func (r *Resolver) put(opaque, jid string) {
	r.mu.Lock()
	r.cache[opaque] = cacheEntry{jid: jid, inserted: time.Now()}
	r.mu.Unlock()
}

// CacheSize returns the number of live cache entries.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// ClearCache drops every cached entry. Called hourly to bound memory
// and by the health supervisor under memory pressure.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) clearLoop() {
	ticker := time.NewTicker(fullClearPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.ClearCache()
		case <-r.stop:
			return
		}
	}
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
