// Package perm answers the permission questions the router asks about
// a sender: owner, admin, banned, and whether the current mode admits
// them. Store lookups degrade to the static config on failure.
package perm

import (
	"context"
	"log"
	"strings"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/transport"
)

// Backing is the slice of the document store the oracle reads.
// Satisfied by *store.Client; nil means config-only operation.
type Backing interface {
	IsAdmin(ctx context.Context, jid string) (bool, error)
	IsBanned(ctx context.Context, jid string) (bool, error)
	GetMode(ctx context.Context) (string, error)
}

// Oracle evaluates permission predicates against the config and the
// optional store backing.
type Oracle struct {
	cfg     *config.Config
	backing Backing
	logger  *log.Logger
}

// NewOracle builds an oracle. backing may be nil.
func NewOracle(cfg *config.Config, backing Backing) *Oracle {
	return &Oracle{
		cfg:     cfg,
		backing: backing,
		logger:  log.New(log.Writer(), "[PERM] ", log.LstdFlags),
	}
}

// IsOwner reports whether the canonical identity is the configured
// owner. Comparison is on the numeric local part.
func (o *Oracle) IsOwner(jid string) bool {
	return transport.LocalPart(jid) == o.cfg.OwnerNumber
}

// IsAdmin reports whether the identity is the owner, statically
// configured as admin, or store-promoted.
func (o *Oracle) IsAdmin(ctx context.Context, jid string) bool {
	if o.IsOwner(jid) {
		return true
	}
	local := transport.LocalPart(jid)
	for _, n := range o.cfg.AdminNumbers {
		if strings.TrimSpace(n) == local {
			return true
		}
	}
	if o.backing != nil {
		ok, err := o.backing.IsAdmin(ctx, jid)
		if err != nil {
			o.logger.Printf("⚠️ Admin lookup failed, using config only: %v", err)
			return false
		}
		return ok
	}
	return false
}

// IsBanned reports whether the identity is blacklisted. The owner can
// never be banned. On store failure the sender is treated as not
// banned.
func (o *Oracle) IsBanned(ctx context.Context, jid string) bool {
	if o.IsOwner(jid) {
		return false
	}
	if o.backing == nil {
		return false
	}
	banned, err := o.backing.IsBanned(ctx, jid)
	if err != nil {
		o.logger.Printf("⚠️ Ban lookup failed, treating as not banned: %v", err)
		return false
	}
	return banned
}

// Mode returns the effective runtime mode: the store's mode document
// when readable and valid, otherwise the static config value.
func (o *Oracle) Mode(ctx context.Context) string {
	if o.backing != nil {
		mode, err := o.backing.GetMode(ctx)
		if err != nil {
			o.logger.Printf("⚠️ Mode lookup failed, using config: %v", err)
		} else if mode == config.ModePublic || mode == config.ModePrivate {
			return mode
		}
	}
	return o.cfg.Mode
}

// Admitted reports whether the sender may use commands under the
// effective mode: everyone in public mode, owner and admins otherwise.
func (o *Oracle) Admitted(ctx context.Context, jid string) bool {
	if o.Mode(ctx) == config.ModePublic {
		return true
	}
	return o.IsAdmin(ctx, jid)
}
