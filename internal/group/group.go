// Package group handles membership deltas: welcome and goodbye
// messages with profile image, template substitution and a mention of
// the affected member, plus new-member plugin hooks.
package group

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/identity"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/transport"
)

// Handler reacts to group participant events.
type Handler struct {
	cfg      *config.Config
	client   transport.Client
	resolver *identity.Resolver
	registry *plugin.Registry
	send     func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)
	logger   *log.Logger

	now func() time.Time
}

// NewHandler wires a group event handler.
func NewHandler(cfg *config.Config, client transport.Client, resolver *identity.Resolver,
	registry *plugin.Registry,
	send func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)) *Handler {
	return &Handler{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		registry: registry,
		send:     send,
		logger:   log.New(log.Writer(), "[GROUP] ", log.LstdFlags),
		now:      time.Now,
	}
}

// HandleParticipants processes one membership delta.
func (h *Handler) HandleParticipants(ctx context.Context, ev transport.ParticipantsEvent) {
	if !h.cfg.Welcome {
		return
	}

	info, err := h.client.GroupMetadata(ctx, ev.GroupJID)
	if err != nil {
		h.logger.Printf("⚠️ Metadata for %s failed, skipping delta: %v", ev.GroupJID, err)
		return
	}

	for _, raw := range ev.Participants {
		res := h.resolver.Resolve(ctx, raw, ev.GroupJID)
		jid := res.JID
		if jid == "" {
			continue
		}

		text := h.renderTemplate(ctx, ev.Action, jid, info)
		pic := h.profilePicture(ctx, jid)
		if _, err := h.send(ctx, ev.GroupJID, &transport.Outgoing{
			Text:     text,
			ImageURL: pic,
			Mentions: []string{jid},
		}); err != nil {
			h.logger.Printf("⚠️ %s notice for %s failed: %v", ev.Action, jid, err)
		}

		if ev.Action == transport.ParticipantAdd {
			h.invokeMemberHooks(ctx, ev.GroupJID, jid)
		}
	}
}

func (h *Handler) renderTemplate(ctx context.Context, action transport.ParticipantAction, jid string, info *transport.GroupInfo) string {
	tmpl := h.cfg.WelcomeText
	if action == transport.ParticipantRemove {
		tmpl = h.cfg.GoodbyeText
	}

	name := transport.LocalPart(jid)
	if n, err := h.client.ContactName(ctx, jid); err == nil && n != "" {
		name = n
	}
	now := h.now()

	rep := strings.NewReplacer(
		"{name}", "@"+name,
		"{group}", info.Subject,
		"{members}", strconv.Itoa(len(info.Participants)),
		"{date}", now.Format("2006-01-02"),
		"{time}", now.Format("15:04"),
	)
	return rep.Replace(tmpl)
}

func (h *Handler) profilePicture(ctx context.Context, jid string) string {
	pic, err := h.client.ProfilePictureURL(ctx, jid)
	if err != nil || pic == "" {
		return h.cfg.WelcomeImageURL
	}
	return pic
}

func (h *Handler) invokeMemberHooks(ctx context.Context, groupJID, memberJID string) {
	for _, e := range h.registry.Entries() {
		hook, ok := e.Plugin.(plugin.MemberHook)
		if !ok {
			continue
		}
		hook.OnMemberJoin(ctx, groupJID, memberJID)
	}
}
