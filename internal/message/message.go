// Package message flattens raw transport envelopes into the normalized
// form every downstream consumer works with. Normalization never
// fails: extraction errors degrade the affected field to its empty
// default and log a warning.
package message

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hermesbot/hermes/internal/identity"
	"github.com/hermesbot/hermes/internal/transport"
)

// mediaKinds is the fixed set of content kinds that carry media.
var mediaKinds = map[transport.ContentKind]bool{
	transport.KindImage:    true,
	transport.KindVideo:    true,
	transport.KindAudio:    true,
	transport.KindDocument: true,
	transport.KindSticker:  true,
}

// Quoted describes the message a normalized message replies to.
type Quoted struct {
	ID         string
	Sender     string // canonical, unless Unresolved
	Unresolved bool   // sender could not be canonicalized synchronously
	Type       transport.ContentKind
	Text       string
	Media      *transport.MediaRef
}

// Message is the normalized form of one inbound envelope. Body is
// never empty-by-accident: it is "" when the message carries no text,
// never a nil-ish placeholder. Mentions holds only canonical
// individual identities.
type Message struct {
	ID        string
	ChatJID   string // origin endpoint
	Sender    string // canonical sender identity
	IsGroup   bool
	FromMe    bool
	PushName  string
	Type      transport.ContentKind
	Body      string
	Mentions  []string
	Quoted    *Quoted
	Timestamp time.Time

	media  *transport.MediaRef
	client transport.Client
	logger *log.Logger
}

// Normalizer turns envelopes into Messages.
type Normalizer struct {
	client   transport.Client
	resolver *identity.Resolver
	logger   *log.Logger
}

// NewNormalizer builds a normalizer over the transport and resolver.
func NewNormalizer(client transport.Client, resolver *identity.Resolver) *Normalizer {
	return &Normalizer{
		client:   client,
		resolver: resolver,
		logger:   log.New(log.Writer(), "[NORMALIZE] ", log.LstdFlags),
	}
}

// maxUnwrapPasses bounds wrapper unwrapping; well-formed input nests at
// most one ephemeral and one view-once layer.
const maxUnwrapPasses = 4

// Unwrap peels ephemeral and view-once wrappers off a content variant
// and returns the innermost variant. Nil-safe.
func Unwrap(c *transport.Content) *transport.Content {
	for i := 0; i < maxUnwrapPasses && c != nil; i++ {
		if (c.Kind == transport.KindEphemeral || c.Kind == transport.KindViewOnce) && c.Inner != nil {
			c = c.Inner
			continue
		}
		break
	}
	return c
}

// ExtractBody applies the body precedence rules to an (already
// unwrapped) content variant. The result is always a trimmed string.
func ExtractBody(c *transport.Content) string {
	if c == nil {
		return ""
	}
	candidates := []string{c.Conversation}
	if c.Text != nil {
		candidates = append(candidates, c.Text.Text)
	}
	if c.Media != nil {
		candidates = append(candidates, c.Media.Caption)
	}
	if c.ListReply != nil {
		candidates = append(candidates, c.ListReply.SelectedRowID)
	}
	if c.ButtonsReply != nil {
		candidates = append(candidates, c.ButtonsReply.SelectedButtonID)
	}
	if c.TemplateReply != nil {
		candidates = append(candidates, c.TemplateReply.SelectedID)
	}
	for _, s := range candidates {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// Normalize flattens one envelope. It is deterministic apart from the
// resolver lookups it performs for group-member identities.
func (n *Normalizer) Normalize(ctx context.Context, env *transport.Envelope) *Message {
	m := &Message{
		ID:        env.ID,
		ChatJID:   env.ChatJID,
		IsGroup:   transport.IsGroupJID(env.ChatJID),
		FromMe:    env.FromMe,
		PushName:  env.PushName,
		Timestamp: env.Timestamp,
		Type:      transport.KindUnknown,
		client:    n.client,
		logger:    n.logger,
	}

	sender := n.resolver.Resolve(ctx, env.SenderJID, env.ChatJID)
	m.Sender = sender.JID

	content := Unwrap(env.Content)
	if content == nil {
		return m
	}
	m.Type = content.Kind
	m.Body = ExtractBody(content)
	if content.Media != nil {
		m.media = content.Media.Ref
	}

	if info := content.Context; info != nil {
		m.Quoted = n.buildQuoted(ctx, info, env.ChatJID)
		m.Mentions = n.resolveMentions(ctx, info, env.ChatJID)
		if m.Quoted != nil && !m.Quoted.Unresolved && m.Quoted.Sender != "" {
			m.Mentions = appendUnique(m.Mentions, m.Quoted.Sender)
		}
	}
	return m
}

func (n *Normalizer) buildQuoted(ctx context.Context, info *transport.ContextInfo, chatJID string) *Quoted {
	if info.Quoted == nil {
		return nil
	}
	inner := Unwrap(info.Quoted)
	q := &Quoted{
		ID:   info.StanzaID,
		Type: inner.Kind,
		Text: ExtractBody(inner),
	}
	if inner.Media != nil {
		q.Media = inner.Media.Ref
	}
	if info.Participant != "" {
		res := n.resolver.Resolve(ctx, info.Participant, chatJID)
		q.Sender = res.JID
		q.Unresolved = res.Unresolved
	} else {
		q.Unresolved = true
	}
	return q
}

func (n *Normalizer) resolveMentions(ctx context.Context, info *transport.ContextInfo, chatJID string) []string {
	var out []string
	for _, raw := range info.MentionedJIDs {
		res := n.resolver.Resolve(ctx, raw, chatJID)
		if jid := n.resolver.ValidateAndNormalize(res.JID); jid != "" {
			out = appendUnique(out, jid)
		} else {
			n.logger.Printf("⚠️ Dropping unusable mention %q", raw)
		}
	}
	return out
}

func appendUnique(list []string, jid string) []string {
	for _, v := range list {
		if v == jid {
			return list
		}
	}
	return append(list, jid)
}

// ============================================================================
// CAPABILITIES
// ============================================================================

// Reply sends text to the origin endpoint quoting this message.
func (m *Message) Reply(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("reply: empty text")
	}
	return m.client.SendMessage(ctx, m.ChatJID, &transport.Outgoing{
		Text:     text,
		QuoteID:  m.ID,
		QuoteJID: m.Sender,
	})
}

// React sends an emoji reaction keyed to this message.
func (m *Message) React(ctx context.Context, emoji string) error {
	return m.client.SendReaction(ctx, m.ChatJID, m.ID, emoji)
}

// HasMedia reports whether this message's type carries media.
func (m *Message) HasMedia() bool { return mediaKinds[m.Type] }

// Download fetches the primary media bytes, or nil when the message
// carries none.
func (m *Message) Download(ctx context.Context) ([]byte, error) {
	if m.media == nil {
		return nil, nil
	}
	return m.client.DownloadMedia(ctx, m.media)
}

// DownloadQuoted fetches the quoted message's media bytes, or nil.
func (m *Message) DownloadQuoted(ctx context.Context) ([]byte, error) {
	if m.Quoted == nil || m.Quoted.Media == nil {
		return nil, nil
	}
	return m.client.DownloadMedia(ctx, m.Quoted.Media)
}

// GetName resolves the sender's display name, falling back to the
// push name and finally the sender's local part.
func (m *Message) GetName(ctx context.Context) string {
	if name, err := m.client.ContactName(ctx, m.Sender); err == nil && name != "" {
		return name
	}
	if m.PushName != "" {
		return m.PushName
	}
	return transport.LocalPart(m.Sender)
}

// IsAdmin reports whether the sender is an admin of the origin group.
// Always false outside groups.
func (m *Message) IsAdmin(ctx context.Context) bool {
	return m.groupAdmin(ctx, m.Sender)
}

// IsBotAdmin reports whether the bot is an admin of the origin group.
func (m *Message) IsBotAdmin(ctx context.Context) bool {
	return m.groupAdmin(ctx, m.client.UserID())
}

func (m *Message) groupAdmin(ctx context.Context, jid string) bool {
	if !m.IsGroup {
		return false
	}
	info, err := m.client.GroupMetadata(ctx, m.ChatJID)
	if err != nil {
		m.logger.Printf("⚠️ Group metadata for %s failed: %v", m.ChatJID, err)
		return false
	}
	local := transport.LocalPart(jid)
	for _, p := range info.Participants {
		if transport.LocalPart(p.JID) == local {
			return p.IsAdmin || p.IsSuperAdmin
		}
	}
	return false
}
