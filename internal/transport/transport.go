// Package transport defines the contract between the bot core and the
// messaging-network library. The wire protocol itself (framing, session
// crypto, media transport) lives behind this interface; the core only
// sees connect/send/receive plus typed events.
package transport

import (
	"context"
	"strings"
	"time"
)

// Endpoint domain suffixes used across the network.
const (
	SuffixUser      = "@s.whatsapp.net" // canonical individual endpoint
	SuffixGroup     = "@g.us"           // group endpoint
	SuffixLID       = "@lid"            // opaque surrogate endpoint
	StatusBroadcast = "status@broadcast"
)

// Timeouts every implementation must honour.
const (
	ConnectTimeout  = 45 * time.Second
	QueryTimeout    = 30 * time.Second
	KeepAlivePeriod = 30 * time.Second
)

// IsGroupJID reports whether the endpoint is a group.
func IsGroupJID(jid string) bool { return strings.HasSuffix(jid, SuffixGroup) }

// IsUserJID reports whether the endpoint is a canonical individual identity.
func IsUserJID(jid string) bool { return strings.HasSuffix(jid, SuffixUser) }

// LocalPart strips the domain suffix and any device suffix (":<n>")
// from an endpoint, leaving the bare local part.
func LocalPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// Outgoing is a message the core hands to the transport for delivery.
type Outgoing struct {
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"` // header image for templated sends
	Mentions []string `json:"mentions,omitempty"`  // canonical identities to notify
	QuoteID  string   `json:"quote_id,omitempty"`  // message id being replied to
	QuoteJID string   `json:"quote_jid,omitempty"` // sender of the quoted message
}

// GroupParticipant is one member of a group roster.
type GroupParticipant struct {
	JID          string `json:"jid"`           // canonical identity when known
	LID          string `json:"lid,omitempty"` // surrogate key, if the roster is LID-addressed
	Phone        string `json:"phone,omitempty"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// GroupInfo is the metadata for a group endpoint.
type GroupInfo struct {
	JID          string             `json:"jid"`
	Subject      string             `json:"subject"`
	Participants []GroupParticipant `json:"participants"`
}

// MediaRef points at downloadable media held by the network.
type MediaRef struct {
	URL       string `json:"url"`
	MediaKey  []byte `json:"media_key,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Client is the single transport handle owned by the connection
// supervisor. All methods taking a context respect its deadline; the
// implementation applies QueryTimeout when the caller sets none.
type Client interface {
	// Connect dials and authenticates. It returns once the session is
	// established or fails; subsequent activity arrives via Events.
	Connect(ctx context.Context) error

	// Disconnect ends the session. Safe to call when not connected.
	Disconnect()

	// Events returns the inbound event stream. The channel is closed
	// when the connection terminates.
	Events() <-chan Event

	// Ready reports whether the transport is authenticated and open.
	Ready() bool

	// UserID returns the authenticated bot identity (canonical form),
	// or "" before authentication completes.
	UserID() string

	SendMessage(ctx context.Context, to string, msg *Outgoing) (id string, err error)
	SendReaction(ctx context.Context, to, messageID, emoji string) error
	MarkRead(ctx context.Context, chat string, messageIDs []string) error
	SendPresence(ctx context.Context, available bool) error
	UpdateProfileStatus(ctx context.Context, text string) error

	GroupMetadata(ctx context.Context, groupJID string) (*GroupInfo, error)
	GroupRemove(ctx context.Context, groupJID string, participants []string) error
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
	ContactName(ctx context.Context, jid string) (string, error)

	DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error)
	RejectCall(ctx context.Context, callID, callerJID string) error
}
