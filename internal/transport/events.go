package transport

import (
	"encoding/json"
	"time"
)

// CloseCause classifies why the transport closed. The connection
// supervisor maps each cause to credential cleanup and a backoff delay.
type CloseCause string

const (
	CauseBadSession         CloseCause = "badSession"
	CauseConnectionClosed   CloseCause = "connectionClosed"
	CauseConnectionLost     CloseCause = "connectionLost"
	CauseConnectionReplaced CloseCause = "connectionReplaced"
	CauseLoggedOut          CloseCause = "loggedOut"
	CauseRestartRequired    CloseCause = "restartRequired"
	CauseTimedOut           CloseCause = "timedOut"
	CauseUnknown            CloseCause = "unknown"
)

// ParticipantAction is a group membership delta type.
type ParticipantAction string

const (
	ParticipantAdd    ParticipantAction = "add"
	ParticipantRemove ParticipantAction = "remove"
)

// Event is implemented by every inbound transport event.
type Event interface{ eventTag() }

// ConnectedEvent signals a successfully authenticated session.
type ConnectedEvent struct {
	UserID string // bot's canonical identity
}

// ChatsSyncedEvent signals that the initial history sync completed.
type ChatsSyncedEvent struct{}

// QRCodeEvent carries a pairing code for interactive authentication.
type QRCodeEvent struct {
	Code string
}

// ClosedEvent signals that the transport closed.
type ClosedEvent struct {
	Cause CloseCause
	Err   error
}

// MessageEvent wraps one inbound message envelope.
type MessageEvent struct {
	Envelope *Envelope
}

// CallEvent signals an inbound voice call offer.
type CallEvent struct {
	CallID    string
	CallerJID string
	Timestamp time.Time
}

// GroupUpdateEvent signals a change to group metadata (subject, settings).
type GroupUpdateEvent struct {
	GroupJID string
}

// ParticipantsEvent signals a group membership delta.
type ParticipantsEvent struct {
	GroupJID     string
	Action       ParticipantAction
	Participants []string // opaque identities
}

// CredsUpdateEvent carries refreshed credential material; the session
// store must persist it before the next event is processed. State holds
// only the keys that changed.
type CredsUpdateEvent struct {
	State map[string]json.RawMessage
}

func (ConnectedEvent) eventTag()    {}
func (ChatsSyncedEvent) eventTag()  {}
func (QRCodeEvent) eventTag()       {}
func (ClosedEvent) eventTag()       {}
func (MessageEvent) eventTag()      {}
func (CallEvent) eventTag()         {}
func (GroupUpdateEvent) eventTag()  {}
func (ParticipantsEvent) eventTag() {}
func (CredsUpdateEvent) eventTag()  {}
