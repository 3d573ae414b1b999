package transport

import (
	"context"
	"sync"
)

// FakeClient is an in-memory Client used by tests across the core
// packages. It records outbound calls and lets tests inject events,
// group rosters and failures.
type FakeClient struct {
	mu sync.Mutex

	ReadyState bool
	BotID      string
	closed     bool

	Groups   map[string]*GroupInfo
	Names    map[string]string
	Pictures map[string]string
	Media    map[string][]byte // keyed by MediaRef.URL

	Sent      []SentMessage
	Reactions []SentReaction
	ReadMarks [][]string
	Removed   map[string][]string
	Rejected  []string
	StatusLog []string

	SendErr     error
	MetadataErr error

	EventCh chan Event
}

// SentMessage is one recorded SendMessage call.
type SentMessage struct {
	To  string
	Msg *Outgoing
}

// SentReaction is one recorded SendReaction call.
type SentReaction struct {
	To        string
	MessageID string
	Emoji     string
}

// NewFakeClient returns a connected fake with empty state.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		ReadyState: true,
		BotID:      "999000111" + SuffixUser,
		Groups:     make(map[string]*GroupInfo),
		Names:      make(map[string]string),
		Pictures:   make(map[string]string),
		Media:      make(map[string][]byte),
		Removed:    make(map[string][]string),
		EventCh:    make(chan Event, 64),
	}
}

func (f *FakeClient) Connect(ctx context.Context) error { return nil }

func (f *FakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.EventCh)
	}
}

func (f *FakeClient) Events() <-chan Event { return f.EventCh }

func (f *FakeClient) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadyState
}

func (f *FakeClient) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BotID
}

func (f *FakeClient) SendMessage(ctx context.Context, to string, msg *Outgoing) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.Sent = append(f.Sent, SentMessage{To: to, Msg: msg})
	return "fake-id", nil
}

func (f *FakeClient) SendReaction(ctx context.Context, to, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, SentReaction{To: to, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *FakeClient) MarkRead(ctx context.Context, chat string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadMarks = append(f.ReadMarks, append([]string{chat}, ids...))
	return nil
}

func (f *FakeClient) SendPresence(ctx context.Context, available bool) error { return nil }

func (f *FakeClient) UpdateProfileStatus(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusLog = append(f.StatusLog, text)
	return nil
}

func (f *FakeClient) GroupMetadata(ctx context.Context, groupJID string) (*GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MetadataErr != nil {
		return nil, f.MetadataErr
	}
	if g, ok := f.Groups[groupJID]; ok {
		return g, nil
	}
	return &GroupInfo{JID: groupJID}, nil
}

func (f *FakeClient) GroupRemove(ctx context.Context, groupJID string, participants []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed[groupJID] = append(f.Removed[groupJID], participants...)
	return nil
}

func (f *FakeClient) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pictures[jid], nil
}

func (f *FakeClient) ContactName(ctx context.Context, jid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Names[jid], nil
}

func (f *FakeClient) DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Media[ref.URL], nil
}

func (f *FakeClient) RejectCall(ctx context.Context, callID, callerJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rejected = append(f.Rejected, callID)
	return nil
}

// RejectedCalls returns a copy of the rejected call ids.
func (f *FakeClient) RejectedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Rejected...)
}

// SentCount returns the number of recorded outbound messages.
func (f *FakeClient) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// LastSent returns the most recent outbound message, or nil.
func (f *FakeClient) LastSent() *SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	s := f.Sent[len(f.Sent)-1]
	return &s
}

var _ Client = (*FakeClient)(nil)
