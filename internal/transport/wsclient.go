package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	maxMsgSize  = 512 * 1024 // 512KB per frame
	sendBuffer  = 256
	eventBuffer = 512
)

// frame is the JSON envelope spoken to the gateway daemon. Calls carry
// method/params and are answered by a frame with the same id; events
// carry event/payload and are unsolicited.
type frame struct {
	Type    string          `json:"type"` // "call" | "result" | "event"
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient implements Client over a websocket connection to a local
// gateway daemon that owns the end-to-end messaging protocol. All
// writes go through the send channel into writePump; readPump is the
// only reader. This mirrors the pump ownership rule that keeps
// concurrent frame writes off a single websocket.
type WSClient struct {
	url   string
	token func() string // session token supplier, re-read on every dial

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    *sync.Once
	pending map[string]chan *frame

	events chan Event
	ready  bool
	userID string

	logger *log.Logger
}

// NewWSClient builds a gateway client. token is consulted at dial time
// so a refreshed session is picked up on reconnect.
func NewWSClient(url string, token func() string) *WSClient {
	return &WSClient{
		url:     url,
		token:   token,
		pending: make(map[string]chan *frame),
		events:  make(chan Event, eventBuffer),
		logger:  log.New(log.Writer(), "[TRANSPORT] ", log.LstdFlags),
	}
}

// Connect dials the gateway and starts the pump goroutines.
func (c *WSClient) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if t := c.token(); t != "" {
		header.Set("Authorization", "Bearer "+t)
	}

	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendBuffer)
	c.done = make(chan struct{})
	c.once = &sync.Once{}
	c.ready = true
	c.mu.Unlock()

	go c.writePump(conn, c.send, c.done)
	go c.readPump(conn)

	c.logger.Printf("🔌 Connected to gateway %s", c.url)
	return nil
}

// Disconnect closes the gateway connection. Safe when not connected.
func (c *WSClient) Disconnect() {
	c.mu.Lock()
	conn, once, done := c.conn, c.once, c.done
	c.mu.Unlock()
	if conn == nil || once == nil {
		return
	}
	once.Do(func() {
		close(done)
		conn.Close()
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
	})
}

// Events returns the inbound event stream.
func (c *WSClient) Events() <-chan Event { return c.events }

// Ready reports whether the socket is open and authenticated.
func (c *WSClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.userID != ""
}

// UserID returns the authenticated bot identity.
func (c *WSClient) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *WSClient) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Printf("Write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Printf("Ping failed: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (c *WSClient) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
	}()

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("Read error: %v", err)
			}
			c.emit(ClosedEvent{Cause: CauseConnectionLost, Err: err})
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch f.Type {
		case "result":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- &f
			}
		case "event":
			c.dispatchEvent(&f)
		}
	}
}

// dispatchEvent decodes a gateway event frame into a typed Event.
func (c *WSClient) dispatchEvent(f *frame) {
	switch f.Event {
	case "connected":
		var p struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Dropping malformed connected payload: %v", err)
			return
		}
		c.mu.Lock()
		c.userID = p.UserID
		c.mu.Unlock()
		c.emit(ConnectedEvent{UserID: p.UserID})
	case "chats_synced":
		c.emit(ChatsSyncedEvent{})
	case "qr":
		var p struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Dropping malformed qr payload: %v", err)
			return
		}
		c.emit(QRCodeEvent{Code: p.Code})
	case "closed":
		var p struct {
			Cause string `json:"cause"`
		}
		// A close must always surface; a payload the gateway mangled
		// still reconnects, just on the unknown-cause path.
		cause := CauseUnknown
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Malformed close payload, treating cause as unknown: %v", err)
		} else if p.Cause != "" {
			cause = CloseCause(p.Cause)
		}
		c.emit(ClosedEvent{Cause: cause})
	case "message":
		var env Envelope
		if err := json.Unmarshal(f.Payload, &env); err != nil {
			c.logger.Printf("Dropping malformed envelope: %v", err)
			return
		}
		c.emit(MessageEvent{Envelope: &env})
	case "call":
		var p CallEvent
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Dropping malformed call payload: %v", err)
			return
		}
		c.emit(p)
	case "group_update":
		var p GroupUpdateEvent
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Dropping malformed group update payload: %v", err)
			return
		}
		c.emit(p)
	case "participants":
		var p ParticipantsEvent
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Printf("Dropping malformed participants payload: %v", err)
			return
		}
		c.emit(p)
	case "creds_update":
		var state map[string]json.RawMessage
		if err := json.Unmarshal(f.Payload, &state); err != nil {
			c.logger.Printf("Dropping malformed creds update: %v", err)
			return
		}
		c.emit(CredsUpdateEvent{State: state})
	default:
		c.logger.Printf("Unknown gateway event %q", f.Event)
	}
}

func (c *WSClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Printf("⚠️ Event buffer full, dropping %T", ev)
	}
}

// call performs one request/response exchange with the gateway.
func (c *WSClient) call(ctx context.Context, method string, params any, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, QueryTimeout)
		defer cancel()
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}

	id := uuid.NewString()
	f := frame{Type: "call", ID: id, Method: method, Params: raw}
	buf, _ := json.Marshal(f)

	respCh := make(chan *frame, 1)

	c.mu.Lock()
	if !c.ready || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: transport not connected", method)
	}
	c.pending[id] = respCh
	send := c.send
	c.mu.Unlock()

	select {
	case send <- buf:
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	}
}

func (c *WSClient) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// ============================================================================
// RPC SURFACE
// ============================================================================

func (c *WSClient) SendMessage(ctx context.Context, to string, msg *Outgoing) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "send_message", map[string]any{"to": to, "message": msg}, &out)
	return out.ID, err
}

func (c *WSClient) SendReaction(ctx context.Context, to, messageID, emoji string) error {
	return c.call(ctx, "send_reaction", map[string]any{
		"to": to, "message_id": messageID, "emoji": emoji,
	}, nil)
}

func (c *WSClient) MarkRead(ctx context.Context, chat string, messageIDs []string) error {
	return c.call(ctx, "mark_read", map[string]any{"chat": chat, "ids": messageIDs}, nil)
}

func (c *WSClient) SendPresence(ctx context.Context, available bool) error {
	return c.call(ctx, "presence", map[string]any{"available": available}, nil)
}

func (c *WSClient) UpdateProfileStatus(ctx context.Context, text string) error {
	return c.call(ctx, "update_status", map[string]any{"text": text}, nil)
}

func (c *WSClient) GroupMetadata(ctx context.Context, groupJID string) (*GroupInfo, error) {
	var info GroupInfo
	if err := c.call(ctx, "group_metadata", map[string]any{"jid": groupJID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *WSClient) GroupRemove(ctx context.Context, groupJID string, participants []string) error {
	return c.call(ctx, "group_remove", map[string]any{
		"jid": groupJID, "participants": participants,
	}, nil)
}

func (c *WSClient) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.call(ctx, "profile_picture", map[string]any{"jid": jid}, &out)
	return out.URL, err
}

func (c *WSClient) ContactName(ctx context.Context, jid string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	err := c.call(ctx, "contact_name", map[string]any{"jid": jid}, &out)
	return out.Name, err
}

// DownloadMedia streams the media behind ref and returns the full buffer.
func (c *WSClient) DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	var out struct {
		Data []byte `json:"data"` // base64 on the wire, decoded by encoding/json
	}
	if err := c.call(ctx, "download_media", map[string]any{"ref": ref}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *WSClient) RejectCall(ctx context.Context, callID, callerJID string) error {
	return c.call(ctx, "reject_call", map[string]any{"call_id": callID, "caller": callerJID}, nil)
}

var _ Client = (*WSClient)(nil)
