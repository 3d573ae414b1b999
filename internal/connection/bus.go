package connection

import (
	"sync"

	"github.com/hermesbot/hermes/internal/transport"
)

// Topics the supervisor fans events out on.
const (
	TopicMessage      = "message"
	TopicCall         = "call"
	TopicGroupUpdate  = "groupUpdate"
	TopicParticipants = "groupParticipantsUpdate"
	TopicCredsUpdate  = "credsUpdate"
	TopicStatus       = "status" // ConnectedEvent and ClosedEvent
)

// Handler consumes one fanned-out transport event. Handlers run on the
// supervisor's event loop; long-running work must move to its own
// goroutine so a single sender's events keep their delivery order.
type Handler func(transport.Event)

type subscriberEntry struct {
	id      int
	handler Handler
}

// Bus is the in-process fan-out for transport events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextID      int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscriberEntry)}
}

// Subscribe registers a handler for a topic.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, entry := range subs {
			if entry.id == id {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers an event to every subscriber of the topic, in
// subscription order.
func (b *Bus) Publish(topic string, ev transport.Event) {
	b.mu.RLock()
	subs := make([]subscriberEntry, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	for _, entry := range subs {
		entry.handler(ev)
	}
}

// SubscriberCount returns the number of handlers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
