package connection

import (
	"sync"

	"github.com/hermesbot/hermes/internal/transport"
)

const retryCacheCap = 1000

// retryCache keeps recent outbound messages keyed by id so the
// transport can redeliver on a retry receipt. Bounded; overflow drops
// the oldest half in one sweep.
type retryCache struct {
	mu      sync.Mutex
	entries map[string]*transport.Outgoing
	order   []string
}

func newRetryCache() *retryCache {
	return &retryCache{entries: make(map[string]*transport.Outgoing)}
}

func (c *retryCache) Put(id string, msg *transport.Outgoing) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists {
		c.order = append(c.order, id)
	}
	c.entries[id] = msg

	if len(c.order) > retryCacheCap {
		half := len(c.order) / 2
		for _, old := range c.order[:half] {
			delete(c.entries, old)
		}
		c.order = append(c.order[:0], c.order[half:]...)
	}
}

func (c *retryCache) Get(id string) (*transport.Outgoing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.entries[id]
	return msg, ok
}

func (c *retryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *retryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*transport.Outgoing)
	c.order = nil
	c.mu.Unlock()
}
