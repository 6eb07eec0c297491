package core

import "sync"

// DefaultEventBuffer is the per-connection event queue size.
const DefaultEventBuffer = 64

// Client is one realtime connection as seen by the core layer.
// Events is closed by the hub when the client is unregistered or evicted.
type Client struct {
	ID     string
	Events chan Event

	mu   sync.RWMutex
	name string
}

// NewClient constructs a client for an authenticated username.
func NewClient(id, name string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Client{
		ID:     id,
		name:   name,
		Events: make(chan Event, buffer),
	}
}

// Name returns the username the connection currently acts as.
// It changes when the user renames.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}
