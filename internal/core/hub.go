package core

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/metrics"
)

// Hub routes realtime events between connections. All group and presence
// state is owned by the Run goroutine; other goroutines talk to it through
// the commands channel.
type Hub struct {
	commands chan command
	done     chan struct{}

	clients map[*Client]struct{}
	groups  map[string]*Group

	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

// NewHub creates a hub. logger and m may be nil.
func NewHub(logger *zerolog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		commands: make(chan command, 256),
		done:     make(chan struct{}),
		clients:  make(map[*Client]struct{}),
		groups:   make(map[string]*Group),
		logger:   logger,
		metrics:  m,
	}
}

// Run processes commands until ctx is canceled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case cmd := <-h.commands:
			h.handle(cmd)
		}
	}
}

// Register adds a connection to its user's group.
func (h *Hub) Register(c *Client) error {
	return h.submit(command{kind: commandRegister, client: c})
}

// Unregister removes a connection. Unknown or already evicted clients are ignored.
func (h *Hub) Unregister(c *Client) {
	_ = h.submit(command{kind: commandUnregister, client: c})
}

// PublishMessage pushes msg to every connection of its sender and recipient.
// Calls are applied in submission order.
func (h *Hub) PublishMessage(msg chat.Message) error {
	return h.submit(command{kind: commandPublish, message: msg})
}

// Typing relays a typing indicator from c to every connection of to.
func (h *Hub) Typing(c *Client, to string, isTyping bool) error {
	return h.submit(command{kind: commandTyping, client: c, to: to, isTyping: isTyping})
}

// Rename moves the group of from to to and announces it to every connection.
// It returns once the hub has applied the change.
func (h *Hub) Rename(from, to string) error {
	done := make(chan struct{})
	if err := h.submit(command{kind: commandRename, from: from, to: to, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// OnlineUsers returns the sorted usernames with at least one open connection.
func (h *Hub) OnlineUsers() ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.submit(command{kind: commandOnline, online: reply}); err != nil {
		return nil, err
	}
	select {
	case users := <-reply:
		return users, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

func (h *Hub) submit(cmd command) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) handle(cmd command) {
	switch cmd.kind {
	case commandRegister:
		h.register(cmd.client)
	case commandUnregister:
		if _, ok := h.clients[cmd.client]; ok {
			h.drop(cmd.client)
		}
	case commandPublish:
		h.publish(cmd.message)
	case commandTyping:
		h.typing(cmd.client, cmd.to, cmd.isTyping)
	case commandRename:
		h.rename(cmd.from, cmd.to)
		close(cmd.done)
	case commandOnline:
		cmd.online <- h.onlineUsers()
	}
}

func (h *Hub) register(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	name := c.Name()
	h.clients[c] = struct{}{}
	h.metrics.ConnectionOpened()

	g, ok := h.groups[name]
	if !ok {
		g = newGroup(name)
		h.groups[name] = g
	}
	g.add(c)
	h.logger.Debug().Str("client", c.ID).Str("user", name).Int("connections", g.len()).Msg("client registered")

	if g.len() == 1 {
		h.metrics.SetOnlineUsers(len(h.groups))
		h.broadcast(Event{Kind: EventPresence, User: name, Online: true}, c)
	}

	// Snapshot of who is online, including the newcomer.
	for _, user := range h.onlineUsers() {
		if !h.deliver(c, Event{Kind: EventPresence, User: user, Online: true}) {
			return
		}
	}
}

// drop removes c from all state, closes its queue and reports presence.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.Events)
	h.metrics.ConnectionClosed()

	name := c.Name()
	g, ok := h.groups[name]
	if !ok {
		return
	}
	g.remove(c)
	if g.len() > 0 {
		return
	}
	delete(h.groups, name)
	h.metrics.SetOnlineUsers(len(h.groups))
	h.logger.Debug().Str("user", name).Msg("user offline")
	h.broadcast(Event{Kind: EventPresence, User: name, Online: false}, nil)
}

func (h *Hub) publish(msg chat.Message) {
	ev := Event{Kind: EventMessage, Message: msg}
	h.sendToUser(msg.Sender, ev)
	if recipient := msg.Recipient(); recipient != "" && recipient != msg.Sender {
		h.sendToUser(recipient, ev)
	}
}

func (h *Hub) typing(c *Client, to string, isTyping bool) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	from := c.Name()
	if from == to {
		return
	}
	h.sendToUser(to, Event{Kind: EventTyping, From: from, IsTyping: isTyping})
}

func (h *Hub) rename(from, to string) {
	if g, ok := h.groups[from]; ok {
		delete(h.groups, from)
		target, exists := h.groups[to]
		if !exists {
			target = g
			target.Username = to
			h.groups[to] = target
		}
		for c := range g.clients {
			c.setName(to)
			target.add(c)
		}
		h.metrics.SetOnlineUsers(len(h.groups))
	}
	h.logger.Info().Str("from", from).Str("to", to).Msg("rename broadcast")
	h.broadcast(Event{Kind: EventRename, From: from, To: to}, nil)
}

func (h *Hub) sendToUser(username string, ev Event) {
	g, ok := h.groups[username]
	if !ok {
		return
	}
	for c := range g.clients {
		h.deliver(c, ev)
	}
}

// broadcast sends ev to every connection except skip.
func (h *Hub) broadcast(ev Event, skip *Client) {
	for c := range h.clients {
		if c == skip {
			continue
		}
		h.deliver(c, ev)
	}
}

// deliver queues ev without blocking. A client whose queue is full is
// evicted; it reconnects and catches up by polling.
func (h *Hub) deliver(c *Client, ev Event) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		h.logger.Warn().Str("client", c.ID).Str("user", c.Name()).Str("event", ev.Kind.String()).Msg("slow consumer evicted")
		h.metrics.SlowConsumerEvicted()
		h.drop(c)
		return false
	}
}

func (h *Hub) onlineUsers() []string {
	users := make([]string, 0, len(h.groups))
	for name := range h.groups {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}
