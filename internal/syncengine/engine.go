// Package syncengine keeps a client's view of its conversations consistent
// while messages arrive through both polling and realtime push.
package syncengine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/proto"
)

const (
	// DefaultPollInterval is how often the Poller asks for newer messages.
	DefaultPollInterval = 1500 * time.Millisecond
	// DefaultTypingTimeout hides a typing indicator that was never stopped.
	DefaultTypingTimeout = 3 * time.Second
)

// Source is the read side of the server API the engine depends on.
type Source interface {
	Chats(ctx context.Context) ([]string, error)
	Messages(ctx context.Context, chat string, since int64) ([]proto.Message, error)
}

// Options tunes an Engine.
type Options struct {
	TypingTimeout time.Duration
	Now           func() time.Time
}

type conversation struct {
	messages []proto.Message
	seen     map[string]struct{}
	cursor   int64
	unread   int
}

// Engine is the client-local state of every known conversation.
// It is safe for concurrent use by a poll loop and a push reader.
type Engine struct {
	mu            sync.Mutex
	source        Source
	me            string
	active        string
	convs         map[string]*conversation
	typing        map[string]time.Time
	online        map[string]struct{}
	typingTimeout time.Duration
	now           func() time.Time
}

// New creates an engine for the user me.
func New(source Source, me string, opts Options) *Engine {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		source:        source,
		me:            me,
		convs:         make(map[string]*conversation),
		typing:        make(map[string]time.Time),
		online:        make(map[string]struct{}),
		typingTimeout: opts.TypingTimeout,
		now:           opts.Now,
	}
}

// Me returns the username the engine currently acts for.
func (e *Engine) Me() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.me
}

// Active returns the open conversation id, or "" if none.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Open makes chatID the active conversation, fetches its full bounded history
// and clears its unread counter.
func (e *Engine) Open(ctx context.Context, chatID string) ([]proto.Message, error) {
	if _, err := chat.ParseConversationID(chatID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.active = chatID
	e.conv(chatID).unread = 0
	e.mu.Unlock()

	msgs, err := e.source.Messages(ctx, chatID, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range msgs {
		e.applyLocked(m, true)
	}
	c := e.conv(chatID)
	c.unread = 0
	return slices.Clone(c.messages), nil
}

// OpenWith opens the conversation between the current user and peer.
func (e *Engine) OpenWith(ctx context.Context, peer string) (string, []proto.Message, error) {
	conv, err := chat.NewConversationID(e.Me(), chat.NormalizeUsername(peer))
	if err != nil {
		return "", nil, err
	}
	msgs, err := e.Open(ctx, conv.String())
	return conv.String(), msgs, err
}

// Close leaves the active conversation; subsequent arrivals count as unread.
func (e *Engine) Close() {
	e.mu.Lock()
	e.active = ""
	e.mu.Unlock()
}

// Poll asks the source for conversations and every message newer than each
// conversation's cursor. It returns the messages that were not seen before.
func (e *Engine) Poll(ctx context.Context) ([]proto.Message, error) {
	chats, err := e.source.Chats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var added []proto.Message
	for _, id := range chats {
		e.mu.Lock()
		cursor := e.conv(id).cursor
		e.mu.Unlock()

		msgs, err := e.source.Messages(ctx, id, cursor)
		if err != nil {
			return added, fmt.Errorf("fetch %s: %w", id, err)
		}

		e.mu.Lock()
		for _, m := range msgs {
			if e.applyLocked(m, true) {
				added = append(added, m)
			}
		}
		e.mu.Unlock()
	}
	return added, nil
}

// Apply merges a pushed message. It reports false for a duplicate.
// Pushed messages never move the poll cursor, so a push that overtakes an
// earlier dropped one cannot hide it from the next Poll.
func (e *Engine) Apply(msg proto.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(msg, false)
}

// applyLocked merges msg. fetched marks messages read from the source; only
// those advance the cursor, duplicates included.
func (e *Engine) applyLocked(msg proto.Message, fetched bool) bool {
	c := e.conv(msg.Chat)
	if fetched && msg.TS > c.cursor {
		c.cursor = msg.TS
	}
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}

	i, _ := slices.BinarySearchFunc(c.messages, msg.TS, func(m proto.Message, ts int64) int {
		if m.TS <= ts {
			return -1
		}
		return 1
	})
	c.messages = slices.Insert(c.messages, i, msg)

	if msg.Chat != e.active && msg.Sender != e.me {
		c.unread++
	}
	// A new message ends the sender's typing indicator.
	delete(e.typing, msg.Sender)
	return true
}

func (e *Engine) conv(id string) *conversation {
	c, ok := e.convs[id]
	if !ok {
		c = &conversation{seen: make(map[string]struct{})}
		e.convs[id] = c
	}
	return c
}

// Messages returns the conversation in display order.
func (e *Engine) Messages(chatID string) []proto.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convs[chatID]
	if !ok {
		return nil
	}
	return slices.Clone(c.messages)
}

// Cursor returns the greatest timestamp seen in the conversation.
func (e *Engine) Cursor(chatID string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convs[chatID]; ok {
		return c.cursor
	}
	return 0
}

// Unread returns the unread counter of the conversation.
func (e *Engine) Unread(chatID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convs[chatID]; ok {
		return c.unread
	}
	return 0
}

// Conversations returns every known conversation id, sorted.
func (e *Engine) Conversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := lo.Keys(e.convs)
	slices.Sort(ids)
	return ids
}

// SetTyping records a typing signal from peer.
func (e *Engine) SetTyping(peer string, isTyping bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if isTyping {
		e.typing[peer] = e.now().Add(e.typingTimeout)
		return
	}
	delete(e.typing, peer)
}

// IsTyping reports whether peer is typing. Indicators expire on their own
// when the stop signal is lost.
func (e *Engine) IsTyping(peer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.typing[peer]
	if !ok {
		return false
	}
	if !e.now().Before(until) {
		delete(e.typing, peer)
		return false
	}
	return true
}

// SetPresence records a presence event.
func (e *Engine) SetPresence(username string, online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if online {
		e.online[username] = struct{}{}
		return
	}
	delete(e.online, username)
	delete(e.typing, username)
}

// Online returns the users currently reported online, sorted.
func (e *Engine) Online() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := lo.Keys(e.online)
	slices.Sort(users)
	return users
}

// Rename re-keys local state after from became to. Conversations keep their
// messages, unread counters and cursors under the new id.
func (e *Engine) Rename(from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.me == from {
		e.me = to
	}
	if _, ok := e.online[from]; ok {
		delete(e.online, from)
		e.online[to] = struct{}{}
	}
	delete(e.typing, from)

	for id, c := range e.convs {
		conv, err := chat.ParseConversationID(id)
		if err != nil || !conv.Has(from) {
			continue
		}
		renamed, err := conv.Renamed(from, to)
		if err != nil {
			continue
		}
		newID := renamed.String()
		for i := range c.messages {
			c.messages[i].Chat = newID
			if c.messages[i].Sender == from {
				c.messages[i].Sender = to
			}
		}
		delete(e.convs, id)
		e.convs[newID] = c
		if e.active == id {
			e.active = newID
		}
	}
}
