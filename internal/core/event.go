package core

import "github.com/vovakirdan/trix-server/internal/chat"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage carries a newly appended message.
	EventMessage EventKind = iota
	// EventPresence reports a user going online or offline.
	EventPresence
	// EventTyping relays a typing indicator from a peer.
	EventTyping
	// EventRename reports that a user changed their username.
	EventRename
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message:new"
	case EventPresence:
		return "presence"
	case EventTyping:
		return "typing"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Message chat.Message

	// Presence: User and Online.
	User   string
	Online bool

	// Typing: From and IsTyping.
	IsTyping bool

	// Typing uses From; rename uses From and To.
	From string
	To   string
}
