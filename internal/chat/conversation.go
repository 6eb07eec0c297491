package chat

import "strings"

// Delimiter joins the two participant names of a conversation id.
const Delimiter = "|"

// ConversationID identifies the implicit two-party thread between two users.
// The zero value is not a valid id.
type ConversationID struct {
	a, b string // a < b
}

// NewConversationID builds the id for the conversation between u1 and u2.
// The result does not depend on argument order.
func NewConversationID(u1, u2 string) (ConversationID, error) {
	if !validPart(u1) || !validPart(u2) || u1 == u2 {
		return ConversationID{}, ErrBadChat
	}
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return ConversationID{a: u1, b: u2}, nil
}

// ParseConversationID decomposes a delimiter-joined id.
func ParseConversationID(s string) (ConversationID, error) {
	parts := strings.Split(s, Delimiter)
	if len(parts) != 2 {
		return ConversationID{}, ErrBadChat
	}
	return NewConversationID(parts[0], parts[1])
}

func validPart(name string) bool {
	return name != "" && !strings.Contains(name, Delimiter)
}

// String returns the wire form "a|b".
func (c ConversationID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.a + Delimiter + c.b
}

// IsZero reports whether c was never constructed.
func (c ConversationID) IsZero() bool {
	return c.a == "" && c.b == ""
}

// Participants returns both usernames in sorted order.
func (c ConversationID) Participants() (string, string) {
	return c.a, c.b
}

// Has reports whether username takes part in the conversation.
func (c ConversationID) Has(username string) bool {
	return !c.IsZero() && (c.a == username || c.b == username)
}

// Other returns the participant that is not username.
func (c ConversationID) Other(username string) (string, bool) {
	switch username {
	case c.a:
		return c.b, true
	case c.b:
		return c.a, true
	default:
		return "", false
	}
}

// Renamed returns the id with participant oldName replaced by newName.
func (c ConversationID) Renamed(oldName, newName string) (ConversationID, error) {
	other, ok := c.Other(oldName)
	if !ok {
		return c, nil
	}
	return NewConversationID(newName, other)
}
