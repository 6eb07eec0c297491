package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationIDIsSymmetric(t *testing.T) {
	req := require.New(t)

	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"Zed", "amy"},
		{"user_1", "user_10"},
		{"TRIX Bot", "carol"},
	}
	for _, p := range pairs {
		ab, err := NewConversationID(p[0], p[1])
		req.NoError(err)
		ba, err := NewConversationID(p[1], p[0])
		req.NoError(err)
		req.Equal(ab, ba)
		req.Equal(ab.String(), ba.String())

		other, ok := ab.Other(p[0])
		req.True(ok)
		req.Equal(p[1], other)
		other, ok = ab.Other(p[1])
		req.True(ok)
		req.Equal(p[0], other)
	}
}

func TestConversationIDRoundTrip(t *testing.T) {
	req := require.New(t)

	id, err := NewConversationID("bob", "alice")
	req.NoError(err)
	req.Equal("alice|bob", id.String())

	parsed, err := ParseConversationID(id.String())
	req.NoError(err)
	req.Equal(id, parsed)

	// Unsorted input resolves to the same conversation.
	parsed, err = ParseConversationID("bob|alice")
	req.NoError(err)
	req.Equal(id, parsed)
}

func TestParseConversationIDRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "alice", "alice|", "|bob", "a|b|c", "alice|alice"} {
		_, err := ParseConversationID(raw)
		if !errors.Is(err, ErrBadChat) {
			t.Fatalf("ParseConversationID(%q): expected ErrBadChat, got %v", raw, err)
		}
	}
}

func TestConversationIDOtherForStranger(t *testing.T) {
	id, err := NewConversationID("alice", "bob")
	require.NoError(t, err)

	_, ok := id.Other("carol")
	require.False(t, ok)
	require.False(t, id.Has("carol"))
	require.False(t, ConversationID{}.Has(""))
}

func TestConversationIDRenamed(t *testing.T) {
	req := require.New(t)

	id, err := NewConversationID("alice", "bob")
	req.NoError(err)

	renamed, err := id.Renamed("alice", "zoe")
	req.NoError(err)
	req.Equal("bob|zoe", renamed.String())

	untouched, err := id.Renamed("carol", "dave")
	req.NoError(err)
	req.Equal(id, untouched)

	// Renaming into the other participant would collapse the conversation.
	_, err = id.Renamed("alice", "bob")
	req.ErrorIs(err, ErrBadChat)
}
