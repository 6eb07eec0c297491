package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/trix-server/internal/proto"
)

type fakeSource struct {
	mu       sync.Mutex
	messages map[string][]proto.Message
	calls    []int64
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{messages: make(map[string][]proto.Message)}
}

func (f *fakeSource) add(msgs ...proto.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.messages[m.Chat] = append(f.messages[m.Chat], m)
	}
}

func (f *fakeSource) Chats(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) Messages(_ context.Context, chat string, since int64) ([]proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []proto.Message
	for _, m := range f.messages[chat] {
		if m.TS > since {
			out = append(out, m)
		}
	}
	return out, nil
}

func msg(id, chat, sender string, ts int64) proto.Message {
	return proto.Message{ID: id, Chat: chat, Sender: sender, Text: id, TS: ts, DeliveredTo: []string{}}
}

func ids(msgs []proto.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestOpenFetchesFullHistory(t *testing.T) {
	src := newFakeSource()
	src.add(msg("1", "alice|bob", "bob", 10), msg("2", "alice|bob", "alice", 20))
	e := New(src, "alice", Options{})

	got, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(got))
	assert.Equal(t, int64(20), e.Cursor("alice|bob"))
	assert.Equal(t, 0, e.Unread("alice|bob"))
	assert.Equal(t, []int64{0}, src.calls)
}

func TestOpenRejectsMalformedID(t *testing.T) {
	e := New(newFakeSource(), "alice", Options{})
	_, err := e.Open(context.Background(), "alice")
	require.Error(t, err)
}

func TestPushAndPollDeliverOnce(t *testing.T) {
	src := newFakeSource()
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)

	m := msg("x", "alice|bob", "bob", 30)
	assert.True(t, e.Apply(m))
	assert.False(t, e.Apply(m))

	src.add(m)
	added, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Len(t, e.Messages("alice|bob"), 1)
	assert.Equal(t, int64(30), e.Cursor("alice|bob"), "a fetched duplicate still advances the cursor")
}

func TestPollRecoversMessageMissedBeforePush(t *testing.T) {
	src := newFakeSource()
	src.add(msg("1", "alice|bob", "bob", 10))
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)

	// The push of "2" was dropped; "3" arrived.
	src.add(msg("2", "alice|bob", "bob", 20), msg("3", "alice|bob", "bob", 30))
	assert.True(t, e.Apply(msg("3", "alice|bob", "bob", 30)))
	assert.Equal(t, int64(10), e.Cursor("alice|bob"))

	added, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(added))
	assert.Equal(t, []string{"1", "2", "3"}, ids(e.Messages("alice|bob")))
	assert.Equal(t, int64(30), e.Cursor("alice|bob"))
}

func TestPollUsesCursor(t *testing.T) {
	src := newFakeSource()
	src.add(msg("1", "alice|bob", "bob", 10))
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)

	src.add(msg("2", "alice|bob", "bob", 20))
	added, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(added))
	assert.Equal(t, []int64{0, 10}, src.calls)

	added, err = e.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestOutOfOrderArrivalKeepsTimestampOrder(t *testing.T) {
	e := New(newFakeSource(), "alice", Options{})
	e.Apply(msg("c", "alice|bob", "bob", 30))
	e.Apply(msg("a", "alice|bob", "bob", 10))
	e.Apply(msg("b", "alice|bob", "alice", 20))
	e.Apply(msg("b2", "alice|bob", "alice", 20))

	assert.Equal(t, []string{"a", "b", "b2", "c"}, ids(e.Messages("alice|bob")))
	assert.Equal(t, int64(0), e.Cursor("alice|bob"), "pushes leave the cursor alone")
}

func TestUnreadAccounting(t *testing.T) {
	src := newFakeSource()
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)

	e.Apply(msg("1", "alice|bob", "bob", 10))
	e.Apply(msg("2", "alice|carol", "carol", 11))
	e.Apply(msg("3", "alice|carol", "carol", 12))
	e.Apply(msg("4", "alice|carol", "alice", 13))

	assert.Equal(t, 0, e.Unread("alice|bob"))
	assert.Equal(t, 2, e.Unread("alice|carol"))

	_, err = e.Open(context.Background(), "alice|carol")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Unread("alice|carol"))

	e.Close()
	e.Apply(msg("5", "alice|bob", "bob", 14))
	assert.Equal(t, 1, e.Unread("alice|bob"))
}

func TestPollErrorKeepsCursor(t *testing.T) {
	src := newFakeSource()
	src.add(msg("1", "alice|bob", "bob", 10))
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)

	src.err = errors.New("offline")
	_, err = e.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(10), e.Cursor("alice|bob"))
}

func TestTypingIndicatorExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	e := New(newFakeSource(), "alice", Options{Now: func() time.Time { return now }})

	e.SetTyping("bob", true)
	assert.True(t, e.IsTyping("bob"))

	now = now.Add(DefaultTypingTimeout - time.Millisecond)
	assert.True(t, e.IsTyping("bob"))

	now = now.Add(time.Millisecond)
	assert.False(t, e.IsTyping("bob"))

	e.SetTyping("bob", true)
	e.SetTyping("bob", false)
	assert.False(t, e.IsTyping("bob"))

	e.SetTyping("bob", true)
	e.Apply(msg("1", "alice|bob", "bob", 1))
	assert.False(t, e.IsTyping("bob"), "a message ends the indicator")
}

func TestPresence(t *testing.T) {
	e := New(newFakeSource(), "alice", Options{})
	e.SetPresence("bob", true)
	e.SetPresence("carol", true)
	e.SetPresence("bob", false)
	assert.Equal(t, []string{"carol"}, e.Online())
}

func TestRenameRekeysConversations(t *testing.T) {
	src := newFakeSource()
	src.add(msg("1", "alice|bob", "alice", 10), msg("2", "alice|bob", "bob", 11))
	e := New(src, "alice", Options{})
	_, err := e.Open(context.Background(), "alice|bob")
	require.NoError(t, err)
	e.Apply(msg("3", "alice|carol", "carol", 12))
	e.SetPresence("alice", true)

	e.Rename("alice", "zoe")

	assert.Equal(t, "zoe", e.Me())
	assert.Equal(t, "bob|zoe", e.Active())
	assert.Equal(t, []string{"bob|zoe", "carol|zoe"}, e.Conversations())
	got := e.Messages("bob|zoe")
	require.Len(t, got, 2)
	assert.Equal(t, "zoe", got[0].Sender)
	assert.Equal(t, "bob|zoe", got[0].Chat)
	assert.Equal(t, int64(11), e.Cursor("bob|zoe"))
	assert.Equal(t, 1, e.Unread("carol|zoe"))
	assert.Equal(t, []string{"zoe"}, e.Online())

	// Re-delivery of an already seen id under the new key is still a duplicate.
	m := msg("2", "bob|zoe", "bob", 11)
	assert.False(t, e.Apply(m))
}

func TestRenameOfPeer(t *testing.T) {
	e := New(newFakeSource(), "alice", Options{})
	e.Apply(msg("1", "alice|bob", "bob", 10))

	e.Rename("bob", "robert")

	assert.Equal(t, "alice", e.Me())
	assert.Equal(t, []string{"alice|robert"}, e.Conversations())
	assert.Equal(t, "robert", e.Messages("alice|robert")[0].Sender)
}

func TestPollerRun(t *testing.T) {
	src := newFakeSource()
	e := New(src, "alice", Options{})
	src.add(msg("1", "alice|bob", "bob", 10))

	got := make(chan []proto.Message, 1)
	p := NewPoller(e, 5*time.Millisecond, func(m []proto.Message) {
		select {
		case got <- m:
		default:
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case m := <-got:
		assert.Equal(t, []string{"1"}, ids(m))
	case <-time.After(2 * time.Second):
		t.Fatal("poller never delivered")
	}
	cancel()
	<-done
}
