package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/service/messages"
	"github.com/vovakirdan/trix-server/internal/store"
	"github.com/vovakirdan/trix-server/internal/store/sqlite"
	"github.com/vovakirdan/trix-server/internal/utils"
)

type nopPublisher struct{}

func (nopPublisher) PublishMessage(chat.Message) error { return nil }

func TestBotRepliesThroughMessageLog(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := sqlite.New(":memory:")
	req.NoError(err)
	defer st.Close()
	req.NoError(st.EnsureSystemUser(ctx, chat.SystemBotName))
	req.NoError(st.CreateUser(ctx, &store.User{Username: "alice", Salt: []byte("s"), PasswordHash: []byte("h")}))

	svc := messages.New(st, utils.NewKeyLock(), messages.NewClock(0), nopPublisher{}, messages.Config{}, nil, nil)
	b := New(Config{Delay: time.Millisecond, Replies: []string{"Got it"}}, svc, nil)
	svc.Subscribe(b.Handler(ctx))

	sent, err := svc.Send(ctx, "alice", chat.SystemBotName, "hello bot")
	req.NoError(err)
	_, err = svc.Send(ctx, "alice", chat.SystemBotName, "   ")
	req.Error(err)
	b.Wait()

	history, err := svc.Read(ctx, "alice", sent.Conversation.String(), 0)
	req.NoError(err)
	req.Len(history, 2, "exactly one reply, and the bot does not answer itself")
	req.Equal(chat.SystemBotName, history[1].Sender)
	req.Equal("Got it", history[1].Text)
	req.GreaterOrEqual(history[1].Timestamp, history[0].Timestamp)
}

func TestBotIgnoresOtherConversations(t *testing.T) {
	calls := 0
	b := New(Config{Delay: time.Millisecond}, senderFunc(func() { calls++ }), nil)

	conv, err := chat.NewConversationID("alice", "bob")
	require.NoError(t, err)
	b.Handler(context.Background())(chat.Message{ID: "1", Conversation: conv, Sender: "alice", Text: "hi"})
	b.Wait()

	require.Zero(t, calls)
}

func TestBotStopsOnCancel(t *testing.T) {
	calls := 0
	b := New(Config{Delay: time.Hour}, senderFunc(func() { calls++ }), nil)
	ctx, cancel := context.WithCancel(context.Background())

	conv, err := chat.NewConversationID("alice", chat.SystemBotName)
	require.NoError(t, err)
	b.Handler(ctx)(chat.Message{ID: "1", Conversation: conv, Sender: "alice", Text: "hi"})
	cancel()
	b.Wait()

	require.Zero(t, calls)
}

type senderFunc func()

func (f senderFunc) Append(context.Context, chat.ConversationID, string, string) (chat.Message, error) {
	f()
	return chat.Message{}, nil
}
