package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/trix-server/internal/chat"
)

func startHub(t *testing.T) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	hub := NewHub(nil, nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return hub
}

func mustRegister(t *testing.T, hub *Hub, id, name string) *Client {
	t.Helper()

	c := NewClient(id, name, 0)
	if err := hub.Register(c); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return c
}

// barrier waits until every previously submitted command has been applied.
func barrier(t *testing.T, hub *Hub) []string {
	t.Helper()

	users, err := hub.OnlineUsers()
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	return users
}

func drain(ch <-chan Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected event kind %v not received", kind)
		}
	}
}

func mustPresence(t *testing.T, ch <-chan Event, user string, online bool) {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed while waiting for presence of %s", user)
			}
			if ev.Kind == EventPresence && ev.User == user && ev.Online == online {
				return
			}
		case <-timeout:
			t.Fatalf("presence %s online=%v not received", user, online)
		}
	}
}

func mustNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %v: %+v", ev.Kind, ev)
		}
	default:
	}
}

func mustClosed(t *testing.T, ch <-chan Event) {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("events channel was not closed")
		}
	}
}

func testMessage(t *testing.T, id, from, to, text string) chat.Message {
	t.Helper()

	conv, err := chat.NewConversationID(from, to)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return chat.Message{ID: id, Conversation: conv, Sender: from, Text: text, Timestamp: time.Now().UnixMilli()}
}
