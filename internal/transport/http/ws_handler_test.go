package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/proto"
)

func TestWebSocketRejectsMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.Dial(ctx, wsURL+"?token=garbage", nil)
	if err == nil {
		t.Fatalf("expected dial with bad token to fail")
	}
	if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketConnectionJoinsHub(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signup(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, alice)
	env.waitOnline(t, "alice")
	readUntil(t, ctx, conn, isPresence("alice", true))

	// Other routes still go through the gin engine.
	var me MeResponse
	if status := env.doJSON(t, stdhttp.MethodGet, "/api/me", alice, nil, &me); status != stdhttp.StatusOK || me.Username != "alice" {
		t.Fatalf("me: status %d, body %+v", status, me)
	}
}

func TestWebSocketMessageReachesAllDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alicePhone := env.dial(t, ctx, alice)
	aliceLaptop := env.dial(t, ctx, alice)
	bobConn := env.dial(t, ctx, bob)
	env.waitOnline(t, "alice")
	env.waitOnline(t, "bob")

	var sent SendMessageResponse
	if status := env.doJSON(t, stdhttp.MethodPost, "/api/messages", alice, SendMessageRequest{To: "bob", Text: "hi"}, &sent); status != stdhttp.StatusCreated {
		t.Fatalf("send: status %d", status)
	}

	for name, conn := range map[string]*websocket.Conn{"alice phone": alicePhone, "alice laptop": aliceLaptop, "bob": bobConn} {
		frame := readUntil(t, ctx, conn, isEvent(proto.EventNameMessage))
		var msg proto.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		if msg.ID != sent.Message.ID || msg.Sender != "alice" || msg.Text != "hi" || msg.Chat != "alice|bob" {
			t.Fatalf("%s: unexpected message %+v", name, msg)
		}
	}
}

func TestWebSocketPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobConn := env.dial(t, ctx, bob)
	readUntil(t, ctx, bobConn, isPresence("bob", true))

	aliceConn := env.dial(t, ctx, alice)
	readUntil(t, ctx, bobConn, isPresence("alice", true))
	readUntil(t, ctx, aliceConn, isPresence("bob", true))

	if err := aliceConn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	readUntil(t, ctx, bobConn, isPresence("alice", false))
}

func TestWebSocketTypingRelayAndLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.TypingRateLimit = 0.001
		cfg.TypingRateBurst = 1
	})
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceConn := env.dial(t, ctx, alice)
	bobConn := env.dial(t, ctx, bob)
	env.waitOnline(t, "alice")
	env.waitOnline(t, "bob")

	sendInbound(t, ctx, aliceConn, proto.InboundTypeTyping, proto.TypingData{To: "bob", IsTyping: true})
	frame := readUntil(t, ctx, bobConn, isEvent(proto.EventNameTyping))
	var typing proto.EventTyping
	if err := json.Unmarshal(frame.Data, &typing); err != nil {
		t.Fatalf("unmarshal typing: %v", err)
	}
	if typing.From != "alice" || !typing.IsTyping {
		t.Fatalf("unexpected typing event %+v", typing)
	}

	sendInbound(t, ctx, aliceConn, proto.InboundTypeTyping, proto.TypingData{To: "bob", IsTyping: false})
	errFrame := readUntil(t, ctx, aliceConn, func(f outboundFrame) bool { return f.Type == proto.OutboundTypeError })
	if errFrame.Error == nil || errFrame.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", errFrame.Error)
	}

	sendInbound(t, ctx, aliceConn, "shout", map[string]string{})
	errFrame = readUntil(t, ctx, aliceConn, func(f outboundFrame) bool { return f.Type == proto.OutboundTypeError })
	if errFrame.Error == nil || errFrame.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message, got %+v", errFrame.Error)
	}
}

func TestWebSocketAckMarksDelivered(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobConn := env.dial(t, ctx, bob)
	env.waitOnline(t, "bob")

	var sent SendMessageResponse
	env.doJSON(t, stdhttp.MethodPost, "/api/messages", alice, SendMessageRequest{To: "bob", Text: "ping"}, &sent)
	readUntil(t, ctx, bobConn, isEvent(proto.EventNameMessage))

	sendInbound(t, ctx, bobConn, proto.InboundTypeAck, proto.AckData{IDs: []string{sent.Message.ID}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var page MessagesResponse
		env.doJSON(t, stdhttp.MethodGet, "/api/messages?chat=alice%7Cbob", alice, nil, &page)
		if len(page.Messages) == 1 && len(page.Messages[0].DeliveredTo) == 1 && page.Messages[0].DeliveredTo[0] == "bob" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ack was not recorded")
}

func TestWebSocketRenameEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceConn := env.dial(t, ctx, alice)
	bobConn := env.dial(t, ctx, bob)
	env.waitOnline(t, "alice")
	env.waitOnline(t, "bob")

	var renamed RenameResponse
	if status := env.doJSON(t, stdhttp.MethodPost, "/api/user/rename", alice, RenameRequest{NewUsername: "zoe"}, &renamed); status != stdhttp.StatusOK {
		t.Fatalf("rename: status %d", status)
	}

	frame := readUntil(t, ctx, bobConn, isEvent(proto.EventNameRename))
	var ev proto.EventRename
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.Fatalf("unmarshal rename: %v", err)
	}
	if ev.From != "alice" || ev.To != "zoe" {
		t.Fatalf("unexpected rename event %+v", ev)
	}

	// The existing connection now receives messages for the new name.
	env.doJSON(t, stdhttp.MethodPost, "/api/messages", bob, SendMessageRequest{To: "zoe", Text: "hello zoe"}, nil)
	frame = readUntil(t, ctx, aliceConn, isEvent(proto.EventNameMessage))
	var msg proto.Message
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Chat != "bob|zoe" {
		t.Fatalf("unexpected chat %q", msg.Chat)
	}
}
