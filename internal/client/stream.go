package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/trix-server/internal/proto"
)

// Event is one decoded realtime frame. Exactly one payload field is set.
type Event struct {
	Name     string
	Message  *proto.Message
	Presence *proto.EventPresence
	Typing   *proto.EventTyping
	Rename   *proto.EventRename
	Err      *proto.Error
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// Stream is an authenticated realtime connection.
type Stream struct {
	conn *websocket.Conn
}

// Connect opens the realtime stream with the current token.
func (c *Client) Connect(ctx context.Context) (*Stream, error) {
	wsURL := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.Token()}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next frame arrives. Unknown events are returned with
// only Name set.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	var f frame
	if err := wsjson.Read(ctx, s.conn, &f); err != nil {
		return Event{}, err
	}

	if f.Type == proto.OutboundTypeError {
		return Event{Name: proto.OutboundTypeError, Err: f.Error}, nil
	}

	ev := Event{Name: f.Event}
	var target any
	switch f.Event {
	case proto.EventNameMessage:
		ev.Message = &proto.Message{}
		target = ev.Message
	case proto.EventNamePresence:
		ev.Presence = &proto.EventPresence{}
		target = ev.Presence
	case proto.EventNameTyping:
		ev.Typing = &proto.EventTyping{}
		target = ev.Typing
	case proto.EventNameRename:
		ev.Rename = &proto.EventRename{}
		target = ev.Rename
	default:
		return ev, nil
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return ev, nil
}

// Typing tells peer whether the user is composing a message.
func (s *Stream) Typing(ctx context.Context, peer string, isTyping bool) error {
	return s.send(ctx, proto.InboundTypeTyping, proto.TypingData{To: peer, IsTyping: isTyping})
}

// Ack confirms receipt of pushed messages.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	return s.send(ctx, proto.InboundTypeAck, proto.AckData{IDs: ids})
}

func (s *Stream) send(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, s.conn, proto.Inbound{Type: typ, Data: payload})
}

// Close closes the connection normally.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
