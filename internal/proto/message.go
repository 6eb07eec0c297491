package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeTyping = "typing"
	InboundTypeAck    = "ack"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameMessage  = "message:new"
	EventNamePresence = "presence"
	EventNameTyping   = "typing"
	EventNameRename   = "rename"
)

// TypingData is sent by the client while composing a message to a peer.
type TypingData struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

// AckData confirms receipt of pushed messages.
type AckData struct {
	IDs []string `json:"ids"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is the wire form of a stored message, shared by REST and realtime.
type Message struct {
	ID          string   `json:"id"`
	Chat        string   `json:"chat"`
	Sender      string   `json:"sender"`
	Text        string   `json:"text"`
	TS          int64    `json:"ts"`
	DeliveredTo []string `json:"deliveredTo"`
}

// EventPresence reports a user going online or offline.
type EventPresence struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// EventTyping relays a peer's typing indicator.
type EventTyping struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

// EventRename announces that a user changed their username.
type EventRename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
