package http

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/core"
	"github.com/vovakirdan/trix-server/internal/proto"
)

func toProtoMessage(msg chat.Message) proto.Message {
	delivered := msg.DeliveredTo
	if delivered == nil {
		delivered = []string{}
	}
	return proto.Message{
		ID:          msg.ID,
		Chat:        msg.Conversation.String(),
		Sender:      msg.Sender,
		Text:        msg.Text,
		TS:          msg.Timestamp,
		DeliveredTo: delivered,
	}
}

func toProtoMessages(msgs []chat.Message) []proto.Message {
	out := lo.Map(msgs, func(m chat.Message, _ int) proto.Message { return toProtoMessage(m) })
	if out == nil {
		out = []proto.Message{}
	}
	return out
}

func outboundFromEvent(event core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}
	switch event.Kind {
	case core.EventMessage:
		out.Data = toProtoMessage(event.Message)
	case core.EventPresence:
		out.Data = proto.EventPresence{Username: event.User, Online: event.Online}
	case core.EventTyping:
		out.Data = proto.EventTyping{From: event.From, IsTyping: event.IsTyping}
	case core.EventRename:
		out.Data = proto.EventRename{From: event.From, To: event.To}
	}
	return out
}

func protoError(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}}
}

func decodeTyping(inbound proto.Inbound) (proto.TypingData, *proto.Error) {
	var data proto.TypingData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return data, &proto.Error{Code: codeBadRequest, Msg: "invalid typing payload"}
	}
	data.To = chat.NormalizeUsername(data.To)
	if err := chat.ValidateUsername(data.To); err != nil {
		return data, &proto.Error{Code: chat.ErrBadTo.Code, Msg: chat.ErrBadTo.Message}
	}
	return data, nil
}

func decodeAck(inbound proto.Inbound) (proto.AckData, *proto.Error) {
	var data proto.AckData
	if err := json.Unmarshal(inbound.Data, &data); err != nil {
		return data, &proto.Error{Code: codeBadRequest, Msg: "invalid ack payload"}
	}
	return data, nil
}
