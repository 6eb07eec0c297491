package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/trix-server/internal/auth"
	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/core"
	"github.com/vovakirdan/trix-server/internal/proto"
	"github.com/vovakirdan/trix-server/internal/service/messages"
	"github.com/vovakirdan/trix-server/internal/utils"
)

// errQueueClosed means the hub closed the connection's event queue.
var errQueueClosed = errors.New("event queue closed")

// WSHandler upgrades authenticated HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	auth     *auth.Service
	messages *messages.Service
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, msgs *messages.Service, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, auth: authService, messages: msgs, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeJSONError(w, stdhttp.StatusUnauthorized, chat.ErrUnauthorized.Code)
		return
	}
	username, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws authentication failed")
		writeJSONError(w, statusFor(chat.KindOf(err)), chat.CodeOf(err))
		return
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(utils.NewID(), username, h.cfg.EventBuffer)
	if err := h.hub.Register(client); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.hub.Unregister(client)
	h.log.Debug().Str("client_id", client.ID).Str("user", username).Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errQueueClosed):
		status = websocket.StatusTryAgainLater
		reason = "reconnect and resync"
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range h.cfg.AllowedOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = h.cfg.AllowedOrigins
	return opts
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	typingLimiter := newConnLimiter(h.cfg.TypingRateLimit, h.cfg.TypingRateBurst)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if protoErr := h.dispatch(ctx, client, inbound, typingLimiter); protoErr != nil {
			if err := wsjson.Write(ctx, conn, protoError(protoErr.Code, protoErr.Msg)); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound, typingLimiter *rate.Limiter) *proto.Error {
	switch inbound.Type {
	case proto.InboundTypeTyping:
		data, protoErr := decodeTyping(inbound)
		if protoErr != nil {
			return protoErr
		}
		if !typingLimiter.Allow() {
			return &proto.Error{Code: codeRateLimited, Msg: "typing rate exceeded"}
		}
		if err := h.hub.Typing(client, data.To, data.IsTyping); err != nil {
			return &proto.Error{Code: chat.ErrStorage.Code, Msg: "server shutting down"}
		}
	case proto.InboundTypeAck:
		data, protoErr := decodeAck(inbound)
		if protoErr != nil {
			return protoErr
		}
		if err := h.messages.Ack(ctx, client.Name(), data.IDs); err != nil {
			h.log.Error().Err(err).Str("client_id", client.ID).Msg("ack failed")
			return &proto.Error{Code: chat.CodeOf(err), Msg: "ack failed"}
		}
	default:
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return errQueueClosed
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeJSONError(w stdhttp.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
