package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/proto"
	"github.com/vovakirdan/trix-server/internal/service/messages"
)

// ChatHandlers provides HTTP handlers for conversations and messages.
type ChatHandlers struct {
	messages *messages.Service
	log      *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(svc *messages.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{messages: svc, log: logger}
}

// ChatsResponse lists conversation ids.
type ChatsResponse struct {
	Chats []string `json:"chats"`
}

// MessagesResponse carries a message page.
type MessagesResponse struct {
	Messages []proto.Message `json:"messages"`
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessageResponse carries the stored message.
type SendMessageResponse struct {
	Message proto.Message `json:"message"`
}

// ListChats returns every conversation of the caller.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	convs, err := h.messages.ConversationsFor(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ChatsResponse{
		Chats: lo.Map(convs, func(id chat.ConversationID, _ int) string { return id.String() }),
	})
}

// ListMessages returns messages of a conversation newer than since.
// GET /api/messages?chat=&since=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		since = 0
	}

	msgs, err := h.messages.Read(c.Request.Context(), currentUser(c), c.Query("chat"), since)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: toProtoMessages(msgs)})
}

// SendMessage appends a message to the conversation with the recipient.
// POST /api/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: codeBadRequest})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), currentUser(c), req.To, req.Text)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, SendMessageResponse{Message: toProtoMessage(msg)})
}
