package messages

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/metrics"
	"github.com/vovakirdan/trix-server/internal/store"
	"github.com/vovakirdan/trix-server/internal/utils"
)

// DefaultHistoryWindow is how many of the newest messages a read returns.
const DefaultHistoryWindow = 200

// Publisher pushes stored messages to realtime subscribers.
type Publisher interface {
	PublishMessage(msg chat.Message) error
}

// Store is the persistence the message log needs.
type Store interface {
	store.MessageStore
	UserExists(ctx context.Context, username string) (bool, error)
}

// Config tunes the message log.
type Config struct {
	HistoryWindow int
}

// Service is the message log: validated appends, windowed reads and
// conversation listing.
type Service struct {
	store     Store
	locks     *utils.KeyLock
	clock     *Clock
	publisher Publisher
	window    int

	logger  *zerolog.Logger
	metrics *metrics.Metrics

	subscribers []func(chat.Message)
}

// New creates the message service. locks must be shared with every other
// component that mutates usernames.
func New(st Store, locks *utils.KeyLock, clock *Clock, publisher Publisher, cfg Config, logger *zerolog.Logger, m *metrics.Metrics) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:     st,
		locks:     locks,
		clock:     clock,
		publisher: publisher,
		window:    cfg.HistoryWindow,
		logger:    logger,
		metrics:   m,
	}
}

// Subscribe registers fn to be called after every successful append.
// It must be called before the service is used concurrently.
func (s *Service) Subscribe(fn func(chat.Message)) {
	s.subscribers = append(s.subscribers, fn)
}

// Send appends text from sender to the conversation with to.
func (s *Service) Send(ctx context.Context, sender, to, text string) (chat.Message, error) {
	to = chat.NormalizeUsername(to)
	if err := chat.ValidateUsername(to); err != nil {
		return chat.Message{}, chat.ErrBadTo
	}
	if to == sender {
		return chat.Message{}, chat.ErrBadTo
	}
	conv, err := chat.NewConversationID(sender, to)
	if err != nil {
		return chat.Message{}, chat.ErrBadTo
	}
	return s.Append(ctx, conv, sender, text)
}

// Append stores a message and then pushes it to both participants.
// The message is never returned unless the durable write succeeded.
func (s *Service) Append(ctx context.Context, conv chat.ConversationID, sender, text string) (chat.Message, error) {
	if err := chat.ValidateText(text); err != nil {
		return chat.Message{}, err
	}
	recipient, ok := conv.Other(sender)
	if !ok {
		return chat.Message{}, chat.ErrForbidden
	}

	unlock := s.locks.Lock(sender, recipient)
	msg, err := s.appendLocked(ctx, conv, sender, recipient, text)
	unlock()
	if err != nil {
		return chat.Message{}, err
	}

	for _, fn := range s.subscribers {
		fn(msg)
	}
	return msg, nil
}

func (s *Service) appendLocked(ctx context.Context, conv chat.ConversationID, sender, recipient, text string) (chat.Message, error) {
	// A rename may have moved either name after the caller authenticated.
	senderExists, err := s.userExists(ctx, sender)
	if err != nil {
		return chat.Message{}, err
	}
	if !senderExists {
		return chat.Message{}, chat.ErrUnauthorized
	}
	recipientExists, err := s.userExists(ctx, recipient)
	if err != nil {
		return chat.Message{}, err
	}
	if !recipientExists {
		return chat.Message{}, chat.ErrUserNotFound
	}

	msg := chat.Message{
		ID:           utils.NewID(),
		Conversation: conv,
		Sender:       sender,
		Text:         text,
		Timestamp:    s.clock.Next(),
	}

	err = s.retry(ctx, "save message", func() error {
		err := s.store.SaveMessage(ctx, &msg)
		if errors.Is(err, store.ErrConflict) {
			// The first attempt committed before reporting failure.
			return nil
		}
		return err
	})
	if err != nil {
		return chat.Message{}, err
	}
	s.metrics.MessageAppended()

	if err := s.publisher.PublishMessage(msg); err != nil {
		s.logger.Warn().Err(err).Str("message", msg.ID).Msg("realtime publish skipped")
	}
	return msg, nil
}

// Read returns messages of chatID newer than since, newest window only, in
// ascending order. Messages from the peer are marked delivered to caller.
func (s *Service) Read(ctx context.Context, caller, chatID string, since int64) ([]chat.Message, error) {
	conv, err := chat.ParseConversationID(chatID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(caller) {
		return nil, chat.ErrForbidden
	}
	if since < 0 {
		since = 0
	}

	var msgs []chat.Message
	err = s.retry(ctx, "list messages", func() error {
		var err error
		msgs, err = s.store.ListMessages(ctx, conv, since, s.window)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending := lo.Filter(msgs, func(m chat.Message, _ int) bool {
		return m.Sender != caller && !lo.Contains(m.DeliveredTo, caller)
	})
	if len(pending) == 0 {
		return msgs, nil
	}

	ids := lo.Map(pending, func(m chat.Message, _ int) string { return m.ID })
	if err := s.store.MarkDelivered(ctx, caller, ids); err != nil {
		s.logger.Warn().Err(err).Str("user", caller).Msg("mark delivered failed")
		return msgs, nil
	}
	for i := range msgs {
		if msgs[i].Sender != caller && !lo.Contains(msgs[i].DeliveredTo, caller) {
			msgs[i].DeliveredTo = append(msgs[i].DeliveredTo, caller)
		}
	}
	return msgs, nil
}

// Ack marks pushed messages as delivered to username.
func (s *Service) Ack(ctx context.Context, username string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.retry(ctx, "mark delivered", func() error {
		return s.store.MarkDelivered(ctx, username, ids)
	})
}

// ConversationsFor lists the conversations username takes part in. It scans
// every conversation id in the log.
func (s *Service) ConversationsFor(ctx context.Context, username string) ([]chat.ConversationID, error) {
	var all []chat.ConversationID
	err := s.retry(ctx, "list conversations", func() error {
		var err error
		all, err = s.store.ListConversationIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(id chat.ConversationID, _ int) bool {
		return id.Has(username)
	}), nil
}

func (s *Service) userExists(ctx context.Context, username string) (bool, error) {
	var ok bool
	err := s.retry(ctx, "user exists", func() error {
		var err error
		ok, err = s.store.UserExists(ctx, username)
		return err
	})
	return ok, err
}

// retry runs op at most twice. A second failure is logged and surfaced as a
// storage error without internal detail.
func (s *Service) retry(ctx context.Context, what string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %w", chat.ErrStorage, what, err)
	}

	s.metrics.StorageRetried()
	s.logger.Warn().Err(err).Str("op", what).Msg("storage operation failed, retrying")
	if err = op(); err == nil {
		return nil
	}
	s.logger.Error().Err(err).Str("op", what).Msg("storage operation failed")
	return fmt.Errorf("%w: %s: %w", chat.ErrStorage, what, err)
}
