// Package bot answers messages sent to the built-in system account.
package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/chat"
)

// DefaultReplies are the canned answers.
var DefaultReplies = []string{"Ok 👍", "Got it", "Interesting 🤔", "Haha 😄", "Tell me more"}

// Sender appends a message to the log.
type Sender interface {
	Append(ctx context.Context, conv chat.ConversationID, sender, text string) (chat.Message, error)
}

// Config tunes the bot.
type Config struct {
	Name    string
	Delay   time.Duration
	Replies []string
}

// Bot replies to every message addressed to it after a short delay.
type Bot struct {
	cfg    Config
	sender Sender
	logger *zerolog.Logger
	pick   func(n int) int
	wg     sync.WaitGroup
}

// New creates a bot. Replies default to DefaultReplies.
func New(cfg Config, sender Sender, logger *zerolog.Logger) *Bot {
	if cfg.Name == "" {
		cfg.Name = chat.SystemBotName
	}
	if len(cfg.Replies) == 0 {
		cfg.Replies = DefaultReplies
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bot{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		pick:   rand.IntN,
	}
}

// Name returns the bot account name.
func (b *Bot) Name() string {
	return b.cfg.Name
}

// Handler returns a message subscriber that schedules replies until ctx ends.
func (b *Bot) Handler(ctx context.Context) func(chat.Message) {
	return func(msg chat.Message) {
		if msg.Sender == b.cfg.Name || msg.Recipient() != b.cfg.Name {
			return
		}
		reply := b.cfg.Replies[b.pick(len(b.cfg.Replies))]

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.reply(ctx, msg, reply)
		}()
	}
}

func (b *Bot) reply(ctx context.Context, to chat.Message, text string) {
	timer := time.NewTimer(b.cfg.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if _, err := b.sender.Append(ctx, to.Conversation, b.cfg.Name, text); err != nil {
		b.logger.Warn().Err(err).Str("to", to.Sender).Msg("bot reply failed")
	}
}

// Wait blocks until every scheduled reply has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}
