package syncengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/proto"
)

// Poller drives Engine.Poll on a fixed interval.
type Poller struct {
	engine   *Engine
	interval time.Duration
	onNew    func([]proto.Message)
	log      *zerolog.Logger
}

// NewPoller creates a poller. onNew may be nil.
func NewPoller(engine *Engine, interval time.Duration, onNew func([]proto.Message), logger *zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Poller{engine: engine, interval: interval, onNew: onNew, log: logger}
}

// Run polls until ctx is cancelled. Failed polls are logged and retried on
// the next tick; the cursor only advances on success.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := p.engine.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("poll failed")
			}
			if len(added) > 0 && p.onNew != nil {
				p.onNew(added)
			}
		}
	}
}
