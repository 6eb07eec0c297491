package rename

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/metrics"
	"github.com/vovakirdan/trix-server/internal/store"
	"github.com/vovakirdan/trix-server/internal/utils"
)

// Store is the persistence a rename reads and commits to.
type Store interface {
	store.RenameStore
	UserExists(ctx context.Context, username string) (bool, error)
	ListConversationIDs(ctx context.Context) ([]chat.ConversationID, error)
	ListMessages(ctx context.Context, conv chat.ConversationID, since int64, limit int) ([]chat.Message, error)
}

// Broadcaster re-keys realtime state after a committed rename.
type Broadcaster interface {
	Rename(from, to string) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	IssueToken(subject string) (string, error)
}

// Result is the outcome of a rename attempt.
type Result struct {
	State    State
	Username string
	Token    string
}

// Coordinator runs identity renames.
type Coordinator struct {
	store   Store
	locks   *utils.KeyLock
	hub     Broadcaster
	tokens  TokenIssuer
	logger  *zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a rename coordinator. locks must be the lock table used by the
// message log.
func New(st Store, locks *utils.KeyLock, hub Broadcaster, tokens TokenIssuer, logger *zerolog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Coordinator{
		store:   st,
		locks:   locks,
		hub:     hub,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

type attempt struct {
	from, to string
	state    State
	logger   zerolog.Logger
}

func (a *attempt) enter(s State) {
	a.logger.Debug().Str("from_state", a.state.String()).Str("to_state", s.String()).Msg("rename state")
	a.state = s
}

// Rename moves current to requested. On success every message and
// conversation id that referenced current now references the new name, and
// the result carries a token for the new name.
func (c *Coordinator) Rename(ctx context.Context, current, requested string) (Result, error) {
	a := &attempt{
		from:   current,
		to:     chat.NormalizeUsername(requested),
		state:  StateIdle,
		logger: c.logger.With().Str("from", current).Str("to", chat.NormalizeUsername(requested)).Logger(),
	}

	res, err := c.run(ctx, a)
	if err != nil {
		a.enter(StateFailed)
		c.metrics.RenameFinished(chat.CodeOf(err))
		if chat.KindOf(err) == chat.KindStorage {
			a.logger.Error().Err(err).Msg("rename failed")
		} else {
			a.logger.Info().Str("reason", chat.CodeOf(err)).Msg("rename rejected")
		}
		return Result{State: StateFailed}, err
	}

	a.enter(StateDone)
	c.metrics.RenameFinished(StateDone.String())
	a.logger.Info().Int("messages", res.moved).Msg("rename done")
	return Result{State: StateDone, Username: a.to, Token: res.token}, nil
}

type outcome struct {
	token string
	moved int
}

func (c *Coordinator) run(ctx context.Context, a *attempt) (outcome, error) {
	a.enter(StateValidating)
	if err := chat.ValidateUsername(a.to); err != nil {
		return outcome{}, err
	}
	if chat.IsReserved(a.to) {
		return outcome{}, chat.ErrBadUsername
	}
	if a.to == a.from {
		return outcome{}, chat.ErrSameUsername
	}

	unlock := c.locks.Lock(a.from, a.to)
	defer unlock()

	taken, err := c.store.UserExists(ctx, a.to)
	if err != nil {
		return outcome{}, storageErr("check new name", err)
	}
	if taken {
		return outcome{}, chat.ErrUsernameTaken
	}
	exists, err := c.store.UserExists(ctx, a.from)
	if err != nil {
		return outcome{}, storageErr("check current name", err)
	}
	if !exists {
		return outcome{}, chat.ErrUnauthorized
	}

	a.enter(StateApplying)
	plan, err := c.stage(ctx, a.from, a.to)
	if err != nil {
		return outcome{}, err
	}
	if err := c.commit(ctx, plan); err != nil {
		return outcome{}, err
	}

	if err := c.hub.Rename(a.from, a.to); err != nil {
		a.logger.Warn().Err(err).Msg("realtime re-key skipped")
	}

	token, err := c.tokens.IssueToken(a.to)
	if err != nil {
		return outcome{}, storageErr("issue token", err)
	}
	return outcome{token: token, moved: len(plan.Messages)}, nil
}

// stage reads every message touched by the rename and builds the plan.
func (c *Coordinator) stage(ctx context.Context, from, to string) (*store.RenamePlan, error) {
	ids, err := c.store.ListConversationIDs(ctx)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}

	var touched []chat.Message
	for _, id := range lo.Filter(ids, func(id chat.ConversationID, _ int) bool { return id.Has(from) }) {
		msgs, err := c.store.ListMessages(ctx, id, 0, 0)
		if err != nil {
			return nil, storageErr("list messages", err)
		}
		touched = append(touched, msgs...)
	}

	plan, err := BuildPlan(from, to, c.now(), touched)
	if err != nil {
		return nil, storageErr("build plan", err)
	}
	return plan, nil
}

func (c *Coordinator) commit(ctx context.Context, plan *store.RenamePlan) error {
	err := c.store.ApplyRename(ctx, plan)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return chat.ErrUsernameTaken
	case errors.Is(err, store.ErrNotFound):
		return chat.ErrUnauthorized
	}

	// Nothing was committed; rebuild from fresh data and try once more.
	c.metrics.StorageRetried()
	c.logger.Warn().Err(err).Str("from", plan.OldUsername).Msg("rename commit failed, retrying")
	fresh, stageErr := c.stage(ctx, plan.OldUsername, plan.NewUsername)
	if stageErr != nil {
		return stageErr
	}
	if err := c.store.ApplyRename(ctx, fresh); err != nil {
		return storageErr("apply rename", err)
	}
	*plan = *fresh
	return nil
}

func storageErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", chat.ErrStorage, what, err)
}
