package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/store"
)

// ApplyRename publishes a staged rename in one transaction.
func (s *SQLiteStore) ApplyRename(ctx context.Context, plan *store.RenamePlan) error {
	return s.withTx(ctx, func(tx dbtx) error {
		if _, err := getUser(ctx, tx, plan.OldUsername); err != nil {
			return err
		}
		if _, err := getUser(ctx, tx, plan.NewUsername); err == nil {
			return fmt.Errorf("user %q: %w", plan.NewUsername, store.ErrConflict)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := checkPlanCoverage(ctx, tx, plan); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET username = ?, identity_since = ? WHERE username = ?`,
			plan.NewUsername, toMillis(plan.At), plan.OldUsername,
		)
		if err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("move user %q: %w", plan.NewUsername, store.ErrConflict)
			}
			return fmt.Errorf("move user: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("move user %q: %w", plan.OldUsername, store.ErrStalePlan)
		}

		for _, msg := range plan.Messages {
			res, err := tx.ExecContext(ctx,
				`UPDATE messages SET sender = ?, conversation_id = ? WHERE id = ?`,
				msg.Sender, msg.Conversation.String(), msg.ID,
			)
			if err != nil {
				return fmt.Errorf("rewrite message %s: %w", msg.ID, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return fmt.Errorf("rewrite message %s: %w", msg.ID, store.ErrStalePlan)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET username = ? WHERE username = ?`,
			plan.NewUsername, plan.OldUsername,
		); err != nil {
			return fmt.Errorf("rewrite deliveries: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO renames (old_username, new_username, messages, renamed_at) VALUES (?, ?, ?, ?)`,
			plan.OldUsername, plan.NewUsername, len(plan.Messages), toMillis(plan.At),
		); err != nil {
			return fmt.Errorf("journal rename: %w", err)
		}

		return nil
	})
}

// checkPlanCoverage verifies the plan rewrites exactly the messages that
// currently reference the old username.
func checkPlanCoverage(ctx context.Context, tx dbtx, plan *store.RenamePlan) error {
	ids, err := listConversationIDs(ctx, tx)
	if err != nil {
		return err
	}
	affected := lo.Filter(ids, func(id chat.ConversationID, _ int) bool {
		return id.Has(plan.OldUsername)
	})
	if len(affected) == 0 {
		if len(plan.Messages) != 0 {
			return fmt.Errorf("plan has %d messages, log has none: %w", len(plan.Messages), store.ErrStalePlan)
		}
		return nil
	}

	args := lo.Map(affected, func(id chat.ConversationID, _ int) any { return id.String() })
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id IN (` + placeholders(len(args)) + `)`
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return fmt.Errorf("count affected messages: %w", err)
	}
	if count != len(plan.Messages) {
		return fmt.Errorf("plan has %d messages, log has %d: %w", len(plan.Messages), count, store.ErrStalePlan)
	}
	return nil
}
