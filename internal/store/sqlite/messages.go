package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/store"
)

// SaveMessage appends a message in a single transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	return s.withTx(ctx, func(tx dbtx) error {
		query := `
			INSERT INTO messages (id, conversation_id, sender, text, ts)
			VALUES (?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			msg.ID,
			msg.Conversation.String(),
			msg.Sender,
			msg.Text,
			msg.Timestamp,
		); err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("insert message %s: %w", msg.ID, store.ErrConflict)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// ListMessages returns the newest limit messages with ts > since in ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conv chat.ConversationID, since int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	var messages []chat.Message
	err := s.withTx(ctx, func(tx dbtx) error {
		var err error
		messages, err = listMessages(ctx, tx, conv.String(), since, limit)
		if err != nil {
			return err
		}
		return attachDeliveries(ctx, tx, messages)
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func listMessages(ctx context.Context, q dbtx, conv string, since int64, limit int) ([]chat.Message, error) {
	query := `
		SELECT id, conversation_id, sender, text, ts
		FROM (
			SELECT seq, id, conversation_id, sender, text, ts
			FROM messages
			WHERE conversation_id = ? AND ts > ?
			ORDER BY ts DESC, seq DESC
			LIMIT ?
		)
		ORDER BY ts ASC, seq ASC
	`
	rows, err := q.QueryContext(ctx, query, conv, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var (
			msg    chat.Message
			convID string
		)
		if err := rows.Scan(&msg.ID, &convID, &msg.Sender, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Conversation, err = chat.ParseConversationID(convID)
		if err != nil {
			return nil, fmt.Errorf("stored conversation id %q: %w", convID, err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func attachDeliveries(ctx context.Context, q dbtx, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	index := make(map[string]int, len(messages))
	for i, msg := range messages {
		index[msg.ID] = i
	}

	args := lo.Map(messages, func(m chat.Message, _ int) any { return m.ID })
	query := `
		SELECT message_id, username
		FROM deliveries
		WHERE message_id IN (` + placeholders(len(args)) + `)
		ORDER BY delivered_at ASC
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return fmt.Errorf("scan delivery: %w", err)
		}
		if i, ok := index[id]; ok {
			messages[i].DeliveredTo = append(messages[i].DeliveredTo, username)
		}
	}

	return rows.Err()
}

// ListConversationIDs returns every distinct conversation id in the log.
// This is a full scan; an index keyed by participant would replace it at scale.
func (s *SQLiteStore) ListConversationIDs(ctx context.Context) ([]chat.ConversationID, error) {
	return listConversationIDs(ctx, s.db)
}

func listConversationIDs(ctx context.Context, q dbtx) ([]chat.ConversationID, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM messages ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []chat.ConversationID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		id, err := chat.ParseConversationID(raw)
		if err != nil {
			return nil, fmt.Errorf("stored conversation id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// LatestTimestamp returns the greatest stored message timestamp, or 0.
func (s *SQLiteStore) LatestTimestamp(ctx context.Context) (int64, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM messages`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("query latest timestamp: %w", err)
	}
	return ts.Int64, nil
}

// MarkDelivered records that username received the given messages.
// Messages sent by username itself, or from conversations username does not
// take part in, are ignored.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, username string, ids []string) error {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx dbtx) error {
		args := make([]any, 0, len(ids)+2)
		args = append(args, username, time.Now().UnixMilli())
		for _, id := range ids {
			args = append(args, id)
		}
		query := `
			INSERT OR IGNORE INTO deliveries (message_id, username, delivered_at)
			SELECT id, ?, ?
			FROM messages
			WHERE id IN (` + placeholders(len(ids)) + `)
			  AND sender <> ?
			  AND instr('|' || conversation_id || '|', '|' || ? || '|') > 0
		`
		args = append(args, username, username)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert deliveries: %w", err)
		}
		return nil
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
