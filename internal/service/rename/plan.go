package rename

import (
	"fmt"
	"time"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/store"
)

// BuildPlan stages the full replacement data set for renaming oldName to
// newName. messages must hold every stored message of every conversation that
// includes oldName. The input slice is not modified.
func BuildPlan(oldName, newName string, at time.Time, messages []chat.Message) (*store.RenamePlan, error) {
	plan := &store.RenamePlan{
		OldUsername: oldName,
		NewUsername: newName,
		At:          at,
		Messages:    make([]chat.Message, 0, len(messages)),
	}

	for _, msg := range messages {
		if !msg.Conversation.Has(oldName) {
			return nil, fmt.Errorf("message %s is not in a conversation of %q", msg.ID, oldName)
		}
		conv, err := msg.Conversation.Renamed(oldName, newName)
		if err != nil {
			return nil, fmt.Errorf("relocate message %s: %w", msg.ID, err)
		}

		moved := msg
		moved.Conversation = conv
		if moved.Sender == oldName {
			moved.Sender = newName
		}
		moved.DeliveredTo = nil
		plan.Messages = append(plan.Messages, moved)
	}
	return plan, nil
}
