package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/trix-server/internal/chat"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("conflict")
	// ErrStalePlan is returned when a rename plan no longer matches stored data.
	ErrStalePlan = errors.New("stale rename plan")
)

// User represents a registered account. Username is the only identifier.
type User struct {
	Username     string
	Salt         []byte
	PasswordHash []byte
	// System accounts cannot log in.
	System    bool
	CreatedAt time.Time
	// IdentitySince is when the account started using its current username.
	IdentitySince time.Time
}

// UserStore handles credential persistence.
type UserStore interface {
	// CreateUser persists a new user. Returns ErrConflict if the username is taken.
	CreateUser(ctx context.Context, user *User) error

	// EnsureSystemUser creates a non-loginable account if it does not exist yet.
	EnsureSystemUser(ctx context.Context, username string) error

	// GetUser retrieves a user by username. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, username string) (*User, error)

	// UserExists reports whether a username is registered.
	UserExists(ctx context.Context, username string) (bool, error)

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]*User, error)
}

// MessageStore handles the append-only message log.
type MessageStore interface {
	// SaveMessage appends a message in a single transaction.
	SaveMessage(ctx context.Context, msg *chat.Message) error

	// ListMessages returns messages of a conversation with timestamp > since,
	// newest limit entries, in ascending order. limit <= 0 means unbounded.
	ListMessages(ctx context.Context, conv chat.ConversationID, since int64, limit int) ([]chat.Message, error)

	// ListConversationIDs returns every distinct conversation id in the log.
	ListConversationIDs(ctx context.Context) ([]chat.ConversationID, error)

	// LatestTimestamp returns the greatest stored message timestamp, or 0.
	LatestTimestamp(ctx context.Context) (int64, error)

	// MarkDelivered records that username received the given messages.
	MarkDelivered(ctx context.Context, username string, ids []string) error
}

// RenamePlan is the complete replacement data set for an identity rename.
type RenamePlan struct {
	OldUsername string
	NewUsername string
	At          time.Time
	// Messages holds every message touched by the rename with sender and
	// conversation already rewritten; IDs are unchanged.
	Messages []chat.Message
}

// RenameStore publishes identity renames.
type RenameStore interface {
	// ApplyRename commits the plan in one transaction: the credential record
	// moves to the new key, every planned message is rewritten, deliveries are
	// re-keyed and the rename is journaled. Returns ErrNotFound if the old user
	// is gone, ErrConflict if the new name is taken, and ErrStalePlan if the
	// stored messages no longer match the plan.
	ApplyRename(ctx context.Context, plan *RenamePlan) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	RenameStore

	// Close closes the underlying database connection.
	Close() error
}
