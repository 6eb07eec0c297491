package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/trix-server/internal/store"
)

// CreateUser persists a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.IdentitySince.IsZero() {
		user.IdentitySince = user.CreatedAt
	}

	query := `
		INSERT INTO users (username, salt, password_hash, is_system, created_at, identity_since)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.Username,
		user.Salt,
		user.PasswordHash,
		user.System,
		toMillis(user.CreatedAt),
		toMillis(user.IdentitySince),
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("insert user %q: %w", user.Username, store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// EnsureSystemUser creates a non-loginable account if it does not exist yet.
func (s *SQLiteStore) EnsureSystemUser(ctx context.Context, username string) error {
	now := toMillis(time.Now())
	query := `
		INSERT OR IGNORE INTO users (username, salt, password_hash, is_system, created_at, identity_since)
		VALUES (?, X'', X'', 1, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, username, now, now); err != nil {
		return fmt.Errorf("insert system user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*store.User, error) {
	return getUser(ctx, s.db, username)
}

func getUser(ctx context.Context, q dbtx, username string) (*store.User, error) {
	query := `
		SELECT username, salt, password_hash, is_system, created_at, identity_since
		FROM users
		WHERE username = ?
	`
	user, err := scanUser(q.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// UserExists reports whether a username is registered.
func (s *SQLiteStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query user existence: %w", err)
	}
	return true, nil
}

// ListUsers returns all users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	query := `
		SELECT username, salt, password_hash, is_system, created_at, identity_since
		FROM users
		ORDER BY username ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var createdAt, identitySince int64
	if err := row.Scan(
		&user.Username,
		&user.Salt,
		&user.PasswordHash,
		&user.System,
		&createdAt,
		&identitySince,
	); err != nil {
		return nil, err
	}
	user.CreatedAt = fromMillis(createdAt)
	user.IdentitySince = fromMillis(identitySince)
	return &user, nil
}
