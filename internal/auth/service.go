package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/store"
)

// Service provides credential and session operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	hasher    *Hasher
	// dummySalt keeps login timing uniform for unknown usernames.
	dummySalt []byte
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, hasher *Hasher) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		hasher:    hasher,
		dummySalt: make([]byte, SaltLength),
	}
}

// Register creates a new account. The username is trimmed before validation.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = chat.NormalizeUsername(username)
	if err := chat.ValidateUsername(username); err != nil {
		return err
	}
	if chat.IsReserved(username) {
		return chat.ErrBadUsername
	}
	if err := chat.ValidatePassword(password); err != nil {
		return err
	}

	salt, err := s.hasher.NewSalt()
	if err != nil {
		return fmt.Errorf("%w: %w", chat.ErrStorage, err)
	}

	now := time.Now()
	err = s.store.CreateUser(ctx, &store.User{
		Username:      username,
		Salt:          salt,
		PasswordHash:  s.hasher.Hash(password, salt),
		CreatedAt:     now,
		IdentitySince: now,
	})
	if errors.Is(err, store.ErrConflict) {
		return chat.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("%w: create user: %w", chat.ErrStorage, err)
	}
	return nil
}

// Verify checks a password. Unknown users and wrong passwords are indistinguishable.
func (s *Service) Verify(ctx context.Context, username, password string) (string, error) {
	username = chat.NormalizeUsername(username)

	user, err := s.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		s.hasher.Hash(password, s.dummySalt)
		return "", chat.ErrBadCredentials
	}
	if err != nil {
		return "", fmt.Errorf("%w: get user: %w", chat.ErrStorage, err)
	}
	if user.System {
		return "", chat.ErrBadCredentials
	}
	if !s.hasher.Compare(password, user.Salt, user.PasswordHash) {
		return "", chat.ErrBadCredentials
	}
	return user.Username, nil
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (token, name string, err error) {
	name, err = s.Verify(ctx, username, password)
	if err != nil {
		return "", "", err
	}
	token, err = s.IssueToken(name)
	if err != nil {
		return "", "", err
	}
	return token, name, nil
}

// IssueToken signs a session token for subject with the configured TTL.
func (s *Service) IssueToken(subject string) (string, error) {
	token, err := GenerateToken(s.jwtConfig, subject, s.jwtConfig.TTL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chat.ErrStorage, err)
	}
	return token, nil
}

// ValidateToken validates a token without consulting the credential store.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Authenticate validates a token and re-checks its subject against the
// credential store. Tokens issued before the subject took its current name
// are rejected.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", chat.ErrUnauthorized
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return "", chat.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("%w: get user: %w", chat.ErrStorage, err)
	}
	if user.System {
		return "", chat.ErrUnauthorized
	}
	if claims.IssuedAt == nil || claims.IssuedAt.Unix() < user.IdentitySince.Unix() {
		return "", chat.ErrUnauthorized
	}
	return user.Username, nil
}

// Exists reports whether username is registered.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	username = chat.NormalizeUsername(username)
	if err := chat.ValidateUsername(username); err != nil {
		return false, err
	}
	ok, err := s.store.UserExists(ctx, username)
	if err != nil {
		return false, fmt.Errorf("%w: user exists: %w", chat.ErrStorage, err)
	}
	return ok, nil
}
