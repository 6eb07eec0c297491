package chat

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MinUsernameLen and MaxUsernameLen bound a username in characters.
	MinUsernameLen = 3
	MaxUsernameLen = 24
	// MinPasswordLen is the shortest accepted password.
	MinPasswordLen = 6
	// MaxTextLen is the longest accepted message text in characters.
	MaxTextLen = 5000
	// SystemBotName is the reserved account used by the built-in bot.
	SystemBotName = "TRIX Bot"
)

var validate = validator.New()

// NormalizeUsername trims surrounding whitespace and a leading "@".
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.TrimSpace(name)
}

// ValidateUsername checks the format rule shared by registration and rename.
// It does not reject the reserved bot name; see IsReserved.
func ValidateUsername(name string) error {
	if err := validate.Var(name, "required,min=3,max=24"); err != nil {
		return ErrBadUsername
	}
	if strings.Contains(name, Delimiter) {
		return ErrBadUsername
	}
	if strings.TrimSpace(name) != name {
		return ErrBadUsername
	}
	return nil
}

// IsReserved reports whether name belongs to a system account.
func IsReserved(name string) bool {
	return strings.EqualFold(name, SystemBotName)
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if err := validate.Var(password, "min=6"); err != nil {
		return ErrPasswordTooShort
	}
	return nil
}

// ValidateText checks message text bounds.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if err := validate.Var(text, "max=5000"); err != nil {
		return ErrTooLong
	}
	return nil
}
