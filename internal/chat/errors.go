package chat

import "errors"

// Kind classifies a domain error by how the caller is expected to react.
type Kind int

const (
	// KindValidation is malformed input; correctable by the client, never retried.
	KindValidation Kind = iota + 1
	// KindAuth is a missing, invalid or expired session token.
	KindAuth
	// KindAuthorization is an authenticated caller touching a conversation it is not part of.
	KindAuthorization
	// KindConflict is a name already in use.
	KindConflict
	// KindNotFound is an unknown user or conversation.
	KindNotFound
	// KindStorage is a failed durable read or write.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a domain error carrying a stable wire code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wire error codes.
var (
	ErrBadUsername      = newError(KindValidation, "bad_username", "invalid username")
	ErrPasswordTooShort = newError(KindValidation, "password_too_short", "password is too short")
	ErrBadChat          = newError(KindValidation, "bad_chat", "invalid conversation id")
	ErrBadTo            = newError(KindValidation, "bad_to", "invalid recipient")
	ErrEmptyText        = newError(KindValidation, "empty_text", "message text is empty")
	ErrTooLong          = newError(KindValidation, "too_long", "message text is too long")
	ErrSameUsername     = newError(KindValidation, "same_username", "new username equals the current one")

	ErrBadCredentials = newError(KindAuth, "bad_credentials", "invalid credentials")
	ErrUnauthorized   = newError(KindAuth, "unauthorized", "unauthorized")

	ErrForbidden = newError(KindAuthorization, "forbidden", "not a participant of this conversation")

	ErrUserExists    = newError(KindConflict, "user_exists", "user already exists")
	ErrUsernameTaken = newError(KindConflict, "username_taken", "username is already taken")

	ErrUserNotFound = newError(KindNotFound, "user_not_found", "user not found")

	ErrStorage = newError(KindStorage, "internal_error", "internal error")
)

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the wire code of err, falling back to internal_error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrStorage.Code
}
