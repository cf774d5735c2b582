package core

import "errors"

var (
	ErrLoginRequired    = errors.New("login required")
	ErrSendDisabled     = errors.New("sending is disabled: no API key configured")
	ErrRequestInFlight  = errors.New("a request for this chat is already in progress")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrSessionNotFound  = errors.New("chat not found")
	ErrDuplicateSession = errors.New("chat id already exists")
	ErrGuestCannotOwn   = errors.New("guest cannot own chats")
	ErrInvalidTitle     = errors.New("title cannot be empty")
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrInvalidUsername  = errors.New("username cannot be empty")
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrInvalidShare     = errors.New("invalid share link")
)

// KeyValueStore is the persistence contract the stores depend on.
// *store.SQLiteStore satisfies it.
type KeyValueStore interface {
	Load(key string, dst any) bool
	Save(key string, v any) error
	Remove(key string) error
}
