// Package data provides the user and message models, the store contracts the
// rest of the server depends on, and their MongoDB implementations.
package data

import "context"

// History bounds for FetchRecentMessages.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// UserStore persists credential records. Implementations must enforce a
// unique, normalized email and report violations as apperr.ErrDuplicateEmail.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUserByID returns apperr.ErrNotFound for unknown or malformed ids.
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	// UpdateUserTimestamp is a no-op for unknown or malformed ids.
	UpdateUserTimestamp(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*SessionUser, error)
}

// MessageStore is the append-only chat history.
type MessageStore interface {
	SaveChatMessage(ctx context.Context, nm NewMessage) (*Message, error)
	// FetchRecentMessages returns at most ClampLimit(limit) of the newest
	// messages, oldest first.
	FetchRecentMessages(ctx context.Context, limit int) ([]*Message, error)
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClampLimit bounds a caller-supplied history limit to [1, MaxHistoryLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// Reverse flips msgs in place. Stores query newest-first so the limit keeps
// the most recent rows, then hand the caller oldest-first.
func Reverse(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
