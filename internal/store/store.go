package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a chat or message lookup has no row for the
// given user scope.
var ErrNotFound = errors.New("record not found")

// Store is the persisted store adapter: collections are keyed hierarchically
// by user, then chat, then message. Timestamps on writes are assigned by the
// store itself and are strictly monotonic, so message order never depends on
// a client clock.
//
// Subscriptions deliver a full replacement snapshot of the ordered collection
// on every change, starting with the current state. Deliveries to a single
// subscriber happen in order; the returned function tears the subscription
// down.
type Store interface {
	CreateUser(ctx context.Context, userID, passwordHash string) (*User, error)
	// GetUser returns (nil, nil) when the user record is absent.
	GetUser(ctx context.Context, userID string) (*User, error)
	// SaveProfile upserts the preference fields for a user.
	SaveProfile(ctx context.Context, userID string, prefs Profile, setupCompleted bool) error

	// CreateChat persists the given record (the caller generates the id) and
	// assigns CreatedAt from the server clock.
	CreateChat(ctx context.Context, userID string, chat Chat) (string, error)
	GetChat(ctx context.Context, userID, chatID string) (*Chat, error)
	// ListChats returns the user's chats ordered by CreatedAt descending.
	ListChats(ctx context.Context, userID string) ([]Chat, error)
	SubscribeChats(userID string, fn func([]Chat)) (func(), error)
	UpdateChat(ctx context.Context, userID, chatID string, upd ChatUpdate) error
	// DeleteChatCascade removes the chat and every message under it as one
	// atomic unit.
	DeleteChatCascade(ctx context.Context, userID, chatID string) error

	AppendMessage(ctx context.Context, userID, chatID, role, text string) (string, error)
	// Messages returns the chat's messages ordered by timestamp ascending.
	Messages(ctx context.Context, userID, chatID string) ([]Message, error)
	SubscribeMessages(userID, chatID string, fn func([]Message)) (func(), error)

	Close() error
}
