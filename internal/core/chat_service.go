package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/moneymitra/backend/internal/store"
)

const (
	placeholderTitle = "New Financial Chat"
	titleLimit       = 30
	previewLimit     = 100
)

// ChatService owns chat thread lifecycle: creation with an immutable profile
// snapshot, listing, renaming and cascade deletion.
type ChatService struct {
	store store.Store
}

func NewChatService(st store.Store) *ChatService {
	return &ChatService{store: st}
}

// newChatID builds a creation-ordered id: millisecond prefix for ordering,
// random suffix for per-user uniqueness.
func newChatID() string {
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// CreateChat writes a new chat with a placeholder title and the given profile
// snapshot. The snapshot must be complete; it stays fixed for the lifetime of
// the chat regardless of later profile edits.
func (s *ChatService) CreateChat(ctx context.Context, userID string, snapshot store.Profile) (*store.Chat, error) {
	if !snapshot.Complete() {
		return nil, ErrProfileIncomplete
	}

	chat := store.Chat{
		ID:      newChatID(),
		UserID:  userID,
		Title:   placeholderTitle,
		Profile: snapshot,
	}
	chatID, err := s.store.CreateChat(ctx, userID, chat)
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}
	log.Info().Str("chat_id", chatID).Str("user_id", userID).Msg("chat created")

	created, err := s.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "reading back created chat")
	}
	return created, nil
}

func (s *ChatService) GetChat(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	return s.store.GetChat(ctx, userID, chatID)
}

// ListChats returns the user's chats, newest first.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]store.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}
	return chats, nil
}

// SubscribeChats streams full replacement snapshots of the ordered chat list.
func (s *ChatService) SubscribeChats(userID string, fn func([]store.Chat)) (func(), error) {
	return s.store.SubscribeChats(userID, fn)
}

// RenameChat overwrites the title unconditionally; the only validation is
// that the new title is non-empty.
func (s *ChatService) RenameChat(ctx context.Context, userID, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := s.store.UpdateChat(ctx, userID, chatID, store.ChatUpdate{Title: &title}); err != nil {
		return errors.Wrap(err, "renaming chat")
	}
	return nil
}

// DeleteChat removes the chat and all of its messages as one atomic unit.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := s.store.DeleteChatCascade(ctx, userID, chatID); err != nil {
		return errors.Wrap(err, "deleting chat")
	}
	log.Info().Str("chat_id", chatID).Str("user_id", userID).Msg("chat deleted")
	return nil
}

// DeriveTitle produces a chat title from its first user message: the first
// 30 runes, with an ellipsis marker when the message is longer.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
