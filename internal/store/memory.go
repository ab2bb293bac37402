package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with maps, suitable for tests and for running
// without a database file. It mirrors the SQLite adapter's semantics:
// server-assigned monotonic timestamps, all-or-nothing cascade delete, and
// ordered snapshot notifications.
type MemoryStore struct {
	mu       sync.Mutex
	lastTS   time.Time
	users    map[string]*User
	chats    map[string][]Chat               // userID -> chats
	messages map[string]map[string][]Message // userID -> chatID -> messages

	chatHub *hub[[]Chat]
	msgHub  *hub[[]Message]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		chats:    make(map[string][]Chat),
		messages: make(map[string]map[string][]Message),
		chatHub:  newHub[[]Chat](),
		msgHub:   newHub[[]Message](),
	}
}

func (s *MemoryStore) Close() error {
	s.chatHub.closeAll()
	s.msgHub.closeAll()
	return nil
}

func (s *MemoryStore) serverNowLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now
}

func (s *MemoryStore) CreateUser(_ context.Context, userID, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return nil, fmt.Errorf("user %s already exists", userID)
	}
	now := s.serverNowLocked()
	u := &User{ID: userID, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	s.users[userID] = u
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *u
	if u.Preferences != nil {
		prefs := *u.Preferences
		copied.Preferences = &prefs
	}
	return &copied, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, userID string, prefs Profile, setupCompleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.serverNowLocked()
	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID, CreatedAt: now}
		s.users[userID] = u
	}
	u.Preferences = &Profile{Occupation: prefs.Occupation, AgeGroup: prefs.AgeGroup, Goal: prefs.Goal}
	u.SetupCompleted = setupCompleted
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateChat(_ context.Context, userID string, chat Chat) (string, error) {
	s.mu.Lock()
	chat.UserID = userID
	chat.CreatedAt = s.serverNowLocked()
	s.chats[userID] = append(s.chats[userID], chat)
	snapshot := s.chatSnapshotLocked(userID)
	s.mu.Unlock()

	s.chatHub.publish(userID, snapshot)
	return chat.ID, nil
}

func (s *MemoryStore) GetChat(_ context.Context, userID, chatID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.chats[userID] {
		if chat.ID == chatID {
			copied := chat
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListChats(_ context.Context, userID string) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatSnapshotLocked(userID), nil
}

// chatSnapshotLocked returns the user's chats newest-first.
func (s *MemoryStore) chatSnapshotLocked(userID string) []Chat {
	chats := append([]Chat(nil), s.chats[userID]...)
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	if chats == nil {
		chats = []Chat{}
	}
	return chats
}

func (s *MemoryStore) SubscribeChats(userID string, fn func([]Chat)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, unsubscribe := s.chatHub.add(userID, fn)
	sub.ch <- s.chatSnapshotLocked(userID)
	return unsubscribe, nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, userID, chatID string, upd ChatUpdate) error {
	s.mu.Lock()
	found := false
	for i := range s.chats[userID] {
		if s.chats[userID][i].ID != chatID {
			continue
		}
		found = true
		if upd.Title != nil {
			s.chats[userID][i].Title = *upd.Title
		}
		if upd.LastMessage != nil {
			preview := *upd.LastMessage
			s.chats[userID][i].LastMessage = &preview
		}
		if upd.TouchLastMessageAt {
			ts := s.serverNowLocked()
			s.chats[userID][i].LastMessageAt = &ts
		}
		break
	}
	var snapshot []Chat
	if found {
		snapshot = s.chatSnapshotLocked(userID)
	}
	s.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	s.chatHub.publish(userID, snapshot)
	return nil
}

func (s *MemoryStore) DeleteChatCascade(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	found := false
	chats := s.chats[userID]
	for i := range chats {
		if chats[i].ID == chatID {
			s.chats[userID] = append(chats[:i:i], chats[i+1:]...)
			found = true
			break
		}
	}
	if found {
		if byChat, ok := s.messages[userID]; ok {
			delete(byChat, chatID)
		}
	}
	var snapshot []Chat
	if found {
		snapshot = s.chatSnapshotLocked(userID)
	}
	s.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	s.chatHub.publish(userID, snapshot)
	s.msgHub.publish(messageTopic(userID, chatID), []Message{})
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, userID, chatID, role, text string) (string, error) {
	s.mu.Lock()
	exists := false
	for i := range s.chats[userID] {
		if s.chats[userID][i].ID == chatID {
			exists = true
			s.chats[userID][i].MessageCount++ // advisory
			break
		}
	}
	if !exists {
		s.mu.Unlock()
		return "", ErrNotFound
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Text:      text,
		Timestamp: s.serverNowLocked(),
	}
	if s.messages[userID] == nil {
		s.messages[userID] = make(map[string][]Message)
	}
	s.messages[userID][chatID] = append(s.messages[userID][chatID], msg)
	msgSnapshot := s.messageSnapshotLocked(userID, chatID)
	chatSnapshot := s.chatSnapshotLocked(userID)
	s.mu.Unlock()

	s.msgHub.publish(messageTopic(userID, chatID), msgSnapshot)
	s.chatHub.publish(userID, chatSnapshot)
	return msg.ID, nil
}

func (s *MemoryStore) messageSnapshotLocked(userID, chatID string) []Message {
	messages := append([]Message(nil), s.messages[userID][chatID]...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	if messages == nil {
		messages = []Message{}
	}
	return messages
}

func (s *MemoryStore) Messages(_ context.Context, userID, chatID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageSnapshotLocked(userID, chatID), nil
}

func (s *MemoryStore) SubscribeMessages(userID, chatID string, fn func([]Message)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, unsubscribe := s.msgHub.add(messageTopic(userID, chatID), fn)
	sub.ch <- s.messageSnapshotLocked(userID, chatID)
	return unsubscribe, nil
}
