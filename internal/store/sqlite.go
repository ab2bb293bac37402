package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

// SQLiteStore persists users, chats and messages and fans out snapshot
// notifications to in-process subscribers after every write.
type SQLiteStore struct {
	db *sql.DB

	clockMu sync.Mutex
	lastTS  time.Time

	// notifyMu orders snapshot publication: writers requery and publish under
	// it, and new subscribers receive their initial snapshot under it, so a
	// subscriber never observes an older snapshot after a newer one.
	notifyMu sync.Mutex
	chatHub  *hub[[]Chat]
	msgHub   *hub[[]Message]
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		chatHub: newHub[[]Chat](),
		msgHub:  newHub[[]Message](),
	}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	s.chatHub.closeAll()
	s.msgHub.closeAll()
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        password_hash TEXT NOT NULL DEFAULT '',
        occupation TEXT NOT NULL DEFAULT '',
        age_group TEXT NOT NULL DEFAULT '',
        financial_goal TEXT NOT NULL DEFAULT '',
        setup_completed BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        title TEXT NOT NULL,
        occupation TEXT NOT NULL DEFAULT '',
        age_group TEXT NOT NULL DEFAULT '',
        financial_goal TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        last_message TEXT,
        last_message_at DATETIME,
        message_count INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        chat_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        text TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, timestamp);
    `
	_, err := s.db.Exec(schema)
	return err
}

// serverNow returns a strictly monotonic server timestamp. Equal or
// backwards clock readings are bumped forward so two writes never share an
// ordering key.
func (s *SQLiteStore) serverNow() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now
}

// User methods

func (s *SQLiteStore) CreateUser(ctx context.Context, userID, passwordHash string) (*User, error) {
	now := s.serverNow()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, passwordHash, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &User{ID: userID, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	var occupation, ageGroup, goal string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash, occupation, age_group, financial_goal, setup_completed, created_at, updated_at FROM users WHERE id = ?",
		userID).Scan(&u.ID, &u.PasswordHash, &occupation, &ageGroup, &goal, &u.SetupCompleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if occupation != "" || ageGroup != "" || goal != "" {
		u.Preferences = &Profile{Occupation: occupation, AgeGroup: ageGroup, Goal: goal}
	}
	return &u, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, userID string, prefs Profile, setupCompleted bool) error {
	now := s.serverNow()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (id, occupation, age_group, financial_goal, setup_completed, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            occupation = excluded.occupation,
            age_group = excluded.age_group,
            financial_goal = excluded.financial_goal,
            setup_completed = excluded.setup_completed,
            updated_at = excluded.updated_at`,
		userID, prefs.Occupation, prefs.AgeGroup, prefs.Goal, setupCompleted, now, now)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Chat methods

func (s *SQLiteStore) CreateChat(ctx context.Context, userID string, chat Chat) (string, error) {
	now := s.serverNow()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO chats (id, user_id, title, occupation, age_group, financial_goal, created_at, last_message, message_count)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		chat.ID, userID, chat.Title, chat.Profile.Occupation, chat.Profile.AgeGroup, chat.Profile.Goal, now, chat.LastMessage)
	if err != nil {
		return "", fmt.Errorf("failed to insert chat: %w", err)
	}
	s.notifyChats(userID)
	return chat.ID, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, occupation, age_group, financial_goal, created_at, last_message, last_message_at, message_count FROM chats WHERE id = ? AND user_id = ?",
		chatID, userID)
	chat, err := scanChat(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var lastMessage sql.NullString
	var lastMessageAt sql.NullTime
	err := row.Scan(&chat.ID, &chat.UserID, &chat.Title,
		&chat.Profile.Occupation, &chat.Profile.AgeGroup, &chat.Profile.Goal,
		&chat.CreatedAt, &lastMessage, &lastMessageAt, &chat.MessageCount)
	if err != nil {
		return nil, err
	}
	if lastMessage.Valid {
		chat.LastMessage = &lastMessage.String
	}
	if lastMessageAt.Valid {
		chat.LastMessageAt = &lastMessageAt.Time
	}
	return &chat, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, occupation, age_group, financial_goal, created_at, last_message, last_message_at, message_count FROM chats WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) SubscribeChats(userID string, fn func([]Chat)) (func(), error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	sub, unsubscribe := s.chatHub.add(userID, fn)
	chats, err := s.ListChats(context.Background(), userID)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("failed to load initial chat snapshot: %w", err)
	}
	sub.ch <- chats
	return unsubscribe, nil
}

func (s *SQLiteStore) UpdateChat(ctx context.Context, userID, chatID string, upd ChatUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, *upd.LastMessage)
	}
	if upd.TouchLastMessageAt {
		sets = append(sets, "last_message_at = ?")
		args = append(args, s.serverNow())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, chatID, userID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	s.notifyChats(userID)
	return nil
}

func (s *SQLiteStore) DeleteChatCascade(ctx context.Context, userID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ? AND user_id = ?", chatID, userID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat delete: %w", err)
	}

	s.notifyChats(userID)
	s.notifyMessages(userID, chatID)
	return nil
}

// Message methods

func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, chatID, role, text string) (string, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ts := s.serverNow()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, user_id, chat_id, role, text, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		id, userID, chatID, role, text, ts)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	// message_count is advisory; readers must never rely on it.
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chats SET message_count = message_count + 1 WHERE id = ? AND user_id = ?", chatID, userID); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to bump message count")
	}

	s.notifyMessages(userID, chatID)
	s.notifyChats(userID)
	return id, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, userID, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, text, timestamp FROM messages WHERE chat_id = ? AND user_id = ? ORDER BY timestamp ASC, id ASC",
		chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) SubscribeMessages(userID, chatID string, fn func([]Message)) (func(), error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	sub, unsubscribe := s.msgHub.add(messageTopic(userID, chatID), fn)
	messages, err := s.Messages(context.Background(), userID, chatID)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("failed to load initial message snapshot: %w", err)
	}
	sub.ch <- messages
	return unsubscribe, nil
}

func messageTopic(userID, chatID string) string {
	return userID + "/" + chatID
}

func (s *SQLiteStore) notifyChats(userID string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	chats, err := s.ListChats(context.Background(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to requery chats for notification")
		return
	}
	s.chatHub.publish(userID, chats)
}

func (s *SQLiteStore) notifyMessages(userID, chatID string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	messages, err := s.Messages(context.Background(), userID, chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to requery messages for notification")
		return
	}
	s.msgHub.publish(messageTopic(userID, chatID), messages)
}
