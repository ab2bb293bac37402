package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/moneymitra/backend/internal/store"
)

// ViewMessage is one entry of the merged view handed to the display layer.
// Pending entries are locally-originated and not yet confirmed by the store.
type ViewMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Pending   bool      `json:"pending"`
}

type Snapshot struct {
	ChatID   string        `json:"chatId"`
	Messages []ViewMessage `json:"messages"`
}

type pendingMessage struct {
	id        string
	role      string
	text      string
	createdAt time.Time
}

// SessionEngine reconciles one user's locally-originated message state with
// the authoritative persisted stream of their active chat. The confirmed
// sequence is only ever replaced wholesale by the store subscription, never
// partially mutated by a send pipeline; pending entries are owned by the
// pipeline that created them. Activating a chat tears down the previous
// subscription and invalidates in-flight deliveries via an epoch counter, so
// late results for an abandoned chat are discarded rather than applied.
type SessionEngine struct {
	store  store.Store
	gen    ReplyGenerator
	userID string

	mu          sync.Mutex
	epoch       uint64
	chat        *store.Chat
	confirmed   []store.Message
	pending     []pendingMessage
	unsubscribe func()

	listenerMu   sync.Mutex
	nextListener int64
	listeners    map[int64]func(Snapshot)
}

func NewSessionEngine(st store.Store, gen ReplyGenerator, userID string) *SessionEngine {
	return &SessionEngine{
		store:     st,
		gen:       gen,
		userID:    userID,
		listeners: make(map[int64]func(Snapshot)),
	}
}

// AddListener registers a merged-view observer and returns its removal
// function. The listener receives the current snapshot immediately.
func (e *SessionEngine) AddListener(fn func(Snapshot)) func() {
	e.listenerMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenerMu.Unlock()

	fn(e.CurrentSnapshot())

	return func() {
		e.listenerMu.Lock()
		delete(e.listeners, id)
		e.listenerMu.Unlock()
	}
}

// Activate switches the engine to the given chat. All state from a
// previously active chat is cleared first; leaking context between unrelated
// conversations is a correctness bug. Activating the already-active chat is
// a no-op.
func (e *SessionEngine) Activate(ctx context.Context, chatID string) error {
	e.mu.Lock()
	if e.chat != nil && e.chat.ID == chatID {
		e.mu.Unlock()
		return nil
	}
	prevUnsub := e.unsubscribe
	e.unsubscribe = nil
	e.chat = nil
	e.confirmed = nil
	e.pending = nil
	e.epoch++
	epoch := e.epoch
	e.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}

	chat, err := e.store.GetChat(ctx, e.userID, chatID)
	if err != nil {
		return errors.Wrap(err, "loading chat")
	}

	unsub, err := e.store.SubscribeMessages(e.userID, chatID, func(msgs []store.Message) {
		e.applyConfirmed(epoch, chatID, msgs)
	})
	if err != nil {
		return errors.Wrap(err, "subscribing to chat messages")
	}

	// Seed confirmed state synchronously so a send issued right after
	// activation sees the chat's existing history instead of racing the
	// subscription's first delivery.
	confirmed, err := e.store.Messages(ctx, e.userID, chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to preload chat history")
	}

	e.mu.Lock()
	if e.epoch != epoch {
		// A concurrent activation superseded this one.
		e.mu.Unlock()
		unsub()
		return nil
	}
	e.chat = chat
	e.confirmed = confirmed
	e.unsubscribe = unsub
	e.mu.Unlock()

	e.emit()
	return nil
}

// Deactivate releases the active subscription and clears all chat state.
func (e *SessionEngine) Deactivate() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.chat = nil
	e.confirmed = nil
	e.pending = nil
	e.epoch++
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.emit()
}

func (e *SessionEngine) ActiveChatID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return ""
	}
	return e.chat.ID
}

// applyConfirmed replaces the confirmed sequence with a fresh snapshot and
// retires pending entries the snapshot confirms. Deliveries carrying a stale
// epoch belong to an abandoned chat and are dropped.
func (e *SessionEngine) applyConfirmed(epoch uint64, chatID string, msgs []store.Message) {
	e.mu.Lock()
	if epoch != e.epoch || e.chat == nil || e.chat.ID != chatID {
		e.mu.Unlock()
		return
	}
	e.confirmed = msgs

	// Each confirmed message retires at most one pending entry with the same
	// role and text that was created before it.
	for _, msg := range msgs {
		for i, p := range e.pending {
			if p.role == msg.Role && p.text == msg.Text && !msg.Timestamp.Before(p.createdAt) {
				e.pending = append(e.pending[:i:i], e.pending[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()
	e.emit()
}

// Send runs the full message pipeline: optimistic append, persist, bounded
// context, generate, persist the reply (or a fault message), preview and
// first-message title updates. It returns an error only for validation
// failures and for a user-message persistence failure; everything after that
// point is surfaced inside the conversation log instead.
//
// Concurrent sends are safe: each call owns its own pending entry and
// pipeline, and shared state is only touched under the engine lock.
func (e *SessionEngine) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.chat == nil {
		e.mu.Unlock()
		return ErrNoActiveChat
	}
	chat := e.chat
	epoch := e.epoch
	first := len(e.confirmed) == 0 && len(e.pending) == 0
	history := append([]store.Message(nil), e.confirmed...)
	e.pending = append(e.pending, pendingMessage{
		id:        "temp_" + uuid.NewString(),
		role:      store.RoleUser,
		text:      text,
		createdAt: time.Now().UTC(),
	})
	e.mu.Unlock()
	e.emit()

	// Persist the user message. Failure aborts the pipeline before
	// generation; the optimistic entry stays visible as unconfirmed so the
	// caller can surface a retry.
	if _, err := e.store.AppendMessage(ctx, e.userID, chat.ID, store.RoleUser, text); err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Msg("failed to persist user message")
		return errors.Wrap(err, "persisting message")
	}

	// The window is built from messages confirmed before this send; the new
	// message travels as the current turn, not as history.
	historyBlock := RenderHistoryBlock(HistoryWindow(history))

	reply, genErr := e.gen.GenerateReply(ctx, ReplyRequest{
		Message:      text,
		Profile:      chat.Profile,
		HistoryBlock: historyBlock,
	})

	if genErr == nil {
		if _, err := e.store.AppendMessage(ctx, e.userID, chat.ID, store.RoleAssistant, reply); err != nil {
			log.Error().Err(err).Str("chat_id", chat.ID).Msg("failed to persist assistant reply")
			e.injectLocal(epoch, chat.ID, reply)
		} else {
			preview := truncateRunes(reply, previewLimit)
			upd := store.ChatUpdate{LastMessage: &preview, TouchLastMessageAt: true}
			if err := e.store.UpdateChat(ctx, e.userID, chat.ID, upd); err != nil {
				log.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to update chat preview")
			}
		}
	} else {
		fault := ClassifyGenerationError(genErr)
		log.Error().Err(genErr).Str("fault", string(fault.Kind)).Str("chat_id", chat.ID).Msg("reply generation failed")
		if _, err := e.store.AppendMessage(ctx, e.userID, chat.ID, store.RoleAssistant, fault.UserMessage()); err != nil {
			// Last resort: show the failure in the local view only.
			log.Error().Err(err).Str("chat_id", chat.ID).Msg("failed to persist fault message")
			e.injectLocal(epoch, chat.ID, fault.UserMessage())
		}
	}

	if first {
		title := DeriveTitle(text)
		if err := e.store.UpdateChat(ctx, e.userID, chat.ID, store.ChatUpdate{Title: &title}); err != nil {
			log.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to set chat title")
		}
	}

	return nil
}

// injectLocal adds a non-authoritative assistant entry to the merged view
// when persistence of a reply or fault message failed. Dropped silently if
// the chat has been switched away from in the meantime.
func (e *SessionEngine) injectLocal(epoch uint64, chatID, text string) {
	e.mu.Lock()
	if epoch != e.epoch || e.chat == nil || e.chat.ID != chatID {
		e.mu.Unlock()
		return
	}
	e.pending = append(e.pending, pendingMessage{
		id:        "local_" + uuid.NewString(),
		role:      store.RoleAssistant,
		text:      text,
		createdAt: time.Now().UTC(),
	})
	e.mu.Unlock()
	e.emit()
}

// CurrentSnapshot returns the merged view: confirmed messages followed by
// pending entries that have not been matched yet.
func (e *SessionEngine) CurrentSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Messages: make([]ViewMessage, 0, len(e.confirmed)+len(e.pending))}
	if e.chat != nil {
		snap.ChatID = e.chat.ID
	}
	for _, m := range e.confirmed {
		snap.Messages = append(snap.Messages, ViewMessage{
			ID: m.ID, Role: m.Role, Text: m.Text, Timestamp: m.Timestamp,
		})
	}
	for _, p := range e.pending {
		snap.Messages = append(snap.Messages, ViewMessage{
			ID: p.id, Role: p.role, Text: p.text, Timestamp: p.createdAt, Pending: true,
		})
	}
	return snap
}

func (e *SessionEngine) emit() {
	snap := e.CurrentSnapshot()

	e.listenerMu.Lock()
	fns := make([]func(Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenerMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
