package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/moneymitra/backend/internal/core"
	"github.com/moneymitra/backend/internal/store"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal sse payload")
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(payload) + "\n\n")); err != nil {
		log.Debug().Err(err).Msg("sse write failed, client likely gone")
		return
	}
	flusher.Flush()
}

// ChatListStreamHandler streams full replacement snapshots of the user's
// ordered chat list. The first event carries the current state.
func (h *APIHandler) ChatListStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	setupSSEHeaders(w)

	events := make(chan []store.Chat, 8)
	unsubscribe, err := h.chatService.SubscribeChats(userID, func(chats []store.Chat) {
		select {
		case events <- chats:
		case <-r.Context().Done():
		}
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("chat list subscription failed")
		http.Error(w, "Failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case chats := <-events:
			writeSSEEvent(w, flusher, "chats", chats)
		}
	}
}

// ChatMessagesStreamHandler streams the merged message view of one chat: the
// engine is activated on the chat and every reconciled snapshot is pushed to
// the client until it disconnects.
func (h *APIHandler) ChatMessagesStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	chatID := chi.URLParam(r, "chatID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	engine := h.registry.Engine(userID)
	if err := engine.Activate(r.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("chat activation failed")
		http.Error(w, "Failed to open chat", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	events := make(chan core.Snapshot, 8)
	remove := engine.AddListener(func(snap core.Snapshot) {
		select {
		case events <- snap:
		case <-r.Context().Done():
		}
	})
	defer remove()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-events:
			// The engine may have switched chats since this stream opened.
			if snap.ChatID != chatID {
				continue
			}
			writeSSEEvent(w, flusher, "messages", snap)
		}
	}
}
