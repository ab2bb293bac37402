package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/moneymitra/backend/internal/auth"
	"github.com/moneymitra/backend/internal/core"
	"github.com/moneymitra/backend/internal/store"
)

type contextKey string

const userIDKey contextKey = "userID"

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

type APIHandler struct {
	store          store.Store
	profileService *core.ProfileService
	chatService    *core.ChatService
	registry       *core.EngineRegistry
}

func NewAPIHandler(st store.Store, ps *core.ProfileService, cs *core.ChatService, reg *core.EngineRegistry) *APIHandler {
	return &APIHandler{
		store:          st,
		profileService: ps,
		chatService:    cs,
		registry:       reg,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.store.GetUser(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("auth middleware user lookup failed")
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("signup user lookup failed")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "User already exists", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("password hashing failed")
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.UserID, hashedPassword)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("user creation failed")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("login user lookup failed")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("token generation failed")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	user, err := h.profileService.GetProfile(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		http.Error(w, "Failed to get profile", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(user)
}

type SaveProfileRequest struct {
	Occupation    string `json:"occupation"`
	AgeGroup      string `json:"ageGroup"`
	FinancialGoal string `json:"financialGoal"`
}

func (h *APIHandler) SaveProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req SaveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.profileService.SaveProfile(r.Context(), userID, store.Profile{
		Occupation: req.Occupation,
		AgeGroup:   req.AgeGroup,
		Goal:       req.FinancialGoal,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("profile save failed")
		http.Error(w, "Failed to save profile", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	user, err := h.profileService.GetProfile(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("profile lookup for chat creation failed")
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}

	var snapshot store.Profile
	if user != nil && user.Preferences != nil {
		snapshot = *user.Preferences
	}

	chat, err := h.chatService.CreateChat(r.Context(), userID, snapshot)
	if err != nil {
		if errors.Is(err, core.ErrProfileIncomplete) {
			http.Error(w, "Profile setup must be completed before starting a chat", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("chat creation failed")
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("chat listing failed")
		http.Error(w, "Failed to list chats", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(chats)
}

type GetChatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	chatID := chi.URLParam(r, "chatID")

	chat, err := h.chatService.GetChat(r.Context(), userID, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("chat lookup failed")
		http.Error(w, "Failed to get chat details", http.StatusInternalServerError)
		return
	}

	messages, err := h.store.Messages(r.Context(), userID, chatID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("message listing failed")
		http.Error(w, "Failed to get chat details", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(GetChatDetailsResponse{Chat: chat, Messages: messages})
}

type RenameChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	chatID := chi.URLParam(r, "chatID")

	var req RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.chatService.RenameChat(r.Context(), userID, chatID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyTitle):
			http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Chat not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("chat rename failed")
			http.Error(w, "Failed to rename chat", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	chatID := chi.URLParam(r, "chatID")

	if engine := h.registry.Engine(userID); engine.ActiveChatID() == chatID {
		engine.Deactivate()
	}

	err := h.chatService.DeleteChat(r.Context(), userID, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("chat deletion failed")
		http.Error(w, "Failed to delete chat", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostMessageHandler routes the message through the user's session engine:
// the engine is switched to the target chat if needed, the full send pipeline
// runs, and the merged view after the send is returned. Generation failures
// do not fail the request; they appear as assistant messages in the view.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
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

	if err := engine.Send(r.Context(), req.Content); err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyMessage):
			http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		case errors.Is(err, core.ErrNoActiveChat):
			http.Error(w, "Chat not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("user_id", userID).Str("chat_id", chatID).Msg("message send failed")
			http.Error(w, "Failed to post message", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(engine.CurrentSnapshot())
}

func (h *APIHandler) SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	user, err := h.profileService.GetProfile(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("profile lookup for suggestions failed")
		http.Error(w, "Failed to get suggestions", http.StatusInternalServerError)
		return
	}

	var profile store.Profile
	if user != nil && user.Preferences != nil {
		profile = *user.Preferences
	}
	json.NewEncoder(w).Encode(map[string][]string{
		"suggestions": core.SuggestedQuestions(profile),
	})
}
