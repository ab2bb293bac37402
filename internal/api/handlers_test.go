package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymitra/backend/internal/config"
	"github.com/moneymitra/backend/internal/core"
	"github.com/moneymitra/backend/internal/store"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g *stubGenerator) GenerateReply(_ context.Context, _ core.ReplyRequest) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, gen core.ReplyGenerator) *testEnv {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	handler := NewAPIHandler(st,
		core.NewProfileService(st),
		core.NewChatService(st),
		core.NewEngineRegistry(st, gen),
	)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: st}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) signupAndLogin(t *testing.T, userID string) string {
	t.Helper()
	creds := map[string]string{"user_id": userID, "password": "pw123"}

	resp := e.request(t, http.MethodPost, "/api/signup", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPost, "/api/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]string](t, resp)
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func (e *testEnv) completeProfile(t *testing.T, token string) {
	t.Helper()
	resp := e.request(t, http.MethodPut, "/api/profile", token, map[string]string{
		"occupation":    "Student",
		"ageGroup":      "18-24",
		"financialGoal": "save",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSignupDuplicateUser(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	env.signupAndLogin(t, "alice")

	resp := env.request(t, http.MethodPost, "/api/signup", "",
		map[string]string{"user_id": "alice", "password": "pw123"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	env.signupAndLogin(t, "alice")

	resp := env.request(t, http.MethodPost, "/api/login", "",
		map[string]string{"user_id": "alice", "password": "wrong"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})

	resp := env.request(t, http.MethodGet, "/api/chats", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateChatRequiresCompletedProfile(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	token := env.signupAndLogin(t, "alice")

	resp := env.request(t, http.MethodPost, "/api/chats", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "Track your spending."})
	token := env.signupAndLogin(t, "alice")
	env.completeProfile(t, token)

	// Create
	resp := env.request(t, http.MethodPost, "/api/chats", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decodeJSON[store.Chat](t, resp)
	assert.Equal(t, "New Financial Chat", chat.Title)
	assert.Equal(t, "Student", chat.Profile.Occupation)

	// Send a message: the response is the merged view with both sides.
	resp = env.request(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", token,
		map[string]string{"content": "How do I budget?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeJSON[core.Snapshot](t, resp)
	require.GreaterOrEqual(t, len(snap.Messages), 2)
	assert.Equal(t, "How do I budget?", snap.Messages[0].Text)

	// Rename
	resp = env.request(t, http.MethodPatch, "/api/chats/"+chat.ID, token,
		map[string]string{"title": "Budget basics"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/api/chats", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chats := decodeJSON[[]store.Chat](t, resp)
	require.Len(t, chats, 1)
	assert.Equal(t, "Budget basics", chats[0].Title)

	// Delete
	resp = env.request(t, http.MethodDelete, "/api/chats/"+chat.ID, token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/api/chats/"+chat.ID, token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	token := env.signupAndLogin(t, "alice")
	env.completeProfile(t, token)

	resp := env.request(t, http.MethodPost, "/api/chats", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decodeJSON[store.Chat](t, resp)

	resp = env.request(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", token,
		map[string]string{"content": "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/chats/missing/messages", token,
		map[string]string{"content": "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerationFailureStillReturnsOK(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{err: assert.AnError})
	token := env.signupAndLogin(t, "alice")
	env.completeProfile(t, token)

	resp := env.request(t, http.MethodPost, "/api/chats", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decodeJSON[store.Chat](t, resp)

	resp = env.request(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", token,
		map[string]string{"content": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The failure surfaces as a persisted assistant message, not an HTTP
	// error.
	resp = env.request(t, http.MethodGet, "/api/chats/"+chat.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	details := decodeJSON[GetChatDetailsResponse](t, resp)
	require.Len(t, details.Messages, 2)
	assert.Equal(t, store.RoleAssistant, details.Messages[1].Role)
	assert.Contains(t, details.Messages[1].Text, "trouble processing your request")
}

func TestSuggestionsReflectProfile(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	token := env.signupAndLogin(t, "alice")
	env.completeProfile(t, token)

	resp := env.request(t, http.MethodGet, "/api/suggestions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string][]string](t, resp)
	require.Len(t, body["suggestions"], 3)
	assert.Contains(t, body["suggestions"][0], "pocket money")
}

func TestUserIsolation(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{reply: "ok"})
	aliceToken := env.signupAndLogin(t, "alice")
	env.completeProfile(t, aliceToken)
	bobToken := env.signupAndLogin(t, "bob")

	resp := env.request(t, http.MethodPost, "/api/chats", aliceToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decodeJSON[store.Chat](t, resp)

	// Bob cannot see or touch Alice's chat.
	resp = env.request(t, http.MethodGet, "/api/chats/"+chat.ID, bobToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.request(t, http.MethodDelete, "/api/chats/"+chat.ID, bobToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
