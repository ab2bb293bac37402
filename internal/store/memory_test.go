package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The memory adapter must mirror the SQLite adapter's semantics; these tests
// cover the behaviors the session engine leans on.

func TestMemoryStoreChatScoping(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	mustCreateChat(t, st, "u1", "c1")

	_, err := st.GetChat(ctx, "u2", "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	chats, err := st.ListChats(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestMemoryStoreMonotonicTimestamps(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	mustCreateChat(t, st, "u1", "c1")

	for i := 0; i < 50; i++ {
		_, err := st.AppendMessage(ctx, "u1", "c1", RoleUser, "tick")
		require.NoError(t, err)
	}

	msgs, err := st.Messages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp))
	}
}

func TestMemoryStoreCascadeDeleteNotifiesEmptySnapshot(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	mustCreateChat(t, st, "u1", "c1")
	_, err := st.AppendMessage(ctx, "u1", "c1", RoleUser, "hello")
	require.NoError(t, err)

	snapshots := make(chan []Message, 16)
	unsubscribe, err := st.SubscribeMessages("u1", "c1", func(msgs []Message) {
		snapshots <- msgs
	})
	require.NoError(t, err)
	defer unsubscribe()
	receiveSnapshot(t, snapshots)

	require.NoError(t, st.DeleteChatCascade(ctx, "u1", "c1"))

	require.Eventually(t, func() bool {
		select {
		case snap := <-snapshots:
			return len(snap) == 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	mustCreateChat(t, st, "u1", "c1")

	chat, err := st.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	chat.Title = "mutated"

	fresh, err := st.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "New Financial Chat", fresh.Title, "callers must not be able to mutate stored state")
}

func TestMemoryStoreProfileRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	prefs := Profile{Occupation: "Homemaker", AgeGroup: "35-44", Goal: "save"}
	require.NoError(t, st.SaveProfile(ctx, "u1", prefs, true))

	user, err := st.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, user.Preferences)
	assert.Equal(t, prefs, *user.Preferences)
	assert.True(t, user.SetupCompleted)
}
