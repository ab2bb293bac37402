package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymitra/backend/internal/store"
)

func TestSaveProfileMergesWithExisting(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	svc := NewProfileService(st)
	ctx := context.Background()

	_, err := svc.SaveProfile(ctx, "u1", store.Profile{Occupation: "Student", AgeGroup: "18-24"})
	require.NoError(t, err)

	// Filling in the missing field must keep the earlier answers.
	user, err := svc.SaveProfile(ctx, "u1", store.Profile{Goal: "save"})
	require.NoError(t, err)
	require.NotNil(t, user.Preferences)
	assert.Equal(t, "Student", user.Preferences.Occupation)
	assert.Equal(t, "18-24", user.Preferences.AgeGroup)
	assert.Equal(t, "save", user.Preferences.Goal)
	assert.True(t, user.SetupCompleted)
}

func TestSaveProfilePartialIsNotComplete(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	svc := NewProfileService(st)
	ctx := context.Background()

	user, err := svc.SaveProfile(ctx, "u1", store.Profile{Occupation: "Student"})
	require.NoError(t, err)
	assert.False(t, user.SetupCompleted)

	done, err := svc.HasCompletedSetup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestHasCompletedSetupChecksFieldsNotFlag(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	svc := NewProfileService(st)
	ctx := context.Background()

	// A stale completed flag over a partial profile must not count.
	require.NoError(t, st.SaveProfile(ctx, "u1", store.Profile{Occupation: "Student"}, true))

	done, err := svc.HasCompletedSetup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestHasCompletedSetupUnknownUser(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	svc := NewProfileService(st)

	done, err := svc.HasCompletedSetup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestProfileEditDoesNotTouchChatSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	profiles := NewProfileService(st)
	chats := NewChatService(st)
	ctx := context.Background()

	_, err := profiles.SaveProfile(ctx, "u1", testProfile)
	require.NoError(t, err)

	chat, err := chats.CreateChat(ctx, "u1", testProfile)
	require.NoError(t, err)

	_, err = profiles.SaveProfile(ctx, "u1", store.Profile{
		Occupation: "Retired", AgeGroup: "65+", Goal: "learn",
	})
	require.NoError(t, err)

	reloaded, err := chats.GetChat(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, testProfile, reloaded.Profile, "chat snapshot must be immutable")
}
