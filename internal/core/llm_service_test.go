package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moneymitra/backend/internal/store"
)

func TestUnwrapOutOfScope(t *testing.T) {
	wrapped := "[OUT_OF_SCOPE]\nI'm MoneyMitra, a financial advisor chatbot.\n[END_OUT_OF_SCOPE]"
	assert.Equal(t, "I'm MoneyMitra, a financial advisor chatbot.", unwrapOutOfScope(wrapped))
}

func TestUnwrapOutOfScopeLeavesNormalRepliesAlone(t *testing.T) {
	reply := "Start by tracking your **expenses** for a month."
	assert.Equal(t, reply, unwrapOutOfScope(reply))

	// A dangling start marker without an end marker is left untouched.
	dangling := "[OUT_OF_SCOPE] partial output"
	assert.Equal(t, dangling, unwrapOutOfScope(dangling))
}

func TestBuildPromptFirstTurnHasNoHistory(t *testing.T) {
	prompt := buildPrompt(ReplyRequest{
		Message: "How do I start saving?",
		Profile: store.Profile{Occupation: "Student", AgeGroup: "18-24", Goal: "save"},
	})

	assert.Contains(t, prompt, "User Question: How do I start saving?")
	assert.NotContains(t, prompt, "--- Previous Conversation ---")
	assert.Contains(t, prompt, "Occupation: Student")
	assert.Contains(t, prompt, "Primary Goal: Save Money")
}

func TestBuildPromptWithHistory(t *testing.T) {
	history := RenderHistoryBlock([]Turn{
		{Role: store.RoleUser, Text: "What is an emergency fund?"},
		{Role: store.RoleAssistant, Text: "A cash buffer for surprises."},
	})
	prompt := buildPrompt(ReplyRequest{
		Message:      "How big should it be?",
		Profile:      store.Profile{Occupation: "Retired", AgeGroup: "65+", Goal: "learn"},
		HistoryBlock: history,
	})

	assert.Contains(t, prompt, "--- Previous Conversation ---")
	assert.Contains(t, prompt, "Current User Question: How big should it be?")
	assert.Contains(t, prompt, "follow-up question")

	// History precedes the current question.
	assert.Less(t, strings.Index(prompt, "emergency fund"), strings.Index(prompt, "Current User Question"))
}

func TestGoalLabel(t *testing.T) {
	assert.Equal(t, "Save Money", goalLabel("save"))
	assert.Equal(t, "Manage Debt", goalLabel("debt"))
	assert.Equal(t, "Learn Financial Basics", goalLabel("learn"))
	assert.Equal(t, "Learn Financial Basics", goalLabel(""))
}

func TestOccupationReminder(t *testing.T) {
	assert.Contains(t, occupationReminder("Student"), "limited income")
	assert.Contains(t, occupationReminder("Retired"), "preserving wealth")
	assert.Empty(t, occupationReminder("Astronaut"))
}
