package core

import (
	"strings"

	"github.com/moneymitra/backend/internal/store"
)

// HistoryWindowSize bounds how many prior confirmed messages are resupplied
// to the generator per call. Older turns are dropped, not summarized.
const HistoryWindowSize = 10

// Turn is one prior exchange reduced to what the generator needs.
type Turn struct {
	Role string
	Text string
}

// HistoryWindow reduces a chat's confirmed messages, in ascending timestamp
// order, to the most recent HistoryWindowSize turns.
func HistoryWindow(messages []store.Message) []Turn {
	start := 0
	if len(messages) > HistoryWindowSize {
		start = len(messages) - HistoryWindowSize
	}
	turns := make([]Turn, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		turns = append(turns, Turn{Role: msg.Role, Text: msg.Text})
	}
	return turns
}

// RenderHistoryBlock formats turns into the prior-conversation block fed to
// the generator. An empty history renders to an empty string so a first-turn
// prompt carries no history block at all.
func RenderHistoryBlock(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n--- Previous Conversation ---\n")
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := "User"
		if turn.Role == store.RoleAssistant {
			name = "MoneyMitra"
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	b.WriteString("\n--- End of Previous Conversation ---\n\n")
	return b.String()
}
