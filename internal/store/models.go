package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Profile holds the preference fields captured during setup. A chat keeps its
// own copy of these values from the moment it is created.
type Profile struct {
	Occupation string `json:"occupation"`
	AgeGroup   string `json:"ageGroup"`
	Goal       string `json:"financialGoal"`
}

// Complete reports whether every preference field is set. A partially filled
// profile must never be treated as a completed setup.
func (p Profile) Complete() bool {
	return p.Occupation != "" && p.AgeGroup != "" && p.Goal != ""
}

type User struct {
	ID             string    `json:"id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	Preferences    *Profile  `json:"preferences,omitempty"`
	SetupCompleted bool      `json:"setupCompleted"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Chat struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	Profile       Profile    `json:"profile"` // snapshot, immutable after creation
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessage   *string    `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount  int64      `json:"messageCount"` // advisory only, never authoritative
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"` // server-assigned, the authoritative ordering key
}

// ChatUpdate is a partial update of a chat record. Nil fields are left
// untouched. TouchLastMessageAt stands in for a server-timestamp sentinel:
// the store fills in its own clock reading.
type ChatUpdate struct {
	Title              *string
	LastMessage        *string
	TouchLastMessageAt bool
}
