package domain

import "time"

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationTurn is one persisted message. Turns are append-only.
type ConversationTurn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Sources        []Source  `json:"sources,omitempty"`
	Embedding      []float32 `json:"-"`
}

// ScoredTurn is a turn returned by a similarity search.
type ScoredTurn struct {
	Turn       ConversationTurn
	Similarity float64
}

// HistoryMessage is a caller-supplied message of the running conversation.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MemoryContext is rebuilt for every request and never persisted.
type MemoryContext struct {
	RecentTurns     []ConversationTurn
	RelevantHistory []ScoredTurn
	Summary         string
	TotalTurns      int
}
