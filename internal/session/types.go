package session

import "time"

// State is where a session's turn orchestrator currently sits.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateError     State = "error"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Data is the persisted record for one session (§3 Session).
type Data struct {
	SessionID           string         `json:"session_id"`
	UserID               string         `json:"user_id"`
	State                State          `json:"state"`
	ConversationHistory  []Message      `json:"conversation_history"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	LastActivity         time.Time      `json:"last_activity"`
}

// UpdateOptions describes the optional mutations Update applies to a
// session in one call. A nil/zero field leaves that aspect unchanged.
type UpdateOptions struct {
	State      State
	AddMessage *Message
	Metadata   map[string]any
}
