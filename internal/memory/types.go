package memory

import (
	"context"
	"time"
)

// TurnRecord stores a single user or assistant conversational turn, with its
// embedding persisted alongside it so future recall can rank by similarity
// rather than recency alone.
type TurnRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the long-term memory collaborator: a best-effort durable turn
// log. The turn orchestrator writes each user and assistant turn to it;
// RecentContext reads a user's latest turns back, but the turn pipeline
// does not query it when building LLM context. Failures here are logged
// and ignored by callers, never gating the turn pipeline.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentContext(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	Close() error
}
