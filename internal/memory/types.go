package memory

import (
	"context"
	"time"
)

// TurnRecord stores one user query or assistant answer from a voice
// conversation.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	Role      string    `json:"role"`
	Language  string    `json:"language"`
	Content   string    `json:"content"`
	Redacted  bool      `json:"redacted"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves conversation turns.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
