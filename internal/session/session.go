package session

import (
	"context"
	"time"
)

// Turn is one question/answer exchange in a chat session.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// Store persists chat sessions and their conversation history. Appends must be
// safe under concurrent calls; within one session they are serialized so the
// stored order always matches answer completion order.
type Store interface {
	// Ensure returns the session id, creating a new session when id is empty
	// or unknown.
	Ensure(ctx context.Context, id, userID string) (string, error)
	// Append records a completed exchange. Turns are append-only.
	Append(ctx context.Context, id string, turn Turn) error
	// Recent returns up to n most recent turns in chronological order.
	Recent(ctx context.Context, id string, n int) ([]Turn, error)
}
