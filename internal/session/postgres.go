package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classsight/classsight/internal/store"
)

// PostgresStore persists sessions in the chat_sessions / chat_messages tables.
type PostgresStore struct {
	st *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPostgresStore(st *store.Store) *PostgresStore {
	return &PostgresStore{st: st, locks: make(map[string]*sync.Mutex)}
}

func (s *PostgresStore) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *PostgresStore) Ensure(ctx context.Context, id, userID string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.st.EnsureChatSession(ctx, id, userID); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Append(ctx context.Context, id string, turn Turn) error {
	l := s.sessionLock(id)
	l.Lock()
	defer l.Unlock()
	return s.st.AppendChatTurn(ctx, id, turn.Question, turn.Answer)
}

func (s *PostgresStore) Recent(ctx context.Context, id string, n int) ([]Turn, error) {
	pairs, err := s.st.RecentChatTurns(ctx, id, n)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(pairs))
	for _, p := range pairs {
		turns = append(turns, Turn{Question: p[0], Answer: p[1], At: time.Time{}})
	}
	return turns, nil
}
