package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memorySession struct {
	mu        sync.Mutex
	userID    string
	turns     []Turn
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{sessions: make(map[string]*memorySession), ttl: ttl}
}

func (s *MemoryStore) Ensure(_ context.Context, id, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if sess, ok := s.sessions[id]; ok && time.Now().Before(sess.expiresAt) {
			sess.expiresAt = time.Now().Add(s.ttl)
			return id, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.sessions[id] = &memorySession{userID: userID, expiresAt: time.Now().Add(s.ttl)}
	return id, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turn Turn) error {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		sess, ok = s.sessions[id]
		if !ok {
			sess = &memorySession{expiresAt: time.Now().Add(s.ttl)}
			s.sessions[id] = sess
		}
		s.mu.Unlock()
	}
	// Per-session lock keeps history order aligned with answer completion order.
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, turn)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, id string, n int) ([]Turn, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if n <= 0 || n > len(sess.turns) {
		n = len(sess.turns)
	}
	out := make([]Turn, n)
	copy(out, sess.turns[len(sess.turns)-n:])
	return out, nil
}
