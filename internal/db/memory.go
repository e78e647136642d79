package db

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/persona-chat/internal/models"
	"github.com/google/uuid"
)

type memorySession struct {
	meta  models.Session
	turns []models.Turn
}

// MemoryStore is a map-backed Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &memorySession{meta: models.Session{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		LastActive: now,
	}}
	s.sessions[sess.meta.ID] = sess
	meta := sess.meta
	return &meta, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	meta := sess.meta
	return &meta, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}
	sess.turns = append(sess.turns, turn)
	sess.meta.LastActive = s.now().UTC()
	return nil
}

func (s *MemoryStore) RemoveLastTurn(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if n := len(sess.turns); n > 0 {
		sess.turns = sess.turns[:n-1]
	}
	return nil
}

func (s *MemoryStore) Turns(ctx context.Context, id string) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]models.Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

func (s *MemoryStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.meta.LastActive.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
