package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

type conversation struct {
	messages  []models.Message
	updatedAt time.Time
}

// MemoryStore provides an in-memory Store for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*conversation
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*conversation{},
		now:      time.Now,
	}
}

// LoadMemory returns a copy of the session history, or an empty slice.
func (m *MemoryStore) LoadMemory(ctx context.Context, sessionID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.sessions[sessionID]
	if !ok {
		return []models.Message{}, nil
	}
	return append([]models.Message(nil), conv.messages...), nil
}

// SaveMemory replaces the session history.
func (m *MemoryStore) SaveMemory(ctx context.Context, sessionID string, msgs []models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	history := models.Persistent(msgs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &conversation{messages: history, updatedAt: m.now()}
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// EvictIdle removes sessions last saved before cutoff.
func (m *MemoryStore) EvictIdle(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, conv := range m.sessions {
		if conv.updatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
