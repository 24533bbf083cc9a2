package store

import (
	"context"
	"sync"

	"github.com/ashureev/studymate/internal/domain"
)

// MemoryStore implements Repository in process memory. Sessions live for the
// lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	messages map[string][]domain.StoredMessage
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.StoredMessage),
	}
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *session
	m.sessions[session.ID] = &cp
	m.messages[session.ID] = nil
	return nil
}

// GetSession retrieves a session by id.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// AppendMessage adds one entry to the display log.
func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg domain.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

// ListMessages returns a copy of the display log.
func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]domain.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]domain.StoredMessage, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out, nil
}

// CountSessions returns the number of stored sessions.
func (m *MemoryStore) CountSessions(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
