package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory for the life of the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*ConversationSession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*ConversationSession),
		now:      time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, sessionKey string) (*ConversationSession, error) {
	if err := checkKey(sessionKey); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionKey]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, s *ConversationSession) error {
	if err := prepareWrite(s, m.now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.SessionKey]; ok {
		return ErrSessionExists
	}
	m.sessions[s.SessionKey] = s.clone()
	return nil
}

func (m *MemoryStore) Save(_ context.Context, s *ConversationSession) error {
	if err := prepareWrite(s, m.now()); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.SessionKey] = s.clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionKey string) error {
	if err := checkKey(sessionKey); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, sessionKey)
	m.mu.Unlock()
	return nil
}

// Keys lists stored session keys in no particular order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	return keys
}
