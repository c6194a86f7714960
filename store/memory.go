package store

import (
	"sort"
	"stem-sync/models"
	"sync"
)

// MemoryStore is an in-memory Store for tests and throwaway runs.
// Reads hand out copies so callers can't mutate stored records.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionMetadata
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.SessionMetadata)}
}

func (m *MemoryStore) SaveSession(meta *models.SessionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[meta.SessionID] = *meta
	return nil
}

func (m *MemoryStore) GetSession(sessionID string) (*models.SessionMetadata, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	copied := meta
	return &copied, true, nil
}

func (m *MemoryStore) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) ListSessions() ([]models.SessionMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]models.SessionMetadata, 0, len(m.sessions))
	for _, meta := range m.sessions {
		sessions = append(sessions, meta)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *MemoryStore) TotalSessions() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
