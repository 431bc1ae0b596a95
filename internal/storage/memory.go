package storage

import (
	"sync"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// MemoryStore keeps sessions in a process-local map. Volatile: everything
// is lost on restart. One mutex serializes every operation so that
// get-or-create, save and status bookkeeping are never interleaved across
// concurrent callers.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
	}
}

func (m *MemoryStore) Get(name string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetOrCreate(name, conversationID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[name]; ok {
		if conversationID != "" && s.ConversationID != conversationID {
			s.ConversationID = conversationID
			s.UpdatedAt = time.Now().UTC()
		}
		return s.Clone(), nil
	}

	s := models.NewSession(name, conversationID)
	m.sessions[name] = s.Clone()
	return s, nil
}

func (m *MemoryStore) Save(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.SessionName] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[name]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, name)
	return nil
}

func (m *MemoryStore) ListByStatus(status models.Status, limit, offset int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sortByUpdatedDesc(out)
	return page(out, limit, offset), nil
}

func (m *MemoryStore) CountByStatus(status models.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListAll(limit, offset int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sortByUpdatedDesc(out)
	return page(out, limit, offset), nil
}

func (m *MemoryStore) CountAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) ClearAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.sessions)
	m.sessions = make(map[string]*models.Session)
	return count, nil
}

func (m *MemoryStore) Stats() (map[models.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[models.Status]int)
	for _, s := range m.sessions {
		stats[s.Status]++
	}
	return stats, nil
}

// DeleteOlderThan removes sessions untouched since the cutoff. The Redis
// backend expires entries via TTL; this is the memory-store equivalent,
// driven by the cleanup job.
func (m *MemoryStore) DeleteOlderThan(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for name, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, name)
			removed++
		}
	}
	return removed
}
