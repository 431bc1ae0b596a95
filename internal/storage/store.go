package storage

import (
	"errors"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// ErrNotFound is returned when a session key has no entry.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is how long the durable backend keeps a session record.
const DefaultTTL = 24 * time.Hour

// SessionStore persists session entities indexed by status. Save is
// last-write-wins at the entity level: callers read-modify-write the whole
// session within a single logical operation, there is no field merge.
//
// Stores are injected everywhere they are needed; there is deliberately no
// package-level instance, so tests can run several stores side by side.
type SessionStore interface {
	Get(name string) (*models.Session, error)
	GetOrCreate(name, conversationID string) (*models.Session, error)
	Save(s *models.Session) error
	Delete(name string) error
	ListByStatus(status models.Status, limit, offset int) ([]*models.Session, error)
	CountByStatus(status models.Status) (int, error)
	ListAll(limit, offset int) ([]*models.Session, error)
	CountAll() (int, error)
	ClearAll() (int, error)
	Stats() (map[models.Status]int, error)
}

// Open selects the backend from the environment. With REDIS_URL set it
// tries the durable Redis backend and degrades to the in-process memory
// store when the connection fails, logging the degradation. It never
// returns an error: a store outage at startup must not crash the
// orchestrator.
func Open() SessionStore {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		log.Println("⚠️  REDIS_URL not set - using in-memory session store (volatile)")
		return NewMemoryStore()
	}

	ttl := DefaultTTL
	if hours, err := strconv.Atoi(os.Getenv("SESSION_TTL_HOURS")); err == nil && hours > 0 {
		ttl = time.Duration(hours) * time.Hour
	}

	rs, err := NewRedisStore(url, ttl)
	if err != nil {
		log.Printf("⚠️  Redis unreachable (%v) - falling back to in-memory session store", err)
		return NewMemoryStore()
	}
	log.Printf("✅ Redis session store connected (TTL %s)", ttl)
	return rs
}

// sortByUpdatedDesc orders newest-first for list endpoints.
func sortByUpdatedDesc(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

// page applies limit/offset to an already sorted slice.
func page(sessions []*models.Session, limit, offset int) []*models.Session {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sessions) {
		return nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}
