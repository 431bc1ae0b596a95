package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// ErrTicketNotFound is returned for unknown ticket ids.
var ErrTicketNotFound = errors.New("ticket not found")

// TicketStore persists follow-up tickets. A nil store is valid and drops
// everything, mirroring how the alert channel degrades.
type TicketStore interface {
	Create(t *models.Ticket) error
	Get(ticketID string) (*models.Ticket, error)
	ListOpen(limit, offset int) ([]*models.Ticket, error)
	Resolve(ticketID, resolvedBy, resolution string) error
}

// MemoryTicketStore is the fallback when no database is configured.
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets []*models.Ticket
	nextID  uint
}

func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{nextID: 1}
}

func (s *MemoryTicketStore) Create(t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.TicketID == "" {
		t.TicketID = fmt.Sprintf("TK%d", time.Now().UnixNano())
	}
	if t.IssueType == "" {
		t.IssueType = models.IssueTypeGeneral
	}
	if t.Status == "" {
		t.Status = "open"
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	t.ID = s.nextID
	s.nextID++
	t.CreatedAt = time.Now().UTC()
	cp := *t
	s.tickets = append(s.tickets, &cp)
	return nil
}

func (s *MemoryTicketStore) Get(ticketID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.TicketID == ticketID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (s *MemoryTicketStore) ListOpen(limit, offset int) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*models.Ticket
	for _, t := range s.tickets {
		if t.Status == "open" || t.Status == "in_progress" {
			cp := *t
			open = append(open, &cp)
		}
	}
	if offset >= len(open) {
		return nil, nil
	}
	open = open[offset:]
	if limit > 0 && limit < len(open) {
		open = open[:limit]
	}
	return open, nil
}

func (s *MemoryTicketStore) Resolve(ticketID, resolvedBy, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.TicketID == ticketID {
			now := time.Now().UTC()
			t.Status = "resolved"
			t.AssignedTo = resolvedBy
			t.Resolution = resolution
			t.ResolvedAt = &now
			return nil
		}
	}
	return ErrTicketNotFound
}

// GormTicketStore keeps tickets in the same PostgreSQL database as the
// agent roster.
type GormTicketStore struct {
	db *gorm.DB
}

func NewGormTicketStore(db *gorm.DB) (*GormTicketStore, error) {
	if err := db.AutoMigrate(&models.Ticket{}); err != nil {
		return nil, fmt.Errorf("migrate ticket table: %w", err)
	}
	return &GormTicketStore{db: db}, nil
}

func (s *GormTicketStore) Create(t *models.Ticket) error {
	return s.db.Create(t).Error
}

func (s *GormTicketStore) Get(ticketID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.Where("ticket_id = ?", ticketID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormTicketStore) ListOpen(limit, offset int) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	q := s.db.Where("status IN ?", []string{"open", "in_progress"}).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return tickets, q.Find(&tickets).Error
}

func (s *GormTicketStore) Resolve(ticketID, resolvedBy, resolution string) error {
	now := time.Now().UTC()
	res := s.db.Model(&models.Ticket{}).Where("ticket_id = ?", ticketID).Updates(map[string]interface{}{
		"status":      "resolved",
		"assigned_to": resolvedBy,
		"resolution":  resolution,
		"resolved_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}
