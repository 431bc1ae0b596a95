package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// ErrAgentNotFound is returned for unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

// AgentDirectory is the roster of human agents with presence, skills and
// capacity. Read-mostly from the orchestrator's perspective; only presence
// and last-active timestamps are written here.
type AgentDirectory interface {
	GetAgent(id string) (*models.Agent, error)
	ListAgents() ([]*models.Agent, error)
	ListReachable() ([]*models.Agent, error)
	UpsertAgent(a *models.Agent) error
	UpdateStatus(id string, status models.AgentStatus) error
	TouchLastActive(id string) error
}

// MemoryDirectory keeps the roster in memory, used in tests and as the
// degraded mode when Postgres is unreachable at startup.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryDirectory creates an empty in-memory roster.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{agents: make(map[string]*models.Agent)}
}

func (d *MemoryDirectory) GetAgent(id string) (*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *MemoryDirectory) ListAgents() ([]*models.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (d *MemoryDirectory) ListReachable() ([]*models.Agent, error) {
	all, _ := d.ListAgents()
	var out []*models.Agent
	for _, a := range all {
		if a.Status.Reachable() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) UpsertAgent(a *models.Agent) error {
	if a.ID == "" {
		return ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	d.agents[a.ID] = &cp
	return nil
}

func (d *MemoryDirectory) UpdateStatus(id string, status models.AgentStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *MemoryDirectory) TouchLastActive(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.LastActiveAt = time.Now().UTC()
	return nil
}

// GormDirectory persists the roster in Postgres via GORM.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory migrates the agent tables and wraps the handle.
func NewGormDirectory(db *gorm.DB) (*GormDirectory, error) {
	if err := db.AutoMigrate(&models.Agent{}, &models.AgentSkill{}); err != nil {
		return nil, fmt.Errorf("migrate agent tables: %w", err)
	}
	return &GormDirectory{db: db}, nil
}

func (d *GormDirectory) GetAgent(id string) (*models.Agent, error) {
	var a models.Agent
	err := d.db.Preload("Skills").First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *GormDirectory) ListAgents() ([]*models.Agent, error) {
	var agents []*models.Agent
	if err := d.db.Preload("Skills").Order("id").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

func (d *GormDirectory) ListReachable() ([]*models.Agent, error) {
	var agents []*models.Agent
	err := d.db.Preload("Skills").
		Where("status IN ?", []models.AgentStatus{models.AgentOnline, models.AgentBusy}).
		Order("id").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func (d *GormDirectory) UpsertAgent(a *models.Agent) error {
	if a.ID == "" {
		return ErrInvalidArgument
	}
	return d.db.Save(a).Error
}

func (d *GormDirectory) UpdateStatus(id string, status models.AgentStatus) error {
	res := d.db.Model(&models.Agent{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (d *GormDirectory) TouchLastActive(id string) error {
	res := d.db.Model(&models.Agent{}).Where("id = ?", id).Update("last_active_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}
