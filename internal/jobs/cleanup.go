package jobs

import (
	"log"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// MaintenanceJob handles scheduled session housekeeping
type MaintenanceJob struct {
	store     storage.SessionStore
	alerts    *services.AlertService
	ttl       time.Duration
	isRunning bool

	// alerted remembers which pending sessions already triggered a
	// wait-timeout alert, so each fires at most once.
	alerted map[string]bool
}

// NewMaintenanceJob creates the housekeeping scheduler. ttl only matters
// for the in-memory store; the durable backend expires entries itself.
func NewMaintenanceJob(store storage.SessionStore, alerts *services.AlertService, ttl time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		store:     store,
		alerts:    alerts,
		ttl:       ttl,
		isRunning: false,
		alerted:   make(map[string]bool),
	}
}

// Start begins all scheduled housekeeping jobs
func (m *MaintenanceJob) Start() {
	if m.isRunning {
		log.Println("Maintenance jobs already running")
		return
	}

	m.isRunning = true
	log.Println("Starting scheduled maintenance jobs...")

	go m.scheduleExpirySweep()
	go m.scheduleWaitTimeoutCheck()

	log.Println("All maintenance jobs started successfully")
}

// Stop halts all scheduled jobs
func (m *MaintenanceJob) Stop() {
	m.isRunning = false
	log.Println("Stopping scheduled maintenance jobs...")
}

// EXPIRY SWEEP - Runs every hour, drops stale in-memory sessions
func (m *MaintenanceJob) scheduleExpirySweep() {
	mem, ok := m.store.(*storage.MemoryStore)
	if !ok {
		// The durable backend handles expiry via TTL.
		return
	}

	for m.isRunning {
		time.Sleep(time.Hour)
		if !m.isRunning {
			break
		}

		cutoff := time.Now().UTC().Add(-m.ttl)
		if n := mem.DeleteOlderThan(cutoff); n > 0 {
			log.Printf("🧹 Expired %d stale sessions", n)
		}
	}
}

// WAIT TIMEOUT CHECK - Runs every minute, alerts on long-waiting sessions
func (m *MaintenanceJob) scheduleWaitTimeoutCheck() {
	for m.isRunning {
		time.Sleep(time.Minute)
		if !m.isRunning {
			break
		}
		m.checkWaitTimeouts()
	}
}

// checkWaitTimeouts fires one alert per session whose queue wait crossed
// the timeout threshold.
func (m *MaintenanceJob) checkWaitTimeouts() {
	pending, err := m.store.ListByStatus(models.StatusPendingManual, 0, 0)
	if err != nil {
		log.Printf("Error listing pending sessions for timeout check: %v", err)
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(pending))
	for _, s := range pending {
		seen[s.SessionName] = true
		if s.Escalation == nil || m.alerted[s.SessionName] {
			continue
		}
		if now.Sub(s.Escalation.TriggerAt) < services.WaitTimeout {
			continue
		}

		m.alerted[s.SessionName] = true
		log.Printf("⏰ Session %s has been waiting %.0f seconds for an agent", s.SessionName, now.Sub(s.Escalation.TriggerAt).Seconds())
		m.alerts.SendEscalationAlert(s)
	}

	// Forget sessions that left the queue so they can alert again if
	// re-escalated later.
	for name := range m.alerted {
		if !seen[name] {
			delete(m.alerted, name)
		}
	}
}
