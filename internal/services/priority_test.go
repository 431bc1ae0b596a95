package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

func escalatedSession(name string, waitedFor time.Duration, now time.Time) *models.Session {
	s := models.NewSession(name, "")
	s.EscalationCount = 1
	s.Escalation = &models.Escalation{
		Reason:    models.ReasonKeyword,
		TriggerAt: now.Add(-waitedFor),
	}
	return s
}

func TestComputePriorityNormal(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", time.Minute, now)

	p := ComputePriority(s, now, []string{"urgent"})
	assert.Equal(t, models.PriorityNormal, p.Level)
	assert.False(t, p.IsVIP)
	assert.False(t, p.IsTimeout)
	assert.False(t, p.IsRepeat)
	assert.InDelta(t, 60, p.WaitSeconds, 1)
}

func TestComputePriorityVIPIsUrgent(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", time.Minute, now)
	s.Profile.VIP = true

	p := ComputePriority(s, now, nil)
	assert.Equal(t, models.PriorityUrgent, p.Level)
	assert.True(t, p.IsVIP)
}

func TestComputePriorityTimeoutIsUrgent(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", WaitTimeout+time.Second, now)

	p := ComputePriority(s, now, nil)
	assert.True(t, p.IsTimeout)
	assert.Equal(t, models.PriorityUrgent, p.Level)
}

func TestComputePriorityRepeatIsHigh(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", time.Minute, now)
	s.EscalationCount = 2

	p := ComputePriority(s, now, nil)
	assert.True(t, p.IsRepeat)
	assert.Equal(t, models.PriorityHigh, p.Level)
}

func TestComputePriorityKeywordHitsAreHigh(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", time.Minute, now)
	s.AddMessage(models.Message{Role: models.RoleUser, Content: "my brake is BROKEN and smoking"})
	s.AddMessage(models.Message{Role: models.RoleAssistant, Content: "that sounds urgent indeed"})

	p := ComputePriority(s, now, []string{"broken", "urgent", "fire"})
	assert.Equal(t, []string{"broken"}, p.UrgentKeywordHits, "assistant messages never count")
	assert.Equal(t, models.PriorityHigh, p.Level)
}

func TestComputePriorityWaitMonotonic(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", time.Minute, now)

	early := ComputePriority(s, now, nil)
	later := ComputePriority(s, now.Add(time.Minute), nil)
	assert.Greater(t, later.WaitSeconds, early.WaitSeconds)
}

func TestComputePriorityFutureTriggerClampsToZero(t *testing.T) {
	now := time.Now().UTC()
	s := escalatedSession("s1", -time.Minute, now)

	p := ComputePriority(s, now, nil)
	assert.Zero(t, p.WaitSeconds)
}

func TestSortQueueOrder(t *testing.T) {
	now := time.Now().UTC()

	vip := escalatedSession("vip", time.Minute, now)
	vip.Profile.VIP = true
	timedOut := escalatedSession("timed-out", WaitTimeout+time.Minute, now)
	repeat := escalatedSession("repeat", 2*time.Minute, now)
	repeat.EscalationCount = 3
	fresh := escalatedSession("fresh", time.Second, now)

	sessions := []*models.Session{fresh, repeat, timedOut, vip}
	for _, s := range sessions {
		s.Priority = ComputePriority(s, now, nil)
	}
	SortQueue(sessions)

	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.SessionName)
	}
	require.Equal(t, []string{"vip", "timed-out", "repeat", "fresh"}, names)
}

func TestSortQueueLongerWaitFirstWithinLevel(t *testing.T) {
	now := time.Now().UTC()
	a := escalatedSession("short", time.Minute, now)
	b := escalatedSession("long", 3*time.Minute, now)

	sessions := []*models.Session{a, b}
	for _, s := range sessions {
		s.Priority = ComputePriority(s, now, nil)
	}
	SortQueue(sessions)
	assert.Equal(t, "long", sessions[0].SessionName)
}
