package services

import (
	"sort"
	"strings"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// WaitTimeout is how long a pending session may wait before it counts as
// timed out and jumps to urgent.
const WaitTimeout = 300 * time.Second

// ComputePriority derives a session's queue priority as a pure function of
// the session, the given clock and the caller-supplied urgent keyword list.
// It never caches: wait time changes continuously, so callers recompute on
// every read.
func ComputePriority(s *models.Session, now time.Time, urgentKeywords []string) models.Priority {
	p := models.Priority{Level: models.PriorityNormal}
	p.IsVIP = s.Profile.VIP

	if s.Escalation != nil {
		wait := now.Sub(s.Escalation.TriggerAt).Seconds()
		if wait < 0 {
			wait = 0
		}
		p.WaitSeconds = wait
		p.IsTimeout = wait > WaitTimeout.Seconds()
	}

	p.IsRepeat = s.EscalationCount > 1
	p.UrgentKeywordHits = scanUrgentKeywords(s.History, urgentKeywords)

	switch {
	case p.IsVIP || p.IsTimeout:
		p.Level = models.PriorityUrgent
	case len(p.UrgentKeywordHits) > 0 || p.IsRepeat:
		p.Level = models.PriorityHigh
	default:
		p.Level = models.PriorityNormal
	}
	return p
}

// scanUrgentKeywords matches user-authored history lines against the
// keyword list, case-insensitive substring, deduplicated in list order.
func scanUrgentKeywords(history []models.Message, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var hits []string
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" || seen[needle] {
			continue
		}
		for _, msg := range history {
			if msg.Role != models.RoleUser {
				continue
			}
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				seen[needle] = true
				hits = append(hits, kw)
				break
			}
		}
	}
	return hits
}

// SortQueue orders waiting sessions for pickup: VIP before non-VIP, then
// level weight descending, then longest-waiting first. The sort is stable,
// so equal keys keep their relative order. Priorities must already be
// computed on each session.
func SortQueue(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		pi, pj := sessions[i].Priority, sessions[j].Priority
		if pi.IsVIP != pj.IsVIP {
			return pi.IsVIP
		}
		if pi.Level.Weight() != pj.Level.Weight() {
			return pi.Level.Weight() > pj.Level.Weight()
		}
		return pi.WaitSeconds > pj.WaitSeconds
	})
}
