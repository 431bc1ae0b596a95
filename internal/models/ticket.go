package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Ticket is a follow-up record for conversations that could not be served
// live, most often after-hours escalations. Linked back to the session via
// Session.Tickets.
type Ticket struct {
	gorm.Model
	TicketID    string     `gorm:"uniqueIndex;not null" json:"ticket_id"`
	SessionName string     `gorm:"index;not null" json:"session_name"`
	UserEmail   string     `json:"user_email,omitempty"`
	IssueType   string     `json:"issue_type"`
	Description string     `json:"description"`
	Status      string     `gorm:"default:'open'" json:"status"`     // open, in_progress, resolved, closed
	Priority    string     `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	AssignedTo  string     `json:"assigned_to,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
}

const (
	IssueTypeEscalation = "escalation"
	IssueTypeAfterHours = "after_hours"
	IssueTypeComplaint  = "complaint"
	IssueTypeGeneral    = "general"
)

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.TicketID == "" {
		t.TicketID = fmt.Sprintf("TK%d", time.Now().UnixNano())
	}
	if t.IssueType == "" {
		t.IssueType = IssueTypeGeneral
	}
	return nil
}
