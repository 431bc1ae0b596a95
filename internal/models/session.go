package models

import (
	"strings"
	"time"
)

// Status is the canonical per-conversation state. It fully determines who
// may write user-visible messages: the bot (bot_active, after_hours_notice),
// a human agent (manual_live), or nobody (pending_manual).
type Status string

const (
	StatusBotActive     Status = "bot_active"
	StatusPendingManual Status = "pending_manual"
	StatusManualLive    Status = "manual_live"
	StatusAfterHours    Status = "after_hours_notice"
	StatusClosed        Status = "closed"
)

// AllStatuses lists every status value, used for index maintenance.
func AllStatuses() []Status {
	return []Status{
		StatusBotActive,
		StatusPendingManual,
		StatusManualLive,
		StatusAfterHours,
		StatusClosed,
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusBotActive, StatusPendingManual, StatusManualLive, StatusAfterHours, StatusClosed:
		return true
	}
	return false
}

// transitions is the single source of truth for legal status changes.
var transitions = map[Status][]Status{
	StatusBotActive:     {StatusPendingManual, StatusAfterHours, StatusManualLive},
	StatusPendingManual: {StatusManualLive, StatusBotActive, StatusAfterHours},
	StatusManualLive:    {StatusBotActive, StatusClosed},
	StatusAfterHours:    {StatusManualLive, StatusBotActive, StatusClosed},
	StatusClosed:        {StatusBotActive},
}

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
	RoleSystem    Role = "system"
)

// MaxHistory bounds the per-session message history. Oldest entries are
// silently dropped, never reordered.
const MaxHistory = 50

// Message is a single entry in a session's history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
}

// UserProfile carries what we know about the end user.
type UserProfile struct {
	Nickname string            `json:"nickname"`
	Email    string            `json:"email,omitempty"`
	VIP      bool              `json:"vip"`
	Country  string            `json:"country,omitempty"`
	Language string            `json:"language,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EscalationReason classifies why a session was escalated to a human.
type EscalationReason string

const (
	ReasonKeyword  EscalationReason = "keyword"
	ReasonFailLoop EscalationReason = "fail_loop"
	ReasonVIP      EscalationReason = "vip"
	ReasonManual   EscalationReason = "manual"
)

// Severity grades an escalation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Escalation records why and when a session was handed to the human queue.
// Present iff the session has been escalated since its last return to
// bot_active.
type Escalation struct {
	Reason    EscalationReason `json:"reason"`
	Details   string           `json:"details"`
	Severity  Severity         `json:"severity"`
	TriggerAt time.Time        `json:"trigger_at"`
}

// AgentRef identifies the agent bound to a manual_live session.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PriorityLevel orders waiting sessions for pickup.
type PriorityLevel string

const (
	PriorityNormal PriorityLevel = "normal"
	PriorityHigh   PriorityLevel = "high"
	PriorityUrgent PriorityLevel = "urgent"
)

// Weight converts a level to its sort weight, higher served first.
func (l PriorityLevel) Weight() int {
	switch l {
	case PriorityUrgent:
		return 2
	case PriorityHigh:
		return 1
	}
	return 0
}

// Priority is derived and recomputed on every read. It is never
// authoritative on its own: always a pure function of the session plus the
// current clock and a caller-supplied keyword list.
type Priority struct {
	Level             PriorityLevel `json:"level"`
	IsVIP             bool          `json:"is_vip"`
	WaitSeconds       float64       `json:"wait_seconds"`
	IsTimeout         bool          `json:"is_timeout"`
	IsRepeat          bool          `json:"is_repeat"`
	UrgentKeywordHits []string      `json:"urgent_keyword_hits,omitempty"`
}

// MailInfo tracks the after-hours notice delivery for a session.
type MailInfo struct {
	Sent      bool     `json:"sent"`
	SentTo    []string `json:"sent_to,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Session is the central entity, one per end-user conversation. The session
// store owns the canonical copy; every other component receives it for a
// single operation and writes back through the store.
type Session struct {
	SessionName    string      `json:"session_name"`
	Status         Status      `json:"status"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Profile        UserProfile `json:"user_profile"`
	History        []Message   `json:"history"`

	Escalation    *Escalation `json:"escalation,omitempty"`
	AssignedAgent *AgentRef   `json:"assigned_agent,omitempty"`
	Mail          *MailInfo   `json:"mail,omitempty"`
	Priority      Priority    `json:"priority"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ManualStartAt   *time.Time `json:"manual_start_at,omitempty"`
	LastManualEndAt *time.Time `json:"last_manual_end_at,omitempty"`

	// AIFailCount counts consecutive low-confidence AI responses. Reset to
	// zero by any response that does not match the failure heuristics.
	AIFailCount int `json:"ai_fail_count"`

	// EscalationCount counts escalations over the session lifetime; a value
	// above one marks the session as re-escalated for priority purposes.
	EscalationCount int `json:"escalation_count"`

	Tickets []string `json:"tickets,omitempty"`
}

// NewSession creates a bot_active session for the given key.
func NewSession(name, conversationID string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionName:    name,
		Status:         StatusBotActive,
		ConversationID: conversationID,
		Profile:        UserProfile{Nickname: "Guest"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CanTransition reports whether the move is in the legal table.
func (s *Session) CanTransition(to Status) bool {
	for _, t := range transitions[s.Status] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition applies a status change if the legal table permits it and
// returns whether it did. An illegal move leaves the session untouched;
// callers treat false as a no-op, not a fatal error.
//
// Entering manual_live records ManualStartAt. Leaving manual_live records
// LastManualEndAt and clears AssignedAgent. Returning to bot_active clears
// the escalation record and the consecutive-failure counter so the bot
// starts clean. No message is appended here; callers add their own notice.
func (s *Session) Transition(to Status) bool {
	if !s.CanTransition(to) {
		return false
	}
	from := s.Status
	now := time.Now().UTC()
	s.Status = to
	s.UpdatedAt = now

	if to == StatusManualLive && from != StatusManualLive {
		t := now
		s.ManualStartAt = &t
	}
	if from == StatusManualLive && to != StatusManualLive {
		t := now
		s.LastManualEndAt = &t
		s.AssignedAgent = nil
		s.ManualStartAt = nil
	}
	if to == StatusBotActive {
		s.Escalation = nil
		s.AIFailCount = 0
	}
	return true
}

// AllowsAssistantReply reports whether the AI may answer in the current state.
func (s *Session) AllowsAssistantReply() bool {
	return s.Status == StatusBotActive || s.Status == StatusAfterHours
}

// AllowsAgentReply reports whether a human agent may answer.
func (s *Session) AllowsAgentReply() bool {
	return s.Status == StatusManualLive
}

// AddMessage appends to the history in arrival order, dropping the oldest
// entries beyond MaxHistory.
func (s *Session) AddMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.History = append(s.History, m)
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
	s.UpdatedAt = time.Now().UTC()
}

// LastMessage returns the newest history entry, or nil when empty.
func (s *Session) LastMessage() *Message {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// AddTicket links a ticket id to the session, once.
func (s *Session) AddTicket(id string) {
	for _, t := range s.Tickets {
		if t == id {
			return
		}
	}
	s.Tickets = append(s.Tickets, id)
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy so the store never hands out aliased state.
func (s *Session) Clone() *Session {
	cp := *s
	if s.History != nil {
		cp.History = make([]Message, len(s.History))
		copy(cp.History, s.History)
	}
	if s.Escalation != nil {
		e := *s.Escalation
		cp.Escalation = &e
	}
	if s.AssignedAgent != nil {
		a := *s.AssignedAgent
		cp.AssignedAgent = &a
	}
	if s.Mail != nil {
		m := *s.Mail
		cp.Mail = &m
		if s.Mail.SentTo != nil {
			cp.Mail.SentTo = append([]string(nil), s.Mail.SentTo...)
		}
	}
	if s.ManualStartAt != nil {
		t := *s.ManualStartAt
		cp.ManualStartAt = &t
	}
	if s.LastManualEndAt != nil {
		t := *s.LastManualEndAt
		cp.LastManualEndAt = &t
	}
	if s.Profile.Metadata != nil {
		cp.Profile.Metadata = make(map[string]string, len(s.Profile.Metadata))
		for k, v := range s.Profile.Metadata {
			cp.Profile.Metadata[k] = v
		}
	}
	if s.Priority.UrgentKeywordHits != nil {
		cp.Priority.UrgentKeywordHits = append([]string(nil), s.Priority.UrgentKeywordHits...)
	}
	if s.Tickets != nil {
		cp.Tickets = append([]string(nil), s.Tickets...)
	}
	return &cp
}

// Summary is the list-view projection of a session.
type Summary struct {
	SessionName   string      `json:"session_name"`
	Status        Status      `json:"status"`
	Nickname      string      `json:"nickname"`
	VIP           bool        `json:"vip"`
	UpdatedAt     time.Time   `json:"updated_at"`
	LastMessage   *Message    `json:"last_message,omitempty"`
	Escalation    *Escalation `json:"escalation,omitempty"`
	AssignedAgent *AgentRef   `json:"assigned_agent,omitempty"`
	Priority      Priority    `json:"priority"`
	Tickets       []string    `json:"tickets,omitempty"`
}

// Summarize builds the list projection, truncating the last message preview.
func (s *Session) Summarize() Summary {
	sum := Summary{
		SessionName:   s.SessionName,
		Status:        s.Status,
		Nickname:      s.Profile.Nickname,
		VIP:           s.Profile.VIP,
		UpdatedAt:     s.UpdatedAt,
		Escalation:    s.Escalation,
		AssignedAgent: s.AssignedAgent,
		Priority:      s.Priority,
		Tickets:       s.Tickets,
	}
	if last := s.LastMessage(); last != nil {
		preview := *last
		if len(preview.Content) > 80 {
			preview.Content = strings.TrimSpace(preview.Content[:77]) + "..."
		}
		sum.LastMessage = &preview
	}
	return sum
}
