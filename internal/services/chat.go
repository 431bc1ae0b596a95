package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// ChatResult is the outcome of one user turn.
type ChatResult struct {
	Session    *models.Session
	Reply      string
	Escalated  bool
	Escalation *models.Escalation
}

// Orchestrator ties the session store, the AI engine, the regulator and the
// human-handoff machinery into the operations the HTTP layer exposes. All
// state lives in the store; the orchestrator itself only holds wiring and
// configuration.
type Orchestrator struct {
	store     storage.SessionStore
	engine    ChatEngine
	regulator *Regulator
	relay     *Relay
	takeover  *TakeoverEngine
	assigner  *SmartAssignmentEngine
	directory AgentDirectory
	alerts    *AlertService
	tickets   TicketStore

	urgentKeywords []string
	hoursStart     int
	hoursEnd       int
	location       *time.Location
}

// NewOrchestrator wires the pieces together. Urgent keywords come from
// URGENT_KEYWORDS, business hours from SUPPORT_HOURS_START /
// SUPPORT_HOURS_END (local hour, default 9 to 18) in SUPPORT_TIMEZONE.
func NewOrchestrator(store storage.SessionStore, engine ChatEngine, regulator *Regulator, relay *Relay, directory AgentDirectory, alerts *AlertService, tickets TicketStore) *Orchestrator {
	loc := time.UTC
	if tz := getEnv("SUPPORT_TIMEZONE", ""); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Printf("⚠️  Invalid SUPPORT_TIMEZONE %q, using UTC", tz)
		}
	}
	return &Orchestrator{
		store:          store,
		engine:         engine,
		regulator:      regulator,
		relay:          relay,
		takeover:       NewTakeoverEngine(store),
		assigner:       NewSmartAssignmentEngine(directory, store),
		directory:      directory,
		alerts:         alerts,
		tickets:        tickets,
		urgentKeywords: splitList(getEnv("URGENT_KEYWORDS", "urgent,refund,broken,injury,accident,fire")),
		hoursStart:     envHour("SUPPORT_HOURS_START", 9),
		hoursEnd:       envHour("SUPPORT_HOURS_END", 18),
		location:       loc,
	}
}

func envHour(name string, fallback int) int {
	if v := getEnv(name, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 24 {
			return n
		}
	}
	return fallback
}

// Relay exposes the event relay so the streaming handler can open and
// drain per-session queues.
func (o *Orchestrator) Relay() *Relay { return o.relay }

// withinSupportHours reports whether a human is expected to be on shift.
func (o *Orchestrator) withinSupportHours(now time.Time) bool {
	h := now.In(o.location).Hour()
	return h >= o.hoursStart && h < o.hoursEnd
}

// HandleUserMessage runs one non-streaming user turn: regulation first,
// then the AI engine, then post-response regulation. Returns
// ErrSessionInManual when a human owns or is about to own the session.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, sessionName, message, conversationID string, profile *models.UserProfile, params map[string]interface{}) (*ChatResult, error) {
	return o.runUserTurn(ctx, sessionName, message, conversationID, profile, params, nil)
}

// StreamUserMessage is HandleUserMessage with incremental delivery: every
// AI content chunk is handed to onDelta as it arrives.
func (o *Orchestrator) StreamUserMessage(ctx context.Context, sessionName, message, conversationID string, profile *models.UserProfile, params map[string]interface{}, onDelta DeltaFunc) (*ChatResult, error) {
	return o.runUserTurn(ctx, sessionName, message, conversationID, profile, params, onDelta)
}

func (o *Orchestrator) runUserTurn(ctx context.Context, sessionName, message, conversationID string, profile *models.UserProfile, params map[string]interface{}, onDelta DeltaFunc) (*ChatResult, error) {
	if sessionName == "" || message == "" {
		return nil, fmt.Errorf("%w: session_name and message are required", ErrInvalidArgument)
	}

	s, err := o.store.GetOrCreate(sessionName, conversationID)
	if err != nil {
		return nil, err
	}
	mergeProfile(s, profile)

	switch s.Status {
	case models.StatusPendingManual:
		// The user keeps talking while waiting in the queue. Record it
		// so the agent sees the full context, but never answer.
		s.AddMessage(models.Message{Role: models.RoleUser, Content: message})
		if err := o.store.Save(s); err != nil {
			return nil, err
		}
		return &ChatResult{Session: s}, ErrSessionInManual
	case models.StatusManualLive:
		// Live manual traffic goes through PostManualMessage.
		return &ChatResult{Session: s}, ErrSessionInManual
	}

	// Pre-response regulation: VIP and keyword rules fire before the AI
	// ever sees the message.
	pre := o.regulator.Evaluate(s, RegulatorInput{UserMessage: message, Parameters: params})
	if pre.ShouldEscalate {
		s.AddMessage(models.Message{Role: models.RoleUser, Content: message})
		o.applyEscalation(s, pre)
		if err := o.store.Save(s); err != nil {
			return nil, err
		}
		return &ChatResult{Session: s, Escalated: true, Escalation: s.Escalation}, nil
	}

	reply, err := o.engine.ChatStream(ctx, sessionName, message, params, onDelta)
	if err != nil {
		// The turn still happened from the user's point of view.
		s.AddMessage(models.Message{Role: models.RoleUser, Content: message})
		if saveErr := o.store.Save(s); saveErr != nil {
			log.Printf("❌ Failed to persist session %s after engine error: %v", sessionName, saveErr)
		}
		return &ChatResult{Session: s}, err
	}
	if reply.ConversationID != "" {
		s.ConversationID = reply.ConversationID
	}

	s.AddMessage(models.Message{Role: models.RoleUser, Content: message})
	s.AddMessage(models.Message{Role: models.RoleAssistant, Content: reply.Content})
	o.regulator.UpdateFailCount(s, reply.Content)

	result := &ChatResult{Session: s, Reply: reply.Content}
	post := o.regulator.Evaluate(s, RegulatorInput{UserMessage: message, AIResponse: reply.Content, Parameters: params})
	if post.ShouldEscalate {
		o.applyEscalation(s, post)
		result.Escalated = true
		result.Escalation = s.Escalation
	}

	if err := o.store.Save(s); err != nil {
		return nil, err
	}
	return result, nil
}

// mergeProfile overlays non-empty caller fields onto the stored profile.
func mergeProfile(s *models.Session, p *models.UserProfile) {
	if p == nil {
		return
	}
	if p.Nickname != "" {
		s.Profile.Nickname = p.Nickname
	}
	if p.Email != "" {
		s.Profile.Email = p.Email
	}
	if p.Country != "" {
		s.Profile.Country = p.Country
	}
	if p.Language != "" {
		s.Profile.Language = p.Language
	}
	if p.VIP {
		s.Profile.VIP = true
	}
	if len(p.Metadata) > 0 {
		if s.Profile.Metadata == nil {
			s.Profile.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			s.Profile.Metadata[k] = v
		}
	}
}

// applyEscalation records the escalation and moves the session into the
// human queue, or to the after-hours notice when nobody is on shift. The
// caller saves.
func (o *Orchestrator) applyEscalation(s *models.Session, result EscalationResult) {
	now := time.Now().UTC()
	s.EscalationCount++
	s.Escalation = &models.Escalation{
		Reason:    result.Reason,
		Details:   result.Details,
		Severity:  result.Severity,
		TriggerAt: now,
	}

	reachable, err := o.directory.ListReachable()
	if err != nil {
		log.Printf("⚠️  Agent roster unavailable: %v", err)
	}

	target := models.StatusPendingManual
	if len(reachable) == 0 && !o.withinSupportHours(now) {
		target = models.StatusAfterHours
	}

	if s.Transition(target) {
		if target == models.StatusAfterHours {
			s.Mail = &models.MailInfo{Sent: false}
			s.AddMessage(models.Message{
				Role:    models.RoleSystem,
				Content: "Our support team is currently offline. Your request has been recorded and an agent will follow up during business hours.",
			})
			o.openFollowUpTicket(s, result)
		} else {
			s.AddMessage(models.Message{
				Role:    models.RoleSystem,
				Content: "Your conversation has been escalated to our support team. An agent will join shortly.",
			})
		}
		o.relay.PublishStatusChange(s.SessionName, s.Status, string(result.Reason))
	}

	s.Priority = ComputePriority(s, now, o.urgentKeywords)
	log.Printf("🚨 Session %s escalated: reason=%s severity=%s status=%s", s.SessionName, result.Reason, result.Severity, s.Status)

	if len(reachable) == 0 {
		o.alerts.SendEscalationAlert(s)
	}
}

// openFollowUpTicket records an after-hours escalation for the next shift.
func (o *Orchestrator) openFollowUpTicket(s *models.Session, result EscalationResult) {
	if o.tickets == nil {
		return
	}
	priority := "medium"
	if s.Profile.VIP || result.Severity == models.SeverityHigh {
		priority = "high"
	}
	t := &models.Ticket{
		SessionName: s.SessionName,
		UserEmail:   s.Profile.Email,
		IssueType:   models.IssueTypeAfterHours,
		Description: result.Details,
		Priority:    priority,
	}
	if err := o.tickets.Create(t); err != nil {
		log.Printf("❌ Failed to open follow-up ticket for %s: %v", s.SessionName, err)
		return
	}
	s.AddTicket(t.TicketID)
	log.Printf("🎫 Follow-up ticket %s opened for session %s", t.TicketID, s.SessionName)
}

// Tickets exposes the ticket store for the HTTP layer.
func (o *Orchestrator) Tickets() TicketStore { return o.tickets }

// Escalate hands a session to the queue on explicit request, bypassing the
// rule engine.
func (o *Orchestrator) Escalate(sessionName, details string) (*models.Session, error) {
	if sessionName == "" {
		return nil, fmt.Errorf("%w: session_name is required", ErrInvalidArgument)
	}
	s, err := o.store.Get(sessionName)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case models.StatusManualLive:
		return nil, ErrSessionInManual
	case models.StatusPendingManual:
		// Already queued, idempotent.
		return s, nil
	}
	if details == "" {
		details = "escalation requested"
	}
	o.applyEscalation(s, EscalationResult{
		ShouldEscalate: true,
		Reason:         models.ReasonManual,
		Severity:       models.SeverityMedium,
		Details:        details,
	})
	if err := o.store.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Takeover claims the session for an agent. Exactly one concurrent caller
// wins; the rest get ErrAlreadyClaimed.
func (o *Orchestrator) Takeover(sessionName, agentID, agentName string) (*models.Session, error) {
	note := fmt.Sprintf("%s has joined the conversation.", displayName(agentID, agentName))
	s, err := o.takeover.Claim(sessionName, agentID, agentName, note)
	if err != nil {
		return nil, err
	}

	o.relay.PublishStatusChange(sessionName, s.Status, "agent_joined")
	o.assigner.Remember(s, agentID)
	if err := o.directory.TouchLastActive(agentID); err != nil && !errors.Is(err, ErrAgentNotFound) {
		log.Printf("⚠️  Failed to touch agent %s: %v", agentID, err)
	}
	log.Printf("👤 Agent %s took over session %s", agentID, sessionName)
	return s, nil
}

// PostManualMessage appends a message during manual handling. Agent
// messages require a live takeover and are relayed to the user's open
// stream; user messages are accepted while a human owns or will own the
// session.
func (o *Orchestrator) PostManualMessage(sessionName string, role models.Role, content string, agent *models.AgentRef) (*models.Session, error) {
	if sessionName == "" || content == "" {
		return nil, fmt.Errorf("%w: session_name and content are required", ErrInvalidArgument)
	}
	s, err := o.store.Get(sessionName)
	if err != nil {
		return nil, err
	}

	msg := models.Message{Role: role, Content: content}
	switch role {
	case models.RoleAgent:
		if !s.AllowsAgentReply() {
			return nil, ErrAgentReplyNotAllowed
		}
		if agent != nil {
			msg.AgentID = agent.ID
			msg.AgentName = agent.Name
		} else if s.AssignedAgent != nil {
			msg.AgentID = s.AssignedAgent.ID
			msg.AgentName = s.AssignedAgent.Name
		}
	case models.RoleUser:
		if s.Status != models.StatusManualLive && s.Status != models.StatusPendingManual {
			return nil, fmt.Errorf("%w: session is not in manual handling", ErrInvalidArgument)
		}
	case models.RoleSystem:
		// Accepted in any state.
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidArgument, role)
	}

	s.AddMessage(msg)
	if err := o.store.Save(s); err != nil {
		return nil, err
	}
	if role == models.RoleAgent || role == models.RoleSystem {
		o.relay.PublishManualMessage(sessionName, msg)
	}
	return s, nil
}

// Release returns a manual_live session to the bot. When agentID is given
// it must match the assigned agent.
func (o *Orchestrator) Release(sessionName, agentID, reason string) (*models.Session, error) {
	if sessionName == "" {
		return nil, fmt.Errorf("%w: session_name is required", ErrInvalidArgument)
	}
	s, err := o.store.Get(sessionName)
	if err != nil {
		return nil, err
	}
	if s.Status != models.StatusManualLive {
		return nil, ErrInvalidTransition
	}
	if agentID != "" && s.AssignedAgent != nil && s.AssignedAgent.ID != agentID {
		return nil, fmt.Errorf("%w: session is assigned to a different agent", ErrInvalidArgument)
	}

	released := displayName(agentID, "")
	if s.AssignedAgent != nil {
		released = displayName(s.AssignedAgent.ID, s.AssignedAgent.Name)
	}
	if !s.Transition(models.StatusBotActive) {
		return nil, ErrInvalidTransition
	}
	notice := fmt.Sprintf("%s has left the conversation. The AI assistant will continue to help you.", released)
	if reason != "" {
		notice = fmt.Sprintf("%s (%s)", notice, reason)
	}
	s.AddMessage(models.Message{Role: models.RoleSystem, Content: notice})

	if err := o.store.Save(s); err != nil {
		return nil, err
	}
	o.relay.PublishStatusChange(sessionName, s.Status, "agent_released")
	log.Printf("🤖 Session %s released back to the assistant", sessionName)
	return s, nil
}

func displayName(id, name string) string {
	if name != "" {
		return name
	}
	if id != "" {
		return "Agent " + id
	}
	return "The agent"
}

// ListPendingQueue returns the waiting sessions with freshly computed
// priorities, most urgent first.
func (o *Orchestrator) ListPendingQueue(limit, offset int) ([]*models.Session, error) {
	sessions, err := o.store.ListByStatus(models.StatusPendingManual, 0, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, s := range sessions {
		s.Priority = ComputePriority(s, now, o.urgentKeywords)
	}
	SortQueue(sessions)
	return pageSessions(sessions, limit, offset), nil
}

func pageSessions(sessions []*models.Session, limit, offset int) []*models.Session {
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

// GetSession fetches one session with a fresh priority snapshot.
func (o *Orchestrator) GetSession(sessionName string) (*models.Session, error) {
	s, err := o.store.Get(sessionName)
	if err != nil {
		return nil, err
	}
	s.Priority = ComputePriority(s, time.Now().UTC(), o.urgentKeywords)
	return s, nil
}

// ListSessions lists by status, or everything when status is empty.
func (o *Orchestrator) ListSessions(status models.Status, limit, offset int) ([]*models.Session, error) {
	if status == "" {
		return o.store.ListAll(limit, offset)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	return o.store.ListByStatus(status, limit, offset)
}

// ClearSessions wipes the store and reports how many entries went away.
func (o *Orchestrator) ClearSessions() (int, error) {
	return o.store.ClearAll()
}

// DeleteSession removes one session.
func (o *Orchestrator) DeleteSession(sessionName string) error {
	return o.store.Delete(sessionName)
}

// Stats reports per-status session counts.
func (o *Orchestrator) Stats() (map[models.Status]int, error) {
	return o.store.Stats()
}

// SuggestAgent picks the best available agent for a waiting session.
func (o *Orchestrator) SuggestAgent(sessionName string) (*AssignmentDecision, error) {
	s, err := o.store.Get(sessionName)
	if err != nil {
		return nil, err
	}
	s.Priority = ComputePriority(s, time.Now().UTC(), o.urgentKeywords)
	return o.assigner.Suggest(s)
}
