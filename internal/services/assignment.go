package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// TakeoverEngine binds exactly one agent to a waiting session. The claim is
// check-then-set under a per-process mutex, so concurrent claims within one
// orchestrator see exactly one winner. With the Redis backend a narrow race
// window between the read and the acknowledged write remains across
// processes; that limitation is accepted and documented, callers trust
// "takeover succeeded" only after Save returns.
type TakeoverEngine struct {
	mu    sync.Mutex
	store storage.SessionStore
}

// NewTakeoverEngine wraps the store with the claim lock.
func NewTakeoverEngine(store storage.SessionStore) *TakeoverEngine {
	return &TakeoverEngine{store: store}
}

// Claim moves the session to manual_live bound to the given agent, in one
// store round-trip. systemNote, when non-empty, is appended as a system
// message inside the same write. Outcomes: ErrAlreadyClaimed when another
// agent holds the session, ErrInvalidTransition when the state machine
// forbids entering manual_live (e.g. closed), storage.ErrNotFound when the
// key is unknown.
func (t *TakeoverEngine) Claim(sessionName, agentID, agentName, systemNote string) (*models.Session, error) {
	if sessionName == "" || agentID == "" {
		return nil, ErrInvalidArgument
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.store.Get(sessionName)
	if err != nil {
		return nil, err
	}
	if s.Status == models.StatusManualLive {
		return nil, ErrAlreadyClaimed
	}
	if !s.Transition(models.StatusManualLive) {
		return nil, ErrInvalidTransition
	}
	s.AssignedAgent = &models.AgentRef{ID: agentID, Name: agentName}
	if systemNote != "" {
		s.AddMessage(models.Message{Role: models.RoleSystem, Content: systemNote})
	}
	if err := t.store.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AssignmentDecision is the outcome of smart candidate selection.
type AssignmentDecision struct {
	Agent           models.AgentRef `json:"agent"`
	MatchedTags     []string        `json:"matched_tags,omitempty"`
	LiveSessions    int             `json:"live_sessions"`
	PendingSessions int             `json:"pending_sessions"`
	LoadScore       int             `json:"load_score"`
}

// agentSnapshot pairs an agent with its current workload.
type agentSnapshot struct {
	agent   *models.Agent
	live    int
	pending int
}

func (s agentSnapshot) loadScore() int {
	// Live manual sessions weigh double.
	return s.live*2 + s.pending
}

// SmartAssignmentEngine picks the best agent for a waiting session: filter
// by skill-tag intersection with the session's topic tags (falling back to
// the full reachable roster), rank by presence then load then id, and
// short-circuit to the agent who last served this customer when still
// present among the candidates.
type SmartAssignmentEngine struct {
	directory AgentDirectory
	store     storage.SessionStore

	mu           sync.Mutex
	lastServedBy map[string]string // customer key -> agent id
}

// NewSmartAssignmentEngine wires the roster and the session store.
func NewSmartAssignmentEngine(directory AgentDirectory, store storage.SessionStore) *SmartAssignmentEngine {
	return &SmartAssignmentEngine{
		directory:    directory,
		store:        store,
		lastServedBy: make(map[string]string),
	}
}

// Suggest returns the ranked best candidate, or ErrNoAgentAvailable when
// nobody reachable exists. It never mutates the session.
func (e *SmartAssignmentEngine) Suggest(s *models.Session) (*AssignmentDecision, error) {
	reachable, err := e.directory.ListReachable()
	if err != nil {
		return nil, err
	}
	if len(reachable) == 0 {
		return nil, ErrNoAgentAvailable
	}

	loads, err := e.agentLoads()
	if err != nil {
		return nil, err
	}
	tags := sessionTags(s)

	candidates := filterBySkills(reachable, tags)
	if len(candidates) == 0 {
		candidates = reachable
	}

	snapshots := make([]agentSnapshot, 0, len(candidates))
	for _, a := range candidates {
		l := loads[a.ID]
		snapshots = append(snapshots, agentSnapshot{agent: a, live: l.live, pending: l.pending})
	}

	chosen := e.preferredSnapshot(s, snapshots)
	if chosen == nil {
		sort.SliceStable(snapshots, func(i, j int) bool {
			si, sj := snapshots[i], snapshots[j]
			if si.agent.Status.StatusRank() != sj.agent.Status.StatusRank() {
				return si.agent.Status.StatusRank() < sj.agent.Status.StatusRank()
			}
			if si.loadScore() != sj.loadScore() {
				return si.loadScore() < sj.loadScore()
			}
			return si.agent.ID < sj.agent.ID
		})
		chosen = &snapshots[0]
	}

	decision := &AssignmentDecision{
		Agent:           models.AgentRef{ID: chosen.agent.ID, Name: chosen.agent.Name},
		MatchedTags:     matchedTags(chosen.agent, tags),
		LiveSessions:    chosen.live,
		PendingSessions: chosen.pending,
		LoadScore:       chosen.loadScore(),
	}
	e.Remember(s, decision.Agent.ID)
	return decision, nil
}

// Remember records which agent served this customer, so returning customers
// can land on a familiar face.
func (e *SmartAssignmentEngine) Remember(s *models.Session, agentID string) {
	key := customerKey(s)
	if key == "" || agentID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastServedBy[key] = agentID
}

func (e *SmartAssignmentEngine) preferredSnapshot(s *models.Session, snapshots []agentSnapshot) *agentSnapshot {
	key := customerKey(s)
	if key == "" {
		return nil
	}
	e.mu.Lock()
	preferred := e.lastServedBy[key]
	e.mu.Unlock()
	if preferred == "" {
		return nil
	}
	for i := range snapshots {
		if snapshots[i].agent.ID == preferred {
			return &snapshots[i]
		}
	}
	return nil
}

type agentLoad struct {
	live    int
	pending int
}

// agentLoads counts each agent's live and pending-assigned sessions from
// the store, one read per status.
func (e *SmartAssignmentEngine) agentLoads() (map[string]agentLoad, error) {
	loads := make(map[string]agentLoad)

	live, err := e.store.ListByStatus(models.StatusManualLive, 1000, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range live {
		if s.AssignedAgent != nil {
			l := loads[s.AssignedAgent.ID]
			l.live++
			loads[s.AssignedAgent.ID] = l
		}
	}

	pending, err := e.store.ListByStatus(models.StatusPendingManual, 1000, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range pending {
		if s.AssignedAgent != nil {
			l := loads[s.AssignedAgent.ID]
			l.pending++
			loads[s.AssignedAgent.ID] = l
		}
	}
	return loads, nil
}

// sessionTags infers the topic tags used for skill matching: profile
// metadata, urgent keyword hits and the escalation reason.
func sessionTags(s *models.Session) map[string]bool {
	tags := make(map[string]bool)
	for _, key := range []string{"category", "product", "issue_type", "tags"} {
		if v, ok := s.Profile.Metadata[key]; ok {
			for _, part := range strings.Split(v, ",") {
				part = strings.ToLower(strings.TrimSpace(part))
				if part != "" {
					tags[part] = true
				}
			}
		}
	}
	for _, hit := range s.Priority.UrgentKeywordHits {
		tags[strings.ToLower(hit)] = true
	}
	if s.Escalation != nil {
		tags[string(s.Escalation.Reason)] = true
	}
	return tags
}

func filterBySkills(agents []*models.Agent, tags map[string]bool) []*models.Agent {
	if len(tags) == 0 {
		return agents
	}
	var matched []*models.Agent
	for _, a := range agents {
		for tag := range a.SkillTags() {
			if tags[tag] {
				matched = append(matched, a)
				break
			}
		}
	}
	return matched
}

func matchedTags(a *models.Agent, tags map[string]bool) []string {
	var out []string
	for tag := range a.SkillTags() {
		if tags[tag] {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// customerKey identifies a returning customer, preferring the profile
// email, then metadata fallbacks.
func customerKey(s *models.Session) string {
	if email := strings.ToLower(strings.TrimSpace(s.Profile.Email)); email != "" {
		return email
	}
	for _, key := range []string{"customer_id", "phone"} {
		if v, ok := s.Profile.Metadata[key]; ok {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				return v
			}
		}
	}
	return ""
}
