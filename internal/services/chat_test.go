package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// fakeEngine returns canned replies in order, repeating the last one.
type fakeEngine struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeEngine) Chat(ctx context.Context, sessionName, message string, params map[string]interface{}) (*EngineReply, error) {
	return f.ChatStream(ctx, sessionName, message, params, nil)
}

func (f *fakeEngine) ChatStream(ctx context.Context, sessionName, message string, params map[string]interface{}, onDelta DeltaFunc) (*EngineReply, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	content := f.replies[idx]
	if onDelta != nil {
		onDelta(content)
	}
	return &EngineReply{Content: content, ConversationID: "conv-1"}, nil
}

func newTestOrchestrator(t *testing.T, engine ChatEngine, agents ...*models.Agent) (*Orchestrator, storage.SessionStore) {
	t.Helper()
	t.Setenv("SUPPORT_HOURS_START", "0")
	t.Setenv("SUPPORT_HOURS_END", "24")
	t.Setenv("URGENT_KEYWORDS", "urgent,broken")

	store := storage.NewMemoryStore()
	directory := NewMemoryDirectory()
	for _, a := range agents {
		require.NoError(t, directory.UpsertAgent(a))
	}
	o := NewOrchestrator(store, engine, NewRegulator(testRegulatorConfig()), NewRelay(), directory, nil, NewMemoryTicketStore())
	return o, store
}

func TestHandleUserMessageHappyPath(t *testing.T) {
	engine := &fakeEngine{replies: []string{"Your battery charges in four hours."}}
	o, store := newTestOrchestrator(t, engine)

	result, err := o.HandleUserMessage(context.Background(), "s1", "how long to charge?", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Your battery charges in four hours.", result.Reply)
	assert.False(t, result.Escalated)

	s, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBotActive, s.Status)
	assert.Equal(t, "conv-1", s.ConversationID)
	require.Len(t, s.History, 2)
	assert.Equal(t, models.RoleUser, s.History[0].Role)
	assert.Equal(t, models.RoleAssistant, s.History[1].Role)
}

func TestHandleUserMessageValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeEngine{replies: []string{"ok"}})
	_, err := o.HandleUserMessage(context.Background(), "", "hello", "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = o.HandleUserMessage(context.Background(), "s1", "", "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHandleUserMessageKeywordEscalation(t *testing.T) {
	engine := &fakeEngine{replies: []string{"should never be called"}}
	o, store := newTestOrchestrator(t, engine, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})

	result, err := o.HandleUserMessage(context.Background(), "s1", "let me talk to a human", "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, models.ReasonKeyword, result.Escalation.Reason)
	assert.Zero(t, engine.calls, "escalation must preempt the AI call")

	s, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingManual, s.Status)
	assert.Equal(t, 1, s.EscalationCount)
}

func TestHandleUserMessageFailLoopEscalation(t *testing.T) {
	engine := &fakeEngine{replies: []string{"Sorry, I am unable to answer that"}}
	o, store := newTestOrchestrator(t, engine, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})

	var result *ChatResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = o.HandleUserMessage(context.Background(), "s1", "question?", "", nil, nil)
		require.NoError(t, err)
	}
	assert.True(t, result.Escalated, "the third failing response crosses the threshold")
	assert.Equal(t, models.ReasonFailLoop, result.Escalation.Reason)

	s, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingManual, s.Status)
	assert.Equal(t, 3, s.AIFailCount)
}

func TestHandleUserMessageWhilePending(t *testing.T) {
	engine := &fakeEngine{replies: []string{"nope"}}
	o, store := newTestOrchestrator(t, engine)
	pendingSession(t, store, "s1")

	result, err := o.HandleUserMessage(context.Background(), "s1", "anyone there?", "", nil, nil)
	assert.ErrorIs(t, err, ErrSessionInManual)
	require.NotNil(t, result)
	assert.Zero(t, engine.calls)

	s, err := store.Get("s1")
	require.NoError(t, err)
	require.NotEmpty(t, s.History, "messages sent while waiting are kept for the agent")
	assert.Equal(t, "anyone there?", s.LastMessage().Content)
}

func TestVIPEscalatesImmediately(t *testing.T) {
	engine := &fakeEngine{replies: []string{"hi"}}
	o, _ := newTestOrchestrator(t, engine, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})

	profile := &models.UserProfile{Nickname: "Jo", VIP: true}
	result, err := o.HandleUserMessage(context.Background(), "s1", "hello", "", profile, nil)
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, models.ReasonVIP, result.Escalation.Reason)
}

func TestTakeoverAndManualConversation(t *testing.T) {
	engine := &fakeEngine{replies: []string{"hi"}}
	o, store := newTestOrchestrator(t, engine, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})
	pendingSession(t, store, "s1")

	closeStream := o.Relay().OpenStream("s1")
	defer closeStream()

	s, err := o.Takeover("s1", "a1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusManualLive, s.Status)

	events := o.Relay().Drain("s1")
	require.Len(t, events, 1)
	assert.Equal(t, RelayStatusChange, events[0].Type)

	_, err = o.PostManualMessage("s1", models.RoleAgent, "Hi, Alice here.", &models.AgentRef{ID: "a1", Name: "Alice"})
	require.NoError(t, err)

	events = o.Relay().Drain("s1")
	require.Len(t, events, 1)
	assert.Equal(t, RelayManualMessage, events[0].Type)
	assert.Equal(t, "Hi, Alice here.", events[0].Content)
	assert.Equal(t, "a1", events[0].AgentID)
}

func TestAgentReplyRequiresLiveSession(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEngine{replies: []string{"hi"}})
	pendingSession(t, store, "s1")

	_, err := o.PostManualMessage("s1", models.RoleAgent, "too early", nil)
	assert.ErrorIs(t, err, ErrAgentReplyNotAllowed)
}

func TestReleaseReturnsSessionToBot(t *testing.T) {
	engine := &fakeEngine{replies: []string{"welcome back"}}
	o, store := newTestOrchestrator(t, engine, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})
	pendingSession(t, store, "s1")

	_, err := o.Takeover("s1", "a1", "Alice")
	require.NoError(t, err)

	s, err := o.Release("s1", "a1", "resolved")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBotActive, s.Status)
	assert.Nil(t, s.AssignedAgent)
	assert.Nil(t, s.Escalation, "returning to the bot clears the escalation")

	// The bot serves the next turn again.
	result, err := o.HandleUserMessage(context.Background(), "s1", "thanks, one more question", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "welcome back", result.Reply)
}

func TestReleaseRejectsWrongAgent(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEngine{replies: []string{"hi"}}, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})
	pendingSession(t, store, "s1")

	_, err := o.Takeover("s1", "a1", "Alice")
	require.NoError(t, err)

	_, err = o.Release("s1", "a2", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReleaseRequiresLiveSession(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEngine{replies: []string{"hi"}})
	pendingSession(t, store, "s1")

	_, err := o.Release("s1", "a1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManualEscalateIsIdempotent(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEngine{replies: []string{"hi"}}, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline})

	_, err := store.GetOrCreate("s1", "")
	require.NoError(t, err)

	s, err := o.Escalate("s1", "user clicked the help button")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingManual, s.Status)
	assert.Equal(t, models.ReasonManual, s.Escalation.Reason)

	again, err := o.Escalate("s1", "clicked twice")
	require.NoError(t, err)
	assert.Equal(t, 1, again.EscalationCount)
}

func TestEscalateAfterHoursOpensTicket(t *testing.T) {
	engine := &fakeEngine{replies: []string{"hi"}}

	t.Setenv("SUPPORT_HOURS_START", "0")
	t.Setenv("SUPPORT_HOURS_END", "0")
	t.Setenv("URGENT_KEYWORDS", "")
	store := storage.NewMemoryStore()
	tickets := NewMemoryTicketStore()
	// Empty roster and closed hours force the after-hours path.
	o := NewOrchestrator(store, engine, NewRegulator(testRegulatorConfig()), NewRelay(), NewMemoryDirectory(), nil, tickets)

	_, err := store.GetOrCreate("s1", "")
	require.NoError(t, err)

	s, err := o.Escalate("s1", "nobody around")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAfterHours, s.Status)
	require.Len(t, s.Tickets, 1)

	open, err := tickets.ListOpen(0, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "s1", open[0].SessionName)
	assert.Equal(t, models.IssueTypeAfterHours, open[0].IssueType)
}

func TestQueueOrdering(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEngine{replies: []string{"hi"}})

	normal := pendingSession(t, store, "normal")
	require.NoError(t, store.Save(normal))

	vip := pendingSession(t, store, "vip")
	vip.Profile.VIP = true
	require.NoError(t, store.Save(vip))

	queue, err := o.ListPendingQueue(0, 0)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "vip", queue[0].SessionName)
	assert.Equal(t, models.PriorityUrgent, queue[0].Priority.Level)
}

func TestEngineErrorKeepsUserMessage(t *testing.T) {
	engine := &fakeEngine{err: ErrUpstreamChat}
	o, store := newTestOrchestrator(t, engine)

	_, err := o.HandleUserMessage(context.Background(), "s1", "hello?", "", nil, nil)
	assert.ErrorIs(t, err, ErrUpstreamChat)

	s, err := store.Get("s1")
	require.NoError(t, err)
	require.Len(t, s.History, 1)
	assert.Equal(t, "hello?", s.History[0].Content)
}
