package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

func pendingSession(t *testing.T, store storage.SessionStore, name string) *models.Session {
	t.Helper()
	s, err := store.GetOrCreate(name, "")
	require.NoError(t, err)
	require.True(t, s.Transition(models.StatusPendingManual))
	s.Escalation = &models.Escalation{Reason: models.ReasonKeyword, TriggerAt: time.Now().UTC()}
	s.EscalationCount = 1
	require.NoError(t, store.Save(s))
	return s
}

func TestClaimBindsAgent(t *testing.T) {
	store := storage.NewMemoryStore()
	pendingSession(t, store, "s1")
	engine := NewTakeoverEngine(store)

	s, err := engine.Claim("s1", "a1", "Alice", "Alice has joined the conversation.")
	require.NoError(t, err)
	assert.Equal(t, models.StatusManualLive, s.Status)
	require.NotNil(t, s.AssignedAgent)
	assert.Equal(t, "a1", s.AssignedAgent.ID)
	require.NotNil(t, s.LastMessage())
	assert.Equal(t, models.RoleSystem, s.LastMessage().Role)

	stored, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusManualLive, stored.Status)
}

func TestClaimRejectsSecondAgent(t *testing.T) {
	store := storage.NewMemoryStore()
	pendingSession(t, store, "s1")
	engine := NewTakeoverEngine(store)

	_, err := engine.Claim("s1", "a1", "Alice", "")
	require.NoError(t, err)

	_, err = engine.Claim("s1", "a2", "Bob", "")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	s, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "a1", s.AssignedAgent.ID, "the first claim must stick")
}

func TestClaimClosedSession(t *testing.T) {
	store := storage.NewMemoryStore()
	s, err := store.GetOrCreate("s1", "")
	require.NoError(t, err)
	s.Status = models.StatusClosed
	require.NoError(t, store.Save(s))

	engine := NewTakeoverEngine(store)
	_, err = engine.Claim("s1", "a1", "Alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClaimUnknownSession(t *testing.T) {
	engine := NewTakeoverEngine(storage.NewMemoryStore())
	_, err := engine.Claim("nope", "a1", "Alice", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	store := storage.NewMemoryStore()
	pendingSession(t, store, "s1")
	engine := NewTakeoverEngine(store)

	const agents = 16
	var wg sync.WaitGroup
	errs := make([]error, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Claim("s1", string(rune('a'+i)), "", "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claim may win")
}

func rosterWith(t *testing.T, agents ...*models.Agent) AgentDirectory {
	t.Helper()
	d := NewMemoryDirectory()
	for _, a := range agents {
		require.NoError(t, d.UpsertAgent(a))
	}
	return d
}

func TestSuggestNoReachableAgents(t *testing.T) {
	d := rosterWith(t, &models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOffline})
	store := storage.NewMemoryStore()
	s := pendingSession(t, store, "s1")

	engine := NewSmartAssignmentEngine(d, store)
	_, err := engine.Suggest(s)
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestSuggestPrefersOnlineOverBusy(t *testing.T) {
	d := rosterWith(t,
		&models.Agent{ID: "busy", Name: "Busy", Status: models.AgentBusy},
		&models.Agent{ID: "online", Name: "Online", Status: models.AgentOnline},
	)
	store := storage.NewMemoryStore()
	s := pendingSession(t, store, "s1")

	engine := NewSmartAssignmentEngine(d, store)
	decision, err := engine.Suggest(s)
	require.NoError(t, err)
	assert.Equal(t, "online", decision.Agent.ID)
}

func TestSuggestPrefersLighterLoad(t *testing.T) {
	d := rosterWith(t,
		&models.Agent{ID: "loaded", Name: "Loaded", Status: models.AgentOnline},
		&models.Agent{ID: "free", Name: "Free", Status: models.AgentOnline},
	)
	store := storage.NewMemoryStore()

	// Give "loaded" a live session.
	live, err := store.GetOrCreate("live", "")
	require.NoError(t, err)
	require.True(t, live.Transition(models.StatusManualLive))
	live.AssignedAgent = &models.AgentRef{ID: "loaded"}
	require.NoError(t, store.Save(live))

	s := pendingSession(t, store, "s1")
	engine := NewSmartAssignmentEngine(d, store)
	decision, err := engine.Suggest(s)
	require.NoError(t, err)
	assert.Equal(t, "free", decision.Agent.ID)
}

func TestSuggestMatchesSkills(t *testing.T) {
	d := rosterWith(t,
		&models.Agent{ID: "generalist", Name: "G", Status: models.AgentOnline},
		&models.Agent{ID: "battery-pro", Name: "B", Status: models.AgentOnline,
			Skills: []models.AgentSkill{{Category: "battery", Tags: "charging, range"}}},
	)
	store := storage.NewMemoryStore()
	s := pendingSession(t, store, "s1")
	s.Profile.Metadata = map[string]string{"category": "battery"}
	require.NoError(t, store.Save(s))

	engine := NewSmartAssignmentEngine(d, store)
	decision, err := engine.Suggest(s)
	require.NoError(t, err)
	assert.Equal(t, "battery-pro", decision.Agent.ID)
	assert.Contains(t, decision.MatchedTags, "battery")
}

func TestSuggestFallsBackWhenNoSkillMatch(t *testing.T) {
	d := rosterWith(t,
		&models.Agent{ID: "a1", Name: "A", Status: models.AgentOnline,
			Skills: []models.AgentSkill{{Category: "payments"}}},
	)
	store := storage.NewMemoryStore()
	s := pendingSession(t, store, "s1")
	s.Profile.Metadata = map[string]string{"category": "battery"}
	require.NoError(t, store.Save(s))

	engine := NewSmartAssignmentEngine(d, store)
	decision, err := engine.Suggest(s)
	require.NoError(t, err)
	assert.Equal(t, "a1", decision.Agent.ID, "unmatched skills fall back to the full roster")
	assert.Empty(t, decision.MatchedTags)
}

func TestSuggestRemembersReturningCustomer(t *testing.T) {
	d := rosterWith(t,
		&models.Agent{ID: "a1", Name: "Alice", Status: models.AgentOnline},
		&models.Agent{ID: "a2", Name: "Bob", Status: models.AgentOnline},
	)
	store := storage.NewMemoryStore()
	s := pendingSession(t, store, "s1")
	s.Profile.Email = "jo@example.com"
	require.NoError(t, store.Save(s))

	engine := NewSmartAssignmentEngine(d, store)
	engine.Remember(s, "a2")

	decision, err := engine.Suggest(s)
	require.NoError(t, err)
	assert.Equal(t, "a2", decision.Agent.ID, "a returning customer lands on the same agent")
}
