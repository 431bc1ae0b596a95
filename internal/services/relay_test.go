package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

func TestRelayDropsWithoutOpenStream(t *testing.T) {
	r := NewRelay()
	delivered := r.PublishManualMessage("s1", models.Message{Role: models.RoleAgent, Content: "hi"})
	assert.False(t, delivered)
	assert.Empty(t, r.Drain("s1"))
}

func TestRelayDeliversFIFO(t *testing.T) {
	r := NewRelay()
	closeStream := r.OpenStream("s1")
	defer closeStream()

	for i := 0; i < 3; i++ {
		ok := r.PublishManualMessage("s1", models.Message{Role: models.RoleAgent, Content: fmt.Sprintf("msg %d", i)})
		require.True(t, ok)
	}

	events := r.Drain("s1")
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, RelayManualMessage, ev.Type)
		assert.Equal(t, fmt.Sprintf("msg %d", i), ev.Content)
	}
	assert.Empty(t, r.Drain("s1"), "drain empties the queue")
}

func TestRelayStatusChangeEvents(t *testing.T) {
	r := NewRelay()
	closeStream := r.OpenStream("s1")
	defer closeStream()

	require.True(t, r.PublishStatusChange("s1", models.StatusManualLive, "agent_joined"))
	events := r.Drain("s1")
	require.Len(t, events, 1)
	assert.Equal(t, RelayStatusChange, events[0].Type)
	assert.Equal(t, models.StatusManualLive, events[0].Status)
	assert.Equal(t, "agent_joined", events[0].Reason)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRelayCloseStopsDelivery(t *testing.T) {
	r := NewRelay()
	closeStream := r.OpenStream("s1")
	require.True(t, r.StreamOpen("s1"))

	closeStream()
	assert.False(t, r.StreamOpen("s1"))
	assert.False(t, r.PublishStatusChange("s1", models.StatusBotActive, "released"))
}

func TestRelaySessionsAreIsolated(t *testing.T) {
	r := NewRelay()
	closeA := r.OpenStream("a")
	defer closeA()
	closeB := r.OpenStream("b")
	defer closeB()

	require.True(t, r.PublishManualMessage("a", models.Message{Role: models.RoleAgent, Content: "for a"}))
	assert.Empty(t, r.Drain("b"))
	require.Len(t, r.Drain("a"), 1)
}

func TestRelayReopenGetsFreshQueue(t *testing.T) {
	r := NewRelay()
	closeOld := r.OpenStream("s1")
	require.True(t, r.PublishManualMessage("s1", models.Message{Role: models.RoleAgent, Content: "stale"}))
	closeOld()

	closeNew := r.OpenStream("s1")
	defer closeNew()
	assert.Empty(t, r.Drain("s1"), "a new stream must not see events queued for a closed one")
}
