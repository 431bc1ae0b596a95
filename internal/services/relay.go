package services

import (
	"sync"
	"time"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

// RelayEventType distinguishes the two producers feeding a session queue.
type RelayEventType string

const (
	RelayManualMessage RelayEventType = "manual_message"
	RelayStatusChange  RelayEventType = "status_change"
)

// RelayEvent is one human-originated item pushed into an open response
// stream.
type RelayEvent struct {
	Type      RelayEventType `json:"type"`
	Role      models.Role    `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	Status    models.Status  `json:"status,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// relayQueue is the per-session FIFO behind one open stream.
type relayQueue struct {
	mu     sync.Mutex
	events []RelayEvent
}

func (q *relayQueue) push(ev RelayEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

func (q *relayQueue) drain() []RelayEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	return out
}

// Relay carries agent messages and status changes into the live outbound
// stream of each session. A queue exists only while a stream is open for
// that session: events published with no open stream are dropped, not
// replayed — clients re-fetch session state on reconnect.
type Relay struct {
	mu     sync.Mutex
	queues map[string]*relayQueue
}

// NewRelay creates an empty registry.
func NewRelay() *Relay {
	return &Relay{queues: make(map[string]*relayQueue)}
}

// OpenStream registers a fresh queue for the session, replacing any queue
// a previous stream left behind, and returns the close function. Closing
// removes the queue only if it is still the one this stream opened.
func (r *Relay) OpenStream(sessionName string) func() {
	r.mu.Lock()
	q := &relayQueue{}
	r.queues[sessionName] = q
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.queues[sessionName] == q {
			delete(r.queues, sessionName)
		}
	}
}

// StreamOpen reports whether a stream is currently open for the session.
func (r *Relay) StreamOpen(sessionName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[sessionName]
	return ok
}

// PublishManualMessage queues an agent-authored message. Returns false if
// no stream was open and the event was dropped.
func (r *Relay) PublishManualMessage(sessionName string, msg models.Message) bool {
	return r.publish(sessionName, RelayEvent{
		Type:      RelayManualMessage,
		Role:      msg.Role,
		Content:   msg.Content,
		AgentID:   msg.AgentID,
		AgentName: msg.AgentName,
		Timestamp: msg.Timestamp,
	})
}

// PublishStatusChange queues a status-change notification (escalation,
// takeover, release, transfer). Returns false if dropped.
func (r *Relay) PublishStatusChange(sessionName string, status models.Status, reason string) bool {
	return r.publish(sessionName, RelayEvent{
		Type:      RelayStatusChange,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Relay) publish(sessionName string, ev RelayEvent) bool {
	r.mu.Lock()
	q, ok := r.queues[sessionName]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	q.push(ev)
	return true
}

// Drain pops everything currently queued, in producer order, without
// blocking. An empty or missing queue yields nil.
func (r *Relay) Drain(sessionName string) []RelayEvent {
	r.mu.Lock()
	q, ok := r.queues[sessionName]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return q.drain()
}
