package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventJobQueued         EventType = "job_queued"
	EventJobStarted        EventType = "job_started"
	EventJobSucceeded      EventType = "job_succeeded"
	EventJobFailed         EventType = "job_failed"
	EventRouteDecision     EventType = "route_decision"
	EventProviderRetry     EventType = "provider_retry"
	EventFallbackAttempt   EventType = "fallback_attempt"
	EventIntegrationOK     EventType = "integration_ok"
	EventIntegrationFailed EventType = "integration_failed"
	EventCatalogReloaded   EventType = "catalog_reloaded"
	EventProviderHealth    EventType = "provider_health"
)

// Event is a single job lifecycle event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	JobID    string `json:"job_id,omitempty"`
	TaskType string `json:"task_type,omitempty"`

	// Routing fields (populated for route and provider events).
	Provider  string  `json:"provider,omitempty"`
	Model     string  `json:"model,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	ErrorMsg  string  `json:"error_msg,omitempty"`

	// Integration fields.
	Integration string `json:"integration,omitempty"`
	ArtifactURI string `json:"artifact_uri,omitempty"`

	// Health fields (populated for provider_health events).
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for job lifecycle events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
