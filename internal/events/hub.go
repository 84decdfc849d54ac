// Package events fans engine lifecycle events out to live subscribers.
// Events are published after the producing transaction commits.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an engine event.
type Type string

const (
	BatchStarted      Type = "batch.started"
	BatchStepAdvanced Type = "batch.step_advanced"
	BatchCriterionMet Type = "batch.criterion_met"
	BatchEnded        Type = "batch.ended"
	AlarmRaised       Type = "alarm.raised"
	AlarmAcknowledged Type = "alarm.acknowledged"
	InventoryChanged  Type = "inventory.changed"
	MixerUpdated      Type = "mixer.updated"
)

// Event is a single notification.
type Event struct {
	Type    Type        `json:"type"`
	MixerID uint        `json:"mixerId,omitempty"`
	BatchID uint        `json:"batchId,omitempty"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Hub broadcasts events to subscribers without blocking publishers.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// Publish implements Publisher.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			zap.S().Warnw("Dropping event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
