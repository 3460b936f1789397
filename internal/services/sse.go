package services

import (
	"sync"
)

// RoundEvent is a live progress update for one round.
type RoundEvent struct {
	RoundID   uint          `json:"round_id"`
	Status    string        `json:"status"` // running, completed, failed
	Processed int           `json:"processed_emails"`
	Total     int           `json:"total_emails"`
	Summary   *RoundSummary `json:"summary,omitempty"`
}

// EventHub fans round events out to connected stream clients.
type EventHub struct {
	clients map[string]chan RoundEvent
	mu      sync.RWMutex
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]chan RoundEvent),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *EventHub) Subscribe(clientID string) <-chan RoundEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan RoundEvent, 100)
	h.clients[clientID] = ch
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *EventHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks: a client whose buffer is full misses the event.
// A nil hub discards everything.
func (h *EventHub) Publish(event RoundEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
