package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberCapacity = 64

// Hub fans events out to in-process subscribers keyed by owner. Delivery never
// blocks: a full subscriber buffer drops an event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*subscriber]struct{}
	capacity    int
}

// Subscription is an active owner subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription and closes Events.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewHub creates a Hub whose subscribers buffer up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &Hub{
		subscribers: make(map[uuid.UUID]map[*subscriber]struct{}),
		capacity:    capacity,
	}
}

// Subscribe registers a listener for ownerID's events.
func (h *Hub) Subscribe(ownerID uuid.UUID) Subscription {
	sub := &subscriber{ch: make(chan Event, h.capacity)}

	h.mu.Lock()
	if h.subscribers[ownerID] == nil {
		h.subscribers[ownerID] = make(map[*subscriber]struct{})
	}
	h.subscribers[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	return Subscription{
		Events: sub.ch,
		cancel: func() { h.remove(ownerID, sub) },
	}
}

// Notify delivers event to ownerID's subscribers. Events for owners with no
// subscriber are discarded.
func (h *Hub) Notify(ctx context.Context, ownerID uuid.UUID, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[ownerID] {
		sub.deliver(event)
	}
	return nil
}

// Subscribers returns the number of live subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[ownerID])
}

func (h *Hub) remove(ownerID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subscribers[ownerID]; subs != nil {
		if _, ok := subs[sub]; !ok {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, ownerID)
		}
	}
	sub.close()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// deliver enqueues event. When the buffer is full it evicts the oldest event
// unless that event is terminal and the incoming one is not.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- event:
		return
	default:
	}

	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// Reader drained the buffer in the meantime.
		s.ch <- event
		return
	}

	if shouldDropOldest(oldest, event) {
		logDrop(oldest)
		s.ch <- event
		return
	}
	s.ch <- oldest
	logDrop(event)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func shouldDropOldest(oldest, incoming Event) bool {
	switch {
	case oldest.Terminal() && !incoming.Terminal():
		return false
	case incoming.Type == EventHeartbeat && oldest.Type != EventHeartbeat:
		return false
	}
	return true
}

func logDrop(event Event) {
	slog.Warn("notification dropped, subscriber buffer full",
		"type", event.Type, "job_id", event.JobID, "document_id", event.DocumentID)
}

var _ Notifier = (*Hub)(nil)
