// Package fanout implements the per-thread publish/subscribe channel that
// delivers message and typing events to live subscribers. Delivery is
// at-least-once while subscribed; there is no replay, backfill is the
// message store's job.
package fanout

import (
	"sync"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/telemetry"
)

// DefaultBuffer is the per-subscription event buffer used when the caller
// passes a non-positive size.
const DefaultBuffer = 64

// Subscription is an explicit handle on a thread topic. Events arrive on C
// until Close is called or the subscriber falls too far behind, in which
// case the hub closes C and the client must resubscribe and reconcile via
// the store.
type Subscription struct {
	Thread string

	c      chan models.Event
	hub    *Hub
	closed bool
	mu     sync.Mutex
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan models.Event { return s.c }

// Close releases the subscription. It is idempotent and safe to call at any
// time, including concurrently with publishes.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub routes events to the current subscribers of each thread topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	tap    func(threadID string, ev models.Event)
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscription on a thread topic. buffer <= 0
// selects DefaultBuffer.
func (h *Hub) Subscribe(threadID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{Thread: threadID, c: make(chan models.Event, buffer), hub: h}
	h.mu.Lock()
	if h.topics[threadID] == nil {
		h.topics[threadID] = make(map[*Subscription]struct{})
	}
	h.topics[threadID][sub] = struct{}{}
	h.mu.Unlock()
	telemetry.Subscribers.Inc()
	logger.Debug("fanout_subscribed", "thread", threadID)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.Thread]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, sub.Thread)
			}
		}
	}
	h.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.c)
		telemetry.Subscribers.Dec()
	}
	sub.mu.Unlock()
}

// Publish delivers ev to every current subscriber of the thread. Callers
// that need ordering (message appends) invoke Publish under the store's
// per-thread lock, which serializes publication in log order. A subscriber
// whose buffer is full is dropped rather than allowed to block the
// publisher; it will reconcile through listSince after resubscribing.
func (h *Hub) Publish(threadID string, ev models.Event) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.topics[threadID]))
	for s := range h.topics[threadID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		select {
		case s.c <- ev:
			s.mu.Unlock()
		default:
			s.mu.Unlock()
			telemetry.EventsDropped.Inc()
			logger.Warn("fanout_subscriber_lagging", "thread", threadID)
			h.remove(s)
		}
	}
	telemetry.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	tap := h.tap
	h.mu.RUnlock()
	if tap != nil {
		tap(threadID, ev)
	}
}

// SetTap installs a mirror that observes every published event after local
// delivery. Used to bridge events onto an external bus; must not block.
func (h *Hub) SetTap(tap func(threadID string, ev models.Event)) {
	h.mu.Lock()
	h.tap = tap
	h.mu.Unlock()
}

// Subscribers reports the current subscriber count for a thread.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[threadID])
}
