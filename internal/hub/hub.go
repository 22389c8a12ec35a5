// Package hub is the publish/subscribe core of the gateway: one
// bounded outbound queue per client connection, grouped by principal.
// Delivery is best-effort; a slow client loses events rather than
// stalling the producer or its neighbors.
package hub

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/devpulse-io/devpulse/internal/models"
)

// DefaultQueueSize bounds each subscription's outbound queue.
const DefaultQueueSize = 10

// Subscription is one client connection's registration. Events()
// closes when the subscription is removed from the hub.
type Subscription struct {
	ID        string
	principal string
	ch        chan models.Event
}

func (s *Subscription) Principal() string { return s.principal }

func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Mirror receives a copy of every broadcast. Used for the optional
// downstream push sink; it must not block.
type Mirror interface {
	Mirror(principal string, ev models.Event)
}

// entry groups one principal's subscriptions under its own lock so
// broadcast load on one principal never contends with another's.
type entry struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Hub struct {
	queueSize int

	mu         sync.RWMutex
	principals map[string]*entry

	dropped atomic.Int64
	mirror  Mirror
}

func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize:  queueSize,
		principals: make(map[string]*entry),
	}
}

// SetMirror attaches the downstream event mirror. Call before serving.
func (h *Hub) SetMirror(m Mirror) { h.mirror = m }

// Subscribe registers a new queue under the principal. Safe for
// concurrent use from any number of connections.
func (h *Hub) Subscribe(principal string) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		principal: principal,
		ch:        make(chan models.Event, h.queueSize),
	}

	h.mu.Lock()
	e, ok := h.principals[principal]
	if !ok {
		e = &entry{subs: make(map[*Subscription]struct{})}
		h.principals[principal] = e
	}
	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes exactly that queue and closes it. The last
// subscription removed also removes the principal's entry, so idle
// principals do not accumulate.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	e, ok := h.principals[sub.principal]
	removed := false
	if ok {
		e.mu.Lock()
		if _, present := e.subs[sub]; present {
			delete(e.subs, sub)
			removed = true
		}
		empty := len(e.subs) == 0
		e.mu.Unlock()
		if empty {
			delete(h.principals, sub.principal)
		}
	}
	h.mu.Unlock()

	if removed {
		close(sub.ch)
	}
}

// Broadcast enqueues ev onto every current subscription for the
// principal. Full queues drop the event for that subscriber only; the
// drop is counted and logged, never surfaced to the producer.
func (h *Hub) Broadcast(principal string, ev models.Event) {
	h.mu.RLock()
	e := h.principals[principal]
	h.mu.RUnlock()

	if e != nil {
		e.mu.Lock()
		for sub := range e.subs {
			select {
			case sub.ch <- ev:
			default:
				h.dropped.Add(1)
				log.Printf("⚠️ dropping %s event for slow subscriber %s", ev.Type, sub.ID)
			}
		}
		e.mu.Unlock()
	}

	if h.mirror != nil {
		h.mirror.Mirror(principal, ev)
	}
}

// Subscribers returns the principal's current subscription count.
func (h *Hub) Subscribers(principal string) int {
	h.mu.RLock()
	e := h.principals[principal]
	h.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Principals lists principals with at least one live subscription. The
// notification poller uses this to bound external API usage.
func (h *Hub) Principals() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.principals))
	for p := range h.principals {
		out = append(out, p)
	}
	return out
}

// Dropped returns the total number of events dropped on full queues.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
