// Package events fans ticket updates out to live subscribers, in process or
// across processes through Redis pub/sub.
package events

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/observability"
)

// Publisher accepts update events. Publish is fire-and-forget for callers:
// implementations never wait on subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Hub delivers each event to every subscription interested in its ticket id.
type Hub struct {
	mu      sync.RWMutex
	index   map[int64]map[*Subscription]struct{}
	buffer  int
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		index:   make(map[int64]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: metrics,
		logger:  logger.Named("hub"),
	}
}

// Subscription is one subscriber's view of the hub. Events arrive on C until
// Close is called.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	hub    *Hub
	ids    map[int64]struct{}
	closed bool
}

// Subscribe registers interest in ticketIDs. More ids can be added later.
func (h *Hub) Subscribe(ticketIDs ...int64) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, ids: make(map[int64]struct{})}
	sub.Add(ticketIDs...)
	return sub
}

// Publish never blocks. A subscriber whose buffer is full misses the event;
// others are unaffected.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.index[event.TicketID] {
		select {
		case sub.ch <- event:
		default:
			h.metrics.RecordDroppedEvent()
			h.logger.Warn("subscriber buffer full, dropping event", zap.Int64("ticket_id", event.TicketID))
		}
	}
	return nil
}

// Subscribers reports how many subscriptions watch ticketID.
func (h *Hub) Subscribers(ticketID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.index[ticketID])
}

// Add extends the subscription to ticketIDs.
func (s *Subscription) Add(ticketIDs ...int64) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for _, id := range ticketIDs {
		s.ids[id] = struct{}{}
		subs, ok := h.index[id]
		if !ok {
			subs = make(map[*Subscription]struct{})
			h.index[id] = subs
		}
		subs[s] = struct{}{}
	}
}

// Remove stops delivery for ticketIDs.
func (s *Subscription) Remove(ticketIDs ...int64) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ticketIDs {
		s.unindex(id)
	}
}

// IDs returns the watched ticket ids in ascending order.
func (s *Subscription) IDs() []int64 {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for id := range s.ids {
		s.unindex(id)
	}
	s.closed = true
	close(s.ch)
}

// unindex must be called with hub.mu held.
func (s *Subscription) unindex(id int64) {
	delete(s.ids, id)
	if subs, ok := s.hub.index[id]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.index, id)
		}
	}
}

var _ Publisher = (*Hub)(nil)
