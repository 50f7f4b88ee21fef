package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. A single mutex
// serializes every read-modify-write, which gives the same visibility as the
// row lock taken by the Postgres implementation.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	nextID  int64
	nextHID int64
	tickets map[int64]*domain.Ticket
	history map[int64][]domain.TicketHistory
	now     func() time.Time
}

// NewMemoryTicketRepository returns an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[int64]*domain.Ticket),
		history: make(map[int64][]domain.TicketHistory),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := r.now()
	ticket.ID = r.nextID
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusPending
	}
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = ticket.Clone()
	r.appendHistory(domain.TicketHistory{
		TicketID:  ticket.ID,
		ActorType: domain.ActorSystem,
		NewStatus: ticket.Status,
		Note:      "created",
	})
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r *MemoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	r.mu.RLock()
	matched := make([]domain.Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		if matches(ticket, filter) {
			matched = append(matched, *ticket.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *MemoryTicketRepository) UpdateStatusAndFields(_ context.Context, id int64, expected domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ticket.Status != expected {
		return nil, fmt.Errorf("%w: ticket %d is %s, expected %s", ErrConflict, id, ticket.Status, expected)
	}
	if !domain.CanTransition(ticket.Status, update.Status) {
		return nil, fmt.Errorf("%w: ticket %d %s -> %s", ErrInvalidTransition, id, ticket.Status, update.Status)
	}

	// Build the next version on a copy and swap it in, so a reader never sees
	// half of the triage fields.
	next := ticket.Clone()
	old := next.Status
	next.Status = update.Status
	if update.ResetTriage {
		next.ClearTriage()
	}
	if update.Triage != nil {
		next.ApplyTriage(*update.Triage)
	}
	if update.AIStatus != nil {
		s := *update.AIStatus
		next.AIStatus = &s
	}
	if update.ErrorMessage != nil {
		msg := *update.ErrorMessage
		next.ErrorMessage = &msg
	}
	next.UpdatedAt = r.now()
	r.tickets[id] = next

	r.appendHistory(domain.TicketHistory{
		TicketID:  id,
		ActorType: update.Actor,
		ActorID:   update.ActorID,
		OldStatus: old,
		NewStatus: update.Status,
		Note:      update.Note,
	})
	return next.Clone(), nil
}

func (r *MemoryTicketRepository) UpdateAgentResponse(_ context.Context, id int64, response string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := ticket.Clone()
	next.AgentEditedResponse = &response
	next.UpdatedAt = r.now()
	r.tickets[id] = next
	return next.Clone(), nil
}

func (r *MemoryTicketRepository) Resolve(_ context.Context, id int64, agentID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ticket.Resolved {
		return nil, ErrAlreadyResolved
	}
	now := r.now()
	next := ticket.Clone()
	next.Resolved = true
	next.AgentID = &agentID
	next.ResolvedAt = &now
	next.UpdatedAt = now
	r.tickets[id] = next

	r.appendHistory(domain.TicketHistory{
		TicketID:  id,
		ActorType: domain.ActorAgent,
		ActorID:   &agentID,
		OldStatus: next.Status,
		NewStatus: next.Status,
		Note:      "resolved",
	})
	return next.Clone(), nil
}

func (r *MemoryTicketRepository) ListHistory(_ context.Context, id int64) ([]domain.TicketHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.history[id]
	out := make([]domain.TicketHistory, len(entries))
	copy(out, entries)
	return out, nil
}

// appendHistory must be called with mu held.
func (r *MemoryTicketRepository) appendHistory(entry domain.TicketHistory) {
	r.nextHID++
	entry.ID = r.nextHID
	entry.CreatedAt = r.now()
	r.history[entry.TicketID] = append(r.history[entry.TicketID], entry)
}

func matches(t *domain.Ticket, f TicketFilter) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Urgency != nil && (t.Urgency == nil || *t.Urgency != *f.Urgency) {
		return false
	}
	if f.Category != nil && (t.Category == nil || *t.Category != *f.Category) {
		return false
	}
	if f.AIStatus != nil && (t.AIStatus == nil || *t.AIStatus != *f.AIStatus) {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

var _ TicketRepository = (*MemoryTicketRepository)(nil)
