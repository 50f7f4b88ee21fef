package domain

import "time"

// ActorType identifies who caused a history entry.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorWorker ActorType = "worker"
	ActorAgent  ActorType = "agent"
)

// TicketHistory is an immutable audit trail entry for a status change.
type TicketHistory struct {
	ID        int64
	TicketID  int64
	ActorType ActorType
	ActorID   *string
	OldStatus TicketStatus
	NewStatus TicketStatus
	Note      string
	CreatedAt time.Time
}
