package events

import (
	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketUpdated EventType = "ticket_updated"
)

// TicketPayload is the subset of a ticket pushed to live subscribers.
type TicketPayload struct {
	ID              int64                  `json:"id"`
	Status          domain.TicketStatus    `json:"status"`
	Category        *domain.TicketCategory `json:"category"`
	Urgency         *domain.UrgencyLevel   `json:"urgency"`
	SentimentScore  *int                   `json:"sentiment_score"`
	AIStatus        *domain.AIStatus       `json:"ai_status"`
	AIDraftResponse *string                `json:"ai_draft_response"`
}

// Event is published after a ticket reaches a new state. It is the wire
// format between processes.
type Event struct {
	Type     EventType     `json:"type"`
	TicketID int64         `json:"ticket_id"`
	Data     TicketPayload `json:"data"`
}

// ClientMessage is what a WebSocket subscriber receives.
type ClientMessage struct {
	Type EventType     `json:"type"`
	Data TicketPayload `json:"data"`
}

// TicketUpdated snapshots t into an update event.
func TicketUpdated(t *domain.Ticket) Event {
	c := t.Clone()
	return Event{
		Type:     EventTicketUpdated,
		TicketID: c.ID,
		Data: TicketPayload{
			ID:              c.ID,
			Status:          c.Status,
			Category:        c.Category,
			Urgency:         c.Urgency,
			SentimentScore:  c.SentimentScore,
			AIStatus:        c.AIStatus,
			AIDraftResponse: c.AIDraftResponse,
		},
	}
}

// ClientMessage strips the routing key.
func (e Event) ClientMessage() ClientMessage {
	return ClientMessage{Type: e.Type, Data: e.Data}
}
