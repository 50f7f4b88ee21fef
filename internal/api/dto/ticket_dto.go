package dto

import (
	"time"

	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	CustomerComplaint string `json:"customer_complaint"`
}

// UpdateTicketRequest payload. Only the agent's edited response is writable.
type UpdateTicketRequest struct {
	AgentEditedResponse *string `json:"agent_edited_response"`
}

// TicketResponse is the full ticket representation.
type TicketResponse struct {
	ID                  int64                  `json:"id"`
	CustomerComplaint   string                 `json:"customer_complaint"`
	Status              domain.TicketStatus    `json:"status"`
	Category            *domain.TicketCategory `json:"category"`
	Urgency             *domain.UrgencyLevel   `json:"urgency"`
	SentimentScore      *int                   `json:"sentiment_score"`
	AIDraftResponse     *string                `json:"ai_draft_response"`
	AIStatus            *domain.AIStatus       `json:"ai_status"`
	AgentEditedResponse *string                `json:"agent_edited_response"`
	AgentID             *string                `json:"agent_id"`
	Resolved            bool                   `json:"resolved"`
	ResolvedAt          *time.Time             `json:"resolved_at"`
	ErrorMessage        *string                `json:"error_message"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Pagination describes the page returned by a listing.
type Pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// TicketListResponse wraps one page of tickets.
type TicketListResponse struct {
	Data       []TicketResponse `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID        int64                `json:"id"`
	ActorType domain.ActorType     `json:"actor_type"`
	ActorID   *string              `json:"actor_id"`
	OldStatus *domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus  `json:"new_status"`
	Note      string               `json:"note"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                  t.ID,
		CustomerComplaint:   t.CustomerComplaint,
		Status:              t.Status,
		Category:            t.Category,
		Urgency:             t.Urgency,
		SentimentScore:      t.SentimentScore,
		AIDraftResponse:     t.AIDraftResponse,
		AIStatus:            t.AIStatus,
		AgentEditedResponse: t.AgentEditedResponse,
		AgentID:             t.AgentID,
		Resolved:            t.Resolved,
		ResolvedAt:          t.ResolvedAt,
		ErrorMessage:        t.ErrorMessage,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// NewHistoryResponses maps audit entries; the creation entry has no old status.
func NewHistoryResponses(entries []domain.TicketHistory) []TicketHistoryResponse {
	resp := make([]TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		item := TicketHistoryResponse{
			ID:        entry.ID,
			ActorType: entry.ActorType,
			ActorID:   entry.ActorID,
			NewStatus: entry.NewStatus,
			Note:      entry.Note,
			CreatedAt: entry.CreatedAt,
		}
		if entry.OldStatus != "" {
			old := entry.OldStatus
			item.OldStatus = &old
		}
		resp = append(resp, item)
	}
	return resp
}
