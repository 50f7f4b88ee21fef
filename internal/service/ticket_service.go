package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
	"github.com/MangBao/triage-recovery-hub-be/internal/events"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	apperrors "github.com/MangBao/triage-recovery-hub-be/pkg/util/errorutil"
)

// Input bounds enforced at ingestion.
const (
	MinComplaintLength     = 10
	MaxComplaintLength     = 5000
	MaxAgentResponseLength = 2000
	DefaultPerPage         = 20
	MaxPerPage             = 100
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets   repository.TicketRepository
	queue     queue.Queue
	publisher events.Publisher
	logger    *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Queue      queue.Queue
	Publisher  events.Publisher
	Logger     *zap.Logger
}

// TicketListInput describes listing filters and the requested page.
type TicketListInput struct {
	Filter  repository.TicketFilter
	Page    int
	PerPage int
}

// TicketPage is one page of a listing.
type TicketPage struct {
	Items   []domain.Ticket
	Total   int
	Page    int
	PerPage int
}

// TotalPages is the number of pages at the current page size.
func (p TicketPage) TotalPages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// HasMore reports whether a later page exists.
func (p TicketPage) HasMore() bool {
	return p.Page < p.TotalPages()
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:   deps.TicketRepo,
		queue:     deps.Queue,
		publisher: deps.Publisher,
		logger:    logger.Named("tickets"),
	}
}

// CreateTicket stores a pending ticket and queues its triage job. If the job
// cannot be queued the ticket is marked failed and a 503 is returned.
func (s *TicketService) CreateTicket(ctx context.Context, complaint string) (*domain.Ticket, error) {
	text := strings.TrimSpace(complaint)
	if n := utf8.RuneCountInString(text); n < MinComplaintLength || n > MaxComplaintLength {
		return nil, apperrors.NewValidationError("customer_complaint must be between 10 and 5000 characters", map[string]any{
			"field":  "customer_complaint",
			"length": n,
		})
	}

	ticket := &domain.Ticket{CustomerComplaint: text, Status: domain.TicketStatusPending}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if err := s.enqueue(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListTickets returns one page of tickets, newest first.
func (s *TicketService) ListTickets(ctx context.Context, input TicketListInput) (TicketPage, error) {
	page, perPage := input.Page, input.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	filter := input.Filter
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	items, total, err := s.tickets.List(ctx, filter)
	if err != nil {
		return TicketPage{}, apperrors.NewInternalError(err)
	}
	if items == nil {
		items = []domain.Ticket{}
	}
	return TicketPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// GetTicket fetches a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	return ticket, nil
}

// ListHistory returns the status history of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, id int64) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.tickets.ListHistory(ctx, id)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return history, nil
}

// UpdateAgentResponse stores the agent's edit. AI fields are untouched.
func (s *TicketService) UpdateAgentResponse(ctx context.Context, id int64, response string) (*domain.Ticket, error) {
	if n := utf8.RuneCountInString(response); n > MaxAgentResponseLength {
		return nil, apperrors.NewValidationError("agent_edited_response must be at most 2000 characters", map[string]any{
			"field":  "agent_edited_response",
			"length": n,
		})
	}
	ticket, err := s.tickets.UpdateAgentResponse(ctx, id, response)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	s.logger.Info("agent response updated", zap.Int64("ticket_id", id))
	return ticket, nil
}

// ResolveTicket marks a ticket resolved by agentID.
func (s *TicketService) ResolveTicket(ctx context.Context, id int64, agentID string) (*domain.Ticket, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, apperrors.NewValidationError("agent_id is required", map[string]any{"field": "agent_id"})
	}
	ticket, err := s.tickets.Resolve(ctx, id, agentID)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	s.logger.Info("ticket resolved", zap.Int64("ticket_id", id), zap.String("agent_id", agentID))
	return ticket, nil
}

// RetriageTicket clears the AI result of a completed or failed ticket and
// queues a fresh job. Tickets still in flight or already resolved are refused.
func (s *TicketService) RetriageTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	current, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.IsTerminal() {
		return nil, apperrors.NewConflict("only completed or failed tickets can be re-triaged", map[string]any{
			"ticket_id": id,
			"status":    current.Status,
		})
	}
	if current.Resolved {
		return nil, apperrors.NewConflict("resolved tickets cannot be re-triaged", map[string]any{"ticket_id": id})
	}

	ticket, err := s.tickets.UpdateStatusAndFields(ctx, id, current.Status, repository.StatusUpdate{
		Status:      domain.TicketStatusPending,
		ResetTriage: true,
		Actor:       domain.ActorAgent,
		Note:        "re-triage requested",
	})
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	s.publish(ctx, ticket)

	if err := s.enqueue(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) enqueue(ctx context.Context, ticket *domain.Ticket) error {
	job, err := s.queue.Enqueue(ctx, ticket.ID)
	if err == nil {
		s.logger.Info("ticket queued for triage", zap.Int64("ticket_id", ticket.ID), zap.String("job_id", job.ID))
		return nil
	}

	s.logger.Error("enqueue failed, marking ticket failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	aiStatus := domain.AIStatusError
	msg := "could not queue triage job: " + err.Error()
	failed, updateErr := s.tickets.UpdateStatusAndFields(ctx, ticket.ID, domain.TicketStatusPending, repository.StatusUpdate{
		Status:       domain.TicketStatusFailed,
		AIStatus:     &aiStatus,
		ErrorMessage: &msg,
		Actor:        domain.ActorSystem,
		Note:         "enqueue failed",
	})
	if updateErr != nil {
		s.logger.Error("could not mark ticket failed", zap.Int64("ticket_id", ticket.ID), zap.Error(updateErr))
	} else {
		s.publish(ctx, failed)
	}
	return apperrors.NewQueueUnavailable(err, map[string]any{"ticket_id": ticket.ID})
}

func (s *TicketService) publish(ctx context.Context, ticket *domain.Ticket) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.TicketUpdated(ticket)); err != nil {
		s.logger.Warn("publish ticket update failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func mapRepoError(err error, id int64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"id": id})
	case errors.Is(err, repository.ErrAlreadyResolved):
		return apperrors.NewConflict("ticket already resolved", map[string]any{"ticket_id": id})
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict("ticket changed concurrently, retry the request", map[string]any{"ticket_id": id})
	default:
		return apperrors.NewInternalError(err)
	}
}
