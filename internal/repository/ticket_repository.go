package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
)

var (
	// ErrNotFound is returned when no ticket has the requested id.
	ErrNotFound = errors.New("ticket not found")
	// ErrConflict is returned when a conditional update finds the ticket in a
	// different state than the caller expected.
	ErrConflict = errors.New("ticket state conflict")
	// ErrAlreadyResolved is the conflict returned by Resolve.
	ErrAlreadyResolved = fmt.Errorf("%w: ticket already resolved", ErrConflict)
	// ErrInvalidTransition is the conflict returned when the requested status
	// is not reachable from the current one.
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", ErrConflict)
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	Status        *domain.TicketStatus
	Urgency       *domain.UrgencyLevel
	Category      *domain.TicketCategory
	AIStatus      *domain.AIStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// StatusUpdate describes one conditional state transition and the fields it
// writes in the same commit.
type StatusUpdate struct {
	Status domain.TicketStatus
	// Triage, when set, writes every classification field at once.
	Triage *domain.Triage
	// ResetTriage clears every AI-authored field (re-triage).
	ResetTriage  bool
	AIStatus     *domain.AIStatus
	ErrorMessage *string

	Actor   domain.ActorType
	ActorID *string
	Note    string
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	// UpdateStatusAndFields applies update only if the ticket is currently in
	// expected and the move is allowed by domain.CanTransition; otherwise it
	// returns ErrConflict (or ErrInvalidTransition) and changes nothing.
	UpdateStatusAndFields(ctx context.Context, id int64, expected domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error)
	UpdateAgentResponse(ctx context.Context, id int64, response string) (*domain.Ticket, error)
	// Resolve marks the ticket resolved; ErrAlreadyResolved if it already is.
	Resolve(ctx context.Context, id int64, agentID string) (*domain.Ticket, error)
	ListHistory(ctx context.Context, id int64) ([]domain.TicketHistory, error)
}

const ticketColumns = `id, customer_complaint, status, category, urgency, sentiment_score,
               ai_draft_response, ai_status, agent_edited_response, agent_id, resolved,
               resolved_at, error_message, created_at, updated_at`

type ticketRepository struct {
	pool    *pgxpool.Pool
	history *ticketHistoryRepository
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool, history: &ticketHistoryRepository{pool: pool}}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (customer_complaint, status)
        VALUES ($1,$2)
        RETURNING id, created_at, updated_at`

	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusPending
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query, ticket.CustomerComplaint, ticket.Status).
			Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
			return err
		}
		return r.history.insert(ctx, tx, &domain.TicketHistory{
			TicketID:  ticket.ID,
			ActorType: domain.ActorSystem,
			NewStatus: ticket.Status,
			Note:      "created",
		})
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Urgency != nil {
		args = append(args, *filter.Urgency)
		clauses = append(clauses, fmt.Sprintf("urgency=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.AIStatus != nil {
		args = append(args, *filter.AIStatus)
		clauses = append(clauses, fmt.Sprintf("ai_status=$%d", len(args)))
	}
	if filter.CreatedAfter != nil {
		args = append(args, *filter.CreatedAfter)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *ticket)
	}
	return result, total, rows.Err()
}

func (r *ticketRepository) UpdateStatusAndFields(ctx context.Context, id int64, expected domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var current domain.TicketStatus
		err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id=$1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: ticket %d is %s, expected %s", ErrConflict, id, current, expected)
		}
		if !domain.CanTransition(current, update.Status) {
			return fmt.Errorf("%w: ticket %d %s -> %s", ErrInvalidTransition, id, current, update.Status)
		}

		sets := []string{"status=$1", "updated_at=NOW()"}
		args := []any{update.Status}
		set := func(column string, value any) {
			args = append(args, value)
			sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
		}

		if update.ResetTriage {
			sets = append(sets,
				"category=NULL", "urgency=NULL", "sentiment_score=NULL",
				"ai_draft_response=NULL", "ai_status=NULL", "error_message=NULL")
		}
		if update.Triage != nil {
			set("category", update.Triage.Category)
			set("urgency", update.Triage.Urgency)
			set("sentiment_score", update.Triage.SentimentScore)
			set("ai_draft_response", update.Triage.DraftResponse)
		}
		if update.AIStatus != nil {
			set("ai_status", *update.AIStatus)
		}
		if update.ErrorMessage != nil {
			set("error_message", *update.ErrorMessage)
		}

		args = append(args, id)
		query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d RETURNING %s`,
			strings.Join(sets, ", "), len(args), ticketColumns)
		updated, err = scanTicket(tx.QueryRow(ctx, query, args...))
		if err != nil {
			return err
		}

		return r.history.insert(ctx, tx, &domain.TicketHistory{
			TicketID:  id,
			ActorType: update.Actor,
			ActorID:   update.ActorID,
			OldStatus: current,
			NewStatus: update.Status,
			Note:      update.Note,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ticketRepository) UpdateAgentResponse(ctx context.Context, id int64, response string) (*domain.Ticket, error) {
	query := `UPDATE tickets SET agent_edited_response=$1, updated_at=NOW() WHERE id=$2 RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, response, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) Resolve(ctx context.Context, id int64, agentID string) (*domain.Ticket, error) {
	var resolved *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var already bool
		var status domain.TicketStatus
		err := tx.QueryRow(ctx, `SELECT resolved, status FROM tickets WHERE id=$1 FOR UPDATE`, id).Scan(&already, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if already {
			return ErrAlreadyResolved
		}

		query := `UPDATE tickets SET resolved=TRUE, agent_id=$1, resolved_at=NOW(), updated_at=NOW()
                  WHERE id=$2 RETURNING ` + ticketColumns
		resolved, err = scanTicket(tx.QueryRow(ctx, query, agentID, id))
		if err != nil {
			return err
		}
		return r.history.insert(ctx, tx, &domain.TicketHistory{
			TicketID:  id,
			ActorType: domain.ActorAgent,
			ActorID:   &agentID,
			OldStatus: status,
			NewStatus: status,
			Note:      "resolved",
		})
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *ticketRepository) ListHistory(ctx context.Context, id int64) ([]domain.TicketHistory, error) {
	return r.history.ListByTicket(ctx, id)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.CustomerComplaint,
		&ticket.Status,
		&ticket.Category,
		&ticket.Urgency,
		&ticket.SentimentScore,
		&ticket.AIDraftResponse,
		&ticket.AIStatus,
		&ticket.AgentEditedResponse,
		&ticket.AgentID,
		&ticket.Resolved,
		&ticket.ResolvedAt,
		&ticket.ErrorMessage,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
