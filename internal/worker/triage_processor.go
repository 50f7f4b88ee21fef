// Package worker runs the triage state machine against queued jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/ai"
	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
	"github.com/MangBao/triage-recovery-hub-be/internal/events"
	"github.com/MangBao/triage-recovery-hub-be/internal/observability"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	"github.com/MangBao/triage-recovery-hub-be/internal/validation"
)

const (
	maxErrorMessage = 500
	publishTimeout  = 5 * time.Second
)

// Triage outcomes recorded in metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Classifier is the model call the processor depends on.
type Classifier interface {
	Classify(ctx context.Context, complaint string) (ai.RawResult, error)
}

// Processor moves one ticket from pending to a terminal state.
type Processor struct {
	tickets    repository.TicketRepository
	classifier Classifier
	publisher  events.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	workerID   string
}

// NewProcessor wires a processor. workerID is recorded in the ticket history.
func NewProcessor(
	tickets repository.TicketRepository,
	classifier Classifier,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	workerID string,
) *Processor {
	return &Processor{
		tickets:    tickets,
		classifier: classifier,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger.Named("triage"),
		workerID:   workerID,
	}
}

// Process handles one job. A nil error means the job may be acknowledged,
// including when it turned out to be a duplicate. A non-nil error means the
// outcome was not persisted and the job should be retried or handed to Fail.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	logger := p.logger.With(zap.String("job_id", job.ID), zap.Int64("ticket_id", job.TicketID))

	ticket, err := p.tickets.GetByID(ctx, job.TicketID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("ticket not found, dropping job")
		p.metrics.RecordTriage(OutcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", job.TicketID, err)
	}
	if ticket.Status.IsTerminal() {
		logger.Info("ticket already triaged, skipping duplicate job", zap.String("status", string(ticket.Status)))
		p.metrics.RecordTriage(OutcomeSkipped)
		return nil
	}

	_, err = p.tickets.UpdateStatusAndFields(ctx, ticket.ID, ticket.Status, repository.StatusUpdate{
		Status:  domain.TicketStatusProcessing,
		Actor:   domain.ActorWorker,
		ActorID: &p.workerID,
		Note:    "claimed",
	})
	if isStale(err) {
		logger.Info("ticket changed before claim, skipping", zap.Error(err))
		p.metrics.RecordTriage(OutcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim ticket %d: %w", ticket.ID, err)
	}
	logger.Debug("processing complaint",
		zap.Int("length", utf8.RuneCountInString(ticket.CustomerComplaint)),
		zap.String("complaint", ticket.CustomerComplaint),
	)

	start := time.Now()
	raw, aiErr := p.classifier.Classify(ctx, ticket.CustomerComplaint)
	update, outcome := p.resultUpdate(raw, aiErr, logger)

	updated, err := p.tickets.UpdateStatusAndFields(ctx, ticket.ID, domain.TicketStatusProcessing, update)
	if isStale(err) {
		logger.Info("another delivery finished this ticket first, discarding result", zap.Error(err))
		p.metrics.RecordTriage(OutcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("store triage result for ticket %d: %w", ticket.ID, err)
	}

	p.metrics.RecordTriage(outcome)
	logger.Info("ticket triaged",
		zap.String("status", string(updated.Status)),
		zap.String("ai_status", outcome),
		zap.Duration("elapsed", time.Since(start)),
	)
	p.publish(ctx, updated, logger)
	return nil
}

// Fail marks the job's ticket failed after its triage outcome could not be
// stored, so the ticket is not left pending or processing with no job behind
// it. A ticket that is already terminal or gone is left alone.
func (p *Processor) Fail(ctx context.Context, job queue.Job, cause error) error {
	logger := p.logger.With(zap.String("job_id", job.ID), zap.Int64("ticket_id", job.TicketID))

	ticket, err := p.tickets.GetByID(ctx, job.TicketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", job.TicketID, err)
	}
	if ticket.Status.IsTerminal() {
		return nil
	}

	status := domain.AIStatusError
	msg := truncate("processing failed: "+cause.Error(), maxErrorMessage)
	updated, err := p.tickets.UpdateStatusAndFields(ctx, ticket.ID, ticket.Status, repository.StatusUpdate{
		Status:       domain.TicketStatusFailed,
		AIStatus:     &status,
		ErrorMessage: &msg,
		Actor:        domain.ActorWorker,
		ActorID:      &p.workerID,
		Note:         "gave up after failed deliveries",
	})
	if isStale(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark ticket %d failed: %w", ticket.ID, err)
	}

	p.metrics.RecordTriage(OutcomeError)
	logger.Warn("ticket marked failed", zap.Int("attempts", job.Attempt+1), zap.Error(cause))
	p.publish(ctx, updated, logger)
	return nil
}

// resultUpdate matches every classifier result onto the terminal write.
func (p *Processor) resultUpdate(raw ai.RawResult, aiErr error, logger *zap.Logger) (repository.StatusUpdate, string) {
	update := repository.StatusUpdate{
		Actor:   domain.ActorWorker,
		ActorID: &p.workerID,
	}

	if aiErr != nil {
		status := domain.AIStatusError
		msg := truncate(aiErr.Error(), maxErrorMessage)
		logger.Error("ai call failed", zap.Error(aiErr))
		update.Status = domain.TicketStatusFailed
		update.AIStatus = &status
		update.ErrorMessage = &msg
		update.Note = "ai error"
		return update, OutcomeError
	}

	switch out := validation.Validate(raw).(type) {
	case validation.Valid:
		status := domain.AIStatusSuccess
		update.Status = domain.TicketStatusCompleted
		update.Triage = &out.Result
		update.AIStatus = &status
		update.Note = "triaged"
		return update, OutcomeSuccess
	case validation.Invalid:
		status := domain.AIStatusFallback
		logger.Warn("model output rejected, applying fallback", zap.String("reason", out.Reason))
		update.Status = domain.TicketStatusCompleted
		update.Triage = &out.Fallback
		update.AIStatus = &status
		update.Note = "fallback: " + truncate(out.Reason, 200)
		return update, OutcomeFallback
	default:
		panic(fmt.Sprintf("unhandled validation outcome %T", out))
	}
}

// publish is fire-and-forget; a lost event never fails the job.
func (p *Processor) publish(ctx context.Context, ticket *domain.Ticket, logger *zap.Logger) {
	if p.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(pubCtx, events.TicketUpdated(ticket)); err != nil {
		logger.Warn("publish ticket update failed", zap.Error(err))
	}
}

func isStale(err error) bool {
	return errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
