package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
	"github.com/MangBao/triage-recovery-hub-be/internal/events"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	apperrors "github.com/MangBao/triage-recovery-hub-be/pkg/util/errorutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) statuses() []domain.TicketStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TicketStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Data.Status)
	}
	return out
}

type fixture struct {
	repo      *repository.MemoryTicketRepository
	queue     *queue.MemoryQueue
	publisher *recordingPublisher
	svc       *TicketService
}

func newFixture(backlog int) *fixture {
	f := &fixture{
		repo:      repository.NewMemoryTicketRepository(),
		queue:     queue.NewMemoryQueue(backlog),
		publisher: &recordingPublisher{},
	}
	f.svc = NewTicketService(TicketDependencies{
		TicketRepo: f.repo,
		Queue:      f.queue,
		Publisher:  f.publisher,
		Logger:     zap.NewNop(),
	})
	return f
}

// complete drives a ticket through the worker transitions directly.
func (f *fixture) complete(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.repo.UpdateStatusAndFields(ctx, id, domain.TicketStatusPending, repository.StatusUpdate{Status: domain.TicketStatusProcessing})
	require.NoError(t, err)
	success := domain.AIStatusSuccess
	_, err = f.repo.UpdateStatusAndFields(ctx, id, domain.TicketStatusProcessing, repository.StatusUpdate{
		Status:   domain.TicketStatusCompleted,
		Triage:   &domain.Triage{Category: domain.CategoryBilling, Urgency: domain.UrgencyHigh, SentimentScore: 3, DraftResponse: "Sorry about that."},
		AIStatus: &success,
	})
	require.NoError(t, err)
}

func requireDomainError(t *testing.T, err error, status int) *apperrors.DomainError {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.HTTPStatus)
	return domainErr
}

func TestCreateTicketQueuesJob(t *testing.T) {
	f := newFixture(4)

	ticket, err := f.svc.CreateTicket(context.Background(), "  I was charged twice this month  ")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Equal(t, "I was charged twice this month", ticket.CustomerComplaint)
	assert.Equal(t, 1, f.queue.Len())

	d, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, d.Job.TicketID)
	assert.NotEmpty(t, d.Job.ID)
}

func TestCreateTicketValidatesLength(t *testing.T) {
	f := newFixture(4)

	for _, text := range []string{"", "too short", "         x         ", strings.Repeat("a", MaxComplaintLength+1)} {
		_, err := f.svc.CreateTicket(context.Background(), text)
		requireDomainError(t, err, http.StatusUnprocessableEntity)
	}
	assert.Zero(t, f.queue.Len())

	_, err := f.svc.CreateTicket(context.Background(), strings.Repeat("é", MaxComplaintLength))
	assert.NoError(t, err)
}

func TestCreateTicketMarksFailedWhenQueueUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		cause error
	}{
		{
			name:  "closed",
			setup: func(f *fixture) { require.NoError(t, f.queue.Close()) },
			cause: queue.ErrQueueClosed,
		},
		{
			name: "full",
			setup: func(f *fixture) {
				_, err := f.queue.Enqueue(context.Background(), 999)
				require.NoError(t, err)
			},
			cause: queue.ErrQueueFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(1)
			tt.setup(f)

			_, err := f.svc.CreateTicket(context.Background(), "the app will not start at all")
			domainErr := requireDomainError(t, err, http.StatusServiceUnavailable)
			assert.Equal(t, "QUEUE_UNAVAILABLE", domainErr.Code)
			assert.ErrorIs(t, err, tt.cause)

			stored, err := f.repo.GetByID(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, domain.TicketStatusFailed, stored.Status)
			require.NotNil(t, stored.AIStatus)
			assert.Equal(t, domain.AIStatusError, *stored.AIStatus)
			require.NotNil(t, stored.ErrorMessage)
			assert.Contains(t, *stored.ErrorMessage, tt.cause.Error())

			assert.Equal(t, []domain.TicketStatus{domain.TicketStatusFailed}, f.publisher.statuses())
		})
	}
}

func TestGetTicketNotFound(t *testing.T) {
	f := newFixture(1)
	_, err := f.svc.GetTicket(context.Background(), 404)
	requireDomainError(t, err, http.StatusNotFound)

	_, err = f.svc.ListHistory(context.Background(), 404)
	requireDomainError(t, err, http.StatusNotFound)
}

func TestUpdateAgentResponseKeepsAIFields(t *testing.T) {
	f := newFixture(4)
	ticket, err := f.svc.CreateTicket(context.Background(), "refund my last order please")
	require.NoError(t, err)
	f.complete(t, ticket.ID)

	updated, err := f.svc.UpdateAgentResponse(context.Background(), ticket.ID, "Refund issued today.")
	require.NoError(t, err)
	assert.Equal(t, "Refund issued today.", *updated.AgentEditedResponse)
	assert.Equal(t, "Sorry about that.", *updated.AIDraftResponse)
	assert.Equal(t, domain.CategoryBilling, *updated.Category)
	assert.Equal(t, domain.TicketStatusCompleted, updated.Status)

	_, err = f.svc.UpdateAgentResponse(context.Background(), ticket.ID, strings.Repeat("x", MaxAgentResponseLength+1))
	requireDomainError(t, err, http.StatusUnprocessableEntity)

	_, err = f.svc.UpdateAgentResponse(context.Background(), 77, "hello")
	requireDomainError(t, err, http.StatusNotFound)
}

func TestResolveTicket(t *testing.T) {
	f := newFixture(4)
	ticket, err := f.svc.CreateTicket(context.Background(), "password reset mail never arrives")
	require.NoError(t, err)

	_, err = f.svc.ResolveTicket(context.Background(), ticket.ID, "  ")
	requireDomainError(t, err, http.StatusUnprocessableEntity)

	resolved, err := f.svc.ResolveTicket(context.Background(), ticket.ID, "agent-3")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "agent-3", *resolved.AgentID)

	_, err = f.svc.ResolveTicket(context.Background(), ticket.ID, "agent-4")
	domainErr := requireDomainError(t, err, http.StatusConflict)
	assert.Equal(t, "ticket already resolved", domainErr.Message)
}

func TestRetriageTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(4)
	ticket, err := f.svc.CreateTicket(ctx, "dark mode would be lovely to have")
	require.NoError(t, err)

	// Still pending: refused.
	_, err = f.svc.RetriageTicket(ctx, ticket.ID)
	requireDomainError(t, err, http.StatusConflict)

	_, err = f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.complete(t, ticket.ID)
	_, err = f.svc.UpdateAgentResponse(ctx, ticket.ID, "agent notes")
	require.NoError(t, err)

	reset, err := f.svc.RetriageTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, reset.Status)
	assert.Nil(t, reset.Category)
	assert.Nil(t, reset.AIStatus)
	assert.Nil(t, reset.AIDraftResponse)
	assert.Equal(t, "agent notes", *reset.AgentEditedResponse)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, []domain.TicketStatus{domain.TicketStatusPending}, f.publisher.statuses())

	history, err := f.svc.ListHistory(ctx, ticket.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.TicketStatusCompleted, last.OldStatus)
	assert.Equal(t, domain.TicketStatusPending, last.NewStatus)
	assert.Equal(t, domain.ActorAgent, last.ActorType)

	_, err = f.svc.RetriageTicket(ctx, 12345)
	requireDomainError(t, err, http.StatusNotFound)
}

func TestRetriageResolvedTicketIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(4)
	ticket, err := f.svc.CreateTicket(ctx, "shipping label printed wrong")
	require.NoError(t, err)
	f.complete(t, ticket.ID)
	_, err = f.svc.ResolveTicket(ctx, ticket.ID, "agent-1")
	require.NoError(t, err)

	_, err = f.svc.RetriageTicket(ctx, ticket.ID)
	requireDomainError(t, err, http.StatusConflict)
}

func TestListTicketsPaginates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	for i := 0; i < 5; i++ {
		_, err := f.svc.CreateTicket(ctx, "complaint number something")
		require.NoError(t, err)
	}

	page, err := f.svc.ListTickets(ctx, TicketListInput{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.TotalPages())
	assert.True(t, page.HasMore())

	page, err = f.svc.ListTickets(ctx, TicketListInput{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore())

	page, err = f.svc.ListTickets(ctx, TicketListInput{Page: 9, PerPage: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxPerPage, page.PerPage)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	failed := domain.TicketStatusFailed
	page, err = f.svc.ListTickets(ctx, TicketListInput{Filter: repository.TicketFilter{Status: &failed}})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Equal(t, DefaultPerPage, page.PerPage)
	assert.Equal(t, 1, page.Page)
}
