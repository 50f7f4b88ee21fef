package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
)

func TestPoolDrainsQueue(t *testing.T) {
	f := newFixture()
	q := queue.NewMemoryQueue(32)

	const tickets = 12
	for i := 0; i < tickets; i++ {
		job := f.createTicket(t, "pool processed complaint")
		_, err := q.Enqueue(context.Background(), job.TicketID)
		require.NoError(t, err)
	}

	pool := NewPool(q, f.processor(staticClassifier(billingJSON, nil)), config.WorkerConfig{Concurrency: 4}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	completed := domain.TicketStatusCompleted
	require.Eventually(t, func() bool {
		_, total, err := f.repo.List(context.Background(), repository.TicketFilter{Status: &completed})
		return err == nil && total == tickets
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
	assert.Len(t, f.publisher.published(), tickets)
	assert.Zero(t, q.Len())
}

func TestPoolStopsWhenQueueCloses(t *testing.T) {
	f := newFixture()
	q := queue.NewMemoryQueue(1)
	pool := NewPool(q, f.processor(staticClassifier(billingJSON, nil)), config.WorkerConfig{Concurrency: 2}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}

// flakyCompletions fails the first failures writes to completed.
type flakyCompletions struct {
	*repository.MemoryTicketRepository
	failures int32
	calls    atomic.Int32
}

func (r *flakyCompletions) UpdateStatusAndFields(ctx context.Context, id int64, expected domain.TicketStatus, u repository.StatusUpdate) (*domain.Ticket, error) {
	if u.Status == domain.TicketStatusCompleted && r.calls.Add(1) <= r.failures {
		return nil, errors.New("connection reset by peer")
	}
	return r.MemoryTicketRepository.UpdateStatusAndFields(ctx, id, expected, u)
}

func runPool(t *testing.T, pool *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPoolRequeuesJobAfterStoreFailure(t *testing.T) {
	f := newFixture()
	repo := &flakyCompletions{MemoryTicketRepository: f.repo, failures: 1}
	q := queue.NewMemoryQueue(4)

	job := f.createTicket(t, "the first write to the database fails")
	_, err := q.Enqueue(context.Background(), job.TicketID)
	require.NoError(t, err)

	p := NewProcessor(repo, staticClassifier(billingJSON, nil), f.publisher, f.metrics, zap.NewNop(), "w")
	runPool(t, NewPool(q, p, config.WorkerConfig{Concurrency: 1, MaxDeliveries: 3, RetryDelay: 10 * time.Millisecond}, zap.NewNop()))

	// The event goes out after the write, so it marks the end of the job.
	require.Eventually(t, func() bool { return len(f.publisher.published()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.TicketStatusCompleted, f.load(t, job.TicketID).Status)
	assert.Equal(t, int32(2), repo.calls.Load())
	assert.Zero(t, q.Len())
}

func TestPoolMarksTicketFailedWhenRetriesRunOut(t *testing.T) {
	f := newFixture()
	repo := &flakyCompletions{MemoryTicketRepository: f.repo, failures: 100}
	q := queue.NewMemoryQueue(4)

	job := f.createTicket(t, "the database never accepts the result")
	_, err := q.Enqueue(context.Background(), job.TicketID)
	require.NoError(t, err)

	p := NewProcessor(repo, staticClassifier(billingJSON, nil), f.publisher, f.metrics, zap.NewNop(), "w")
	runPool(t, NewPool(q, p, config.WorkerConfig{Concurrency: 1, MaxDeliveries: 3, RetryDelay: 10 * time.Millisecond}, zap.NewNop()))

	require.Eventually(t, func() bool { return len(f.publisher.published()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ticket := f.load(t, job.TicketID)
	assert.Equal(t, domain.TicketStatusFailed, ticket.Status)
	require.NotNil(t, ticket.AIStatus)
	assert.Equal(t, domain.AIStatusError, *ticket.AIStatus)
	require.NotNil(t, ticket.ErrorMessage)
	assert.Contains(t, *ticket.ErrorMessage, "connection reset by peer")
	assert.Equal(t, int32(3), repo.calls.Load())
	assert.Zero(t, q.Len())
	assert.Equal(t, job.TicketID, f.publisher.published()[0].TicketID)
}
