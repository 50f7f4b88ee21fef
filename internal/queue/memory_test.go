package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)

	for id := int64(1); id <= 3; id++ {
		job, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, job.TicketID)
		assert.NotEmpty(t, job.ID)
		assert.False(t, job.EnqueuedAt.IsZero())
	}
	assert.Equal(t, 3, q.Len())

	for id := int64(1); id <= 3; id++ {
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, d.Job.TicketID)
		require.NoError(t, q.Ack(ctx, d))
	}
}

func TestMemoryQueueBacklogFull(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	_, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 2)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, 3)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueueNackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	job, err := q.Enqueue(ctx, 5)
	require.NoError(t, err)
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, d))
	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.Job.ID)
	assert.Equal(t, 1, again.Job.Attempt)

	_, err = q.Enqueue(ctx, 6)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Nack(ctx, again), ErrQueueFull)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Nack(ctx, again), ErrQueueClosed)
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}

	_, err := q.Enqueue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueueDeliversEachJobOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 200
	q := NewMemoryQueue(jobs)
	for i := 1; i <= jobs; i++ {
		_, err := q.Enqueue(ctx, int64(i))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				dctx, dcancel := context.WithTimeout(ctx, 50*time.Millisecond)
				d, err := q.Dequeue(dctx)
				dcancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[d.Job.TicketID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "ticket %d delivered %d times", id, n)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	q, err := New(context.Background(), config.QueueConfig{Mode: config.ModeMemory, Backlog: 5}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = New(context.Background(), config.QueueConfig{Mode: config.ModeRedis}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = New(context.Background(), config.QueueConfig{Mode: "sqs"}, nil, zap.NewNop())
	assert.Error(t, err)
}
