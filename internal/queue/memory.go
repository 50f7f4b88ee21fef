package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue. Jobs do not survive a restart
// and Ack is a no-op.
type MemoryQueue struct {
	jobs chan Job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewMemoryQueue returns a queue holding at most backlog pending jobs.
func NewMemoryQueue(backlog int) *MemoryQueue {
	if backlog <= 0 {
		backlog = 1
	}
	return &MemoryQueue{
		jobs: make(chan Job, backlog),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks; a full backlog is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, ticketID int64) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Job{}, ErrQueueClosed
	}

	job := newJob(ticketID)
	select {
	case q.jobs <- job:
		return job, nil
	default:
		return Job{}, ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueClosed
	case job := <-q.jobs:
		return &Delivery{Job: job}, nil
	}
}

func (q *MemoryQueue) Ack(context.Context, *Delivery) error {
	return nil
}

// Nack puts the job back on the channel. A full backlog is reported as
// ErrQueueFull and the job is not requeued.
func (q *MemoryQueue) Nack(_ context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	job := d.Job
	job.Attempt++
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of pending jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
