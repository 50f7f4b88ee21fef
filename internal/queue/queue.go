// Package queue carries triage jobs from ingestion to the worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
)

var (
	// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
	ErrQueueFull = errors.New("queue backlog full")
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue closed")
)

// Job asks a worker to triage one ticket.
type Job struct {
	ID         string    `json:"job_id"`
	TicketID   int64     `json:"ticket_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempt counts earlier deliveries that ended in Nack.
	Attempt int `json:"attempt,omitempty"`
}

// Delivery is a dequeued job that must be acknowledged once its result is
// persisted. Unacknowledged deliveries may be redelivered.
type Delivery struct {
	Job Job
	raw string
}

// Queue is the contract shared by every backend.
type Queue interface {
	Enqueue(ctx context.Context, ticketID int64) (Job, error)
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack returns a delivery to the back of the queue with Attempt
	// incremented.
	Nack(ctx context.Context, d *Delivery) error
	Close() error
}

// New builds the backend selected by cfg.Mode. client may be nil in memory mode.
func New(ctx context.Context, cfg config.QueueConfig, client redis.UniversalClient, logger *zap.Logger) (Queue, error) {
	switch cfg.Mode {
	case config.ModeMemory:
		return NewMemoryQueue(cfg.Backlog), nil
	case config.ModeRedis:
		if client == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		return NewRedisQueue(ctx, client, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown queue mode %q", cfg.Mode)
	}
}

func newJob(ticketID int64) Job {
	return Job{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		EnqueuedAt: time.Now().UTC(),
	}
}
