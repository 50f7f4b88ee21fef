package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
)

// enqueueScript pushes a job unless the pending list already holds the
// backlog limit. Returns -1 when full.
var enqueueScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call('LLEN', KEYS[1]) >= limit then
  return -1
end
return redis.call('LPUSH', KEYS[1], ARGV[1])
`)

// RedisQueue is a reliable list queue. Producers LPUSH onto the pending list;
// each consumer atomically moves a job into its own processing list and
// removes it from there on Ack. Jobs left in a processing list by a crashed
// consumer are moved back by Recover.
type RedisQueue struct {
	client       redis.UniversalClient
	pending      string
	processing   string
	backlog      int
	blockTimeout time.Duration
	logger       *zap.Logger
	closed       atomic.Bool
}

// NewRedisQueue builds the queue and, when configured, recovers jobs that
// this consumer had in flight before it last stopped.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, cfg config.QueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = time.Second
	}
	q := &RedisQueue{
		client:       client,
		pending:      cfg.Name,
		processing:   ProcessingKey(cfg.Name, cfg.ConsumerID),
		backlog:      cfg.Backlog,
		blockTimeout: blockTimeout,
		logger:       logger.Named("queue").With(zap.String("queue", cfg.Name), zap.String("consumer", cfg.ConsumerID)),
	}
	if cfg.RecoverOnStart {
		if _, err := q.Recover(ctx); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ProcessingKey names the in-flight list of one consumer.
func ProcessingKey(name, consumerID string) string {
	return fmt.Sprintf("%s:processing:%s", name, consumerID)
}

func (q *RedisQueue) Enqueue(ctx context.Context, ticketID int64) (Job, error) {
	if q.closed.Load() {
		return Job{}, ErrQueueClosed
	}

	job := newJob(ticketID)
	payload, err := json.Marshal(job)
	if err != nil {
		return Job{}, err
	}

	n, err := enqueueScript.Run(ctx, q.client, []string{q.pending}, payload, q.backlog).Int64()
	if err != nil {
		return Job{}, fmt.Errorf("enqueue ticket %d: %w", ticketID, err)
	}
	if n < 0 {
		return Job{}, ErrQueueFull
	}
	return job, nil
}

// Dequeue blocks until a job is moved into this consumer's processing list.
// It polls in BlockTimeout slices so cancellation and Close are observed.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error("dropping malformed job", zap.String("payload", raw), zap.Error(err))
			if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
				return nil, fmt.Errorf("drop malformed job: %w", err)
			}
			continue
		}
		return &Delivery{Job: job, raw: raw}, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	if err := q.client.LRem(ctx, q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", d.Job.ID, err)
	}
	return nil
}

// Nack swaps the delivery in this consumer's processing list for a copy with
// Attempt incremented at the tail of the pending list, in one transaction.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	job := d.Job
	job.Attempt++
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.LPush(ctx, q.pending, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", d.Job.ID, err)
	}
	return nil
}

// Recover moves every job in this consumer's processing list back onto the
// pending list so it is delivered again.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recover in-flight jobs: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Warn("requeued in-flight jobs", zap.Int("count", moved))
	}
	return moved, nil
}

// Close stops Dequeue and Enqueue. The shared client is closed by its owner.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
