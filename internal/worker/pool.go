package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MangBao/triage-recovery-hub-be/internal/config"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
)

const dequeueRetryDelay = time.Second

// Pool runs a fixed number of dequeue loops over one queue.
type Pool struct {
	queue         queue.Queue
	processor     *Processor
	concurrency   int
	maxDeliveries int
	retryDelay    time.Duration
	logger        *zap.Logger
}

// NewPool builds a pool with cfg.Concurrency consumers.
func NewPool(q queue.Queue, processor *Processor, cfg config.WorkerConfig, logger *zap.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = 1
	}
	return &Pool{
		queue:         q,
		processor:     processor,
		concurrency:   concurrency,
		maxDeliveries: maxDeliveries,
		retryDelay:    cfg.RetryDelay,
		logger:        logger.Named("pool"),
	}
}

// Run blocks until ctx is cancelled or the queue is closed. Jobs already
// dequeued are finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", zap.Int("concurrency", p.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		slot := i
		g.Go(func() error {
			return p.consume(gctx, slot)
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, slot int) error {
	logger := p.logger.With(zap.Int("slot", slot))
	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}

		// A dequeued job runs to completion; its only deadline is the AI call's.
		jobCtx := context.WithoutCancel(ctx)
		if err := p.processor.Process(jobCtx, delivery.Job); err != nil {
			p.retryOrFail(ctx, logger, delivery, err)
			continue
		}
		if err := p.queue.Ack(jobCtx, delivery); err != nil {
			logger.Error("ack failed", zap.String("job_id", delivery.Job.ID), zap.Error(err))
		}
	}
}

// retryOrFail handles a job whose outcome could not be stored. It is requeued
// after retryDelay until it has been delivered maxDeliveries times; then, or
// when the requeue itself fails, the ticket is marked failed and the job
// acknowledged. Only when that write fails too is the job left unacknowledged.
func (p *Pool) retryOrFail(ctx context.Context, logger *zap.Logger, d *queue.Delivery, cause error) {
	logger = logger.With(
		zap.String("job_id", d.Job.ID),
		zap.Int64("ticket_id", d.Job.TicketID),
		zap.Int("attempt", d.Job.Attempt+1),
	)
	jobCtx := context.WithoutCancel(ctx)

	if d.Job.Attempt+1 < p.maxDeliveries {
		logger.Warn("job failed, requeueing", zap.Duration("delay", p.retryDelay), zap.Error(cause))
		if p.retryDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.retryDelay):
			}
		}
		err := p.queue.Nack(jobCtx, d)
		if err == nil {
			return
		}
		logger.Error("requeue failed", zap.Error(err))
	}

	if err := p.processor.Fail(jobCtx, d.Job, cause); err != nil {
		logger.Error("job left unacknowledged", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	if err := p.queue.Ack(jobCtx, d); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
}
