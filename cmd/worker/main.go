package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/ai"
	"github.com/MangBao/triage-recovery-hub-be/internal/config"
	"github.com/MangBao/triage-recovery-hub-be/internal/events"
	"github.com/MangBao/triage-recovery-hub-be/internal/observability"
	"github.com/MangBao/triage-recovery-hub-be/internal/persistence"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	"github.com/MangBao/triage-recovery-hub-be/internal/worker"
)

// The standalone worker shares tickets and jobs with the API through
// Postgres and Redis, so both are required.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App, "worker")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Queue.Mode != config.ModeRedis {
		logger.Fatal("standalone worker requires QUEUE_MODE=redis")
	}
	if cfg.Postgres.DSN == "" {
		logger.Fatal("standalone worker requires POSTGRES_DSN")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	q, err := queue.New(ctx, cfg.Queue, rdb.Client, logger)
	if err != nil {
		logger.Fatal("failed to build queue", zap.Error(err))
	}
	defer q.Close()

	provider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		logger.Fatal("failed to build ai provider", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	processor := worker.NewProcessor(
		repository.NewTicketRepository(pg.Pool),
		ai.NewClient(provider, cfg.AI, logger),
		events.NewRedisPublisher(rdb.Client, cfg.Broadcast.Channel),
		metrics,
		logger,
		cfg.Queue.ConsumerID,
	)
	pool := worker.NewPool(q, processor, cfg.Worker, logger)

	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker pool failed", zap.Error(err))
	}
	logger.Info("worker stopped", zap.Any("triage_outcomes", metrics.Snapshot().TriageOutcomes))
}
