package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MangBao/triage-recovery-hub-be/internal/ai"
	httptransport "github.com/MangBao/triage-recovery-hub-be/internal/api/http"
	"github.com/MangBao/triage-recovery-hub-be/internal/api/http/handlers"
	"github.com/MangBao/triage-recovery-hub-be/internal/config"
	"github.com/MangBao/triage-recovery-hub-be/internal/events"
	"github.com/MangBao/triage-recovery-hub-be/internal/observability"
	"github.com/MangBao/triage-recovery-hub-be/internal/persistence"
	"github.com/MangBao/triage-recovery-hub-be/internal/queue"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	"github.com/MangBao/triage-recovery-hub-be/internal/service"
	"github.com/MangBao/triage-recovery-hub-be/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App, "api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var tickets repository.TicketRepository
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(cfg.Postgres.DSN, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		tickets = repository.NewTicketRepository(pg.Pool)
	} else {
		tickets = repository.NewMemoryTicketRepository()
	}

	var rdb *persistence.Redis
	var redisClient redis.UniversalClient
	if cfg.NeedsRedis() {
		rdb, err = persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		redisClient = rdb.Client
	}

	q, err := queue.New(ctx, cfg.APIQueue(), redisClient, logger)
	if err != nil {
		logger.Fatal("failed to build queue", zap.Error(err))
	}

	hub := events.NewHub(cfg.Broadcast.SubscriberBuffer, metrics, logger)
	var publisher events.Publisher = hub

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Broadcast.Mode == config.ModeRedis {
		publisher = events.NewRedisPublisher(redisClient, cfg.Broadcast.Channel)
		relay := events.NewRedisRelay(redisClient, cfg.Broadcast.Channel, hub, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	if cfg.Worker.Embedded {
		provider, err := ai.NewProvider(ctx, cfg.AI)
		if err != nil {
			logger.Fatal("failed to build ai provider", zap.Error(err))
		}
		classifier := ai.NewClient(provider, cfg.AI, logger)
		processor := worker.NewProcessor(tickets, classifier, publisher, metrics, logger, cfg.Queue.ConsumerID)
		pool := worker.NewPool(q, processor, cfg.Worker, logger)
		g.Go(func() error { return pool.Run(gctx) })
	}

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: tickets,
		Queue:      q,
		Publisher:  publisher,
		Logger:     logger,
	})

	app := httptransport.NewApp(cfg.App.Name, logger, metrics,
		httptransport.MiddlewareConfig{
			RequestTimeout: cfg.App.RequestTimeout(),
			CORSOrigins:    cfg.HTTP.CORSOrigins,
		},
		httptransport.RouteConfig{
			Health:             handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb, metrics),
			Tickets:            handlers.NewTicketsHandler(ticketService),
			WebSocket:          handlers.NewWebSocketHandler(hub, logger),
			RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		})

	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("queue_mode", cfg.Queue.Mode),
			zap.String("broadcast_mode", cfg.Broadcast.Mode),
			zap.Bool("embedded_workers", cfg.Worker.Embedded))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(gctx, logger)

	if err := app.ShutdownWithTimeout(cfg.App.ShutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("background task failed", zap.Error(err))
	}
	_ = q.Close()
}

// waitForShutdown returns on SIGINT/SIGTERM or when a background task stops
// the group.
func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Warn("background task stopped, shutting down")
	}
}
