package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradedispatch_backend/internal/directory"
	"tradedispatch_backend/internal/dispatch"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/internal/notification"
	"tradedispatch_backend/internal/scheduler"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/db"
	"tradedispatch_backend/platform/logger"
	"tradedispatch_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The worker consumes step-window and SLA deadline tasks from Redis and runs
// them through the same engine wiring as the API. A timer handled here may
// arm follow-up timers, so the worker also carries the scheduler client.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting dispatch worker", "env", cfg.Env)

	if cfg.GetRedisURL() == "" {
		panic("REDIS_URL must be configured for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	timerClient, err := scheduler.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer timerClient.Close()

	notificationModule := notification.NewModule(cfg, directory.New(pool), log)
	notificationModule.RegisterHandlers(eventBus)

	dispatchModule, err := dispatch.NewModule(pool, timerClient, notificationModule.Notifier(), eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize dispatch module", "error", err)
		panic("failed to initialize dispatch module: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, dispatchModule.Engine().HandleWindowExpiry, dispatchModule.Clock().HandleDeadline, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	log.Info("worker listening", "queue", cfg.GetAsynqQueueName())
	worker.Run(ctx)
	log.Info("worker stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
