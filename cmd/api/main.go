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
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/dispatch/timer"
	"tradedispatch_backend/internal/events"
	apphttp "tradedispatch_backend/internal/http"
	"tradedispatch_backend/internal/http/router"
	"tradedispatch_backend/internal/notification"
	"tradedispatch_backend/internal/scheduler"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/db"
	"tradedispatch_backend/platform/logger"
	"tradedispatch_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Timer backend: asynq against Redis when configured, otherwise the
	// in-process timer service. The in-process variant loses armed timers
	// on restart; run with Redis in production.
	var timers ports.Timers
	var inProcess *timer.Service
	if cfg.GetRedisURL() != "" {
		timerClient, err := scheduler.NewClient(cfg, log)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer timerClient.Close()
		timers = timerClient
		log.Info("asynq timer backend initialized", "queue", cfg.GetAsynqQueueName())
	} else {
		log.Warn("REDIS_URL not configured; using in-process timers")
		inProcess = timer.New(log)
		timers = inProcess
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module: gateway for email/SMS plus SSE relay
	notificationModule := notification.NewModule(cfg, directory.New(pool), log)
	notificationModule.RegisterHandlers(eventBus)

	dispatchModule, err := dispatch.NewModule(pool, timers, notificationModule.Notifier(), eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize dispatch module", "error", err)
		panic("failed to initialize dispatch module: " + err.Error())
	}

	// In-process timers fire straight into the engine and SLA clock.
	if inProcess != nil {
		inProcess.Bind(dispatchModule.Engine().HandleWindowExpiry, dispatchModule.Clock().HandleDeadline)
		defer inProcess.Close()
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			dispatchModule,
			notificationModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
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
