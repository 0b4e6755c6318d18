package scheduler

import (
	"context"
	"fmt"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes the scheduled timer tasks and hands them to the dispatch
// engine and SLA clock callbacks. Both callbacks discard stale fires, so a
// retried task delivered after the job moved on is harmless.
type Worker struct {
	server         *asynq.Server
	mux            *asynq.ServeMux
	onWindowExpiry ports.WindowExpiryFunc
	onSLADeadline  ports.SLADeadlineFunc
	log            *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, onWindowExpiry ports.WindowExpiryFunc, onSLADeadline ports.SLADeadlineFunc, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:         server,
		mux:            mux,
		onWindowExpiry: onWindowExpiry,
		onSLADeadline:  onSLADeadline,
		log:            log,
	}

	mux.HandleFunc(TaskStepWindowExpiry, w.handleStepWindowExpiry)
	mux.HandleFunc(TaskSLADeadline, w.handleSLADeadline)

	return w, nil
}

func (w *Worker) handleStepWindowExpiry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseStepWindowExpiryPayload(task)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return err
	}

	return w.onWindowExpiry(ctx, jobID, payload.StepIndex, payload.OpenedAt)
}

func (w *Worker) handleSLADeadline(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSLADeadlinePayload(task)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return err
	}

	kind := domain.SLAKind(payload.Kind)
	phase := domain.TimerPhase(payload.Phase)
	switch kind {
	case domain.SLAAccept, domain.SLASchedule:
	default:
		w.log.Warn("sla task with unknown kind dropped", "jobId", jobID, "kind", payload.Kind)
		return nil
	}
	switch phase {
	case domain.PhaseWarning, domain.PhaseBreach:
	default:
		w.log.Warn("sla task with unknown phase dropped", "jobId", jobID, "phase", payload.Phase)
		return nil
	}

	return w.onSLADeadline(ctx, jobID, kind, phase)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
