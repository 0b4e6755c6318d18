package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client schedules step-window and SLA deadline tasks through asynq.
// It implements ports.Timers: arming replaces any pending task with the same
// id, disarming deletes it. The Timers contract tolerates late fires, so a
// task that slips past a disarm is discarded by the handler's state guards.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	log       *logger.Logger
}

func NewClient(cfg config.SchedulerConfig, log *logger.Logger) (*Client, error) {
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

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
		log:       log,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) ArmStepWindow(jobID uuid.UUID, stepIndex int, openedAt, fireAt time.Time) {
	task, err := NewStepWindowExpiryTask(StepWindowExpiryPayload{
		JobID:     jobID.String(),
		StepIndex: stepIndex,
		OpenedAt:  openedAt,
	})
	if err != nil {
		c.log.Error("build step window task", "jobId", jobID, "error", err)
		return
	}
	c.enqueue(task, stepWindowTaskID(jobID.String()), fireAt)
}

func (c *Client) DisarmStepWindow(jobID uuid.UUID) {
	c.deleteTask(stepWindowTaskID(jobID.String()))
}

func (c *Client) ArmSLATimer(jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase, fireAt time.Time) {
	task, err := NewSLADeadlineTask(SLADeadlinePayload{
		JobID: jobID.String(),
		Kind:  string(kind),
		Phase: string(phase),
	})
	if err != nil {
		c.log.Error("build sla deadline task", "jobId", jobID, "error", err)
		return
	}
	c.enqueue(task, slaTaskID(jobID.String(), string(kind), string(phase)), fireAt)
}

func (c *Client) DisarmSLATimers(jobID uuid.UUID, kind domain.SLAKind) {
	for _, phase := range []domain.TimerPhase{domain.PhaseWarning, domain.PhaseBreach} {
		c.deleteTask(slaTaskID(jobID.String(), string(kind), string(phase)))
	}
}

func (c *Client) enqueue(task *asynq.Task, taskID string, fireAt time.Time) {
	// Re-arming must replace the previous schedule, so drop a pending task
	// under the same id before enqueueing.
	c.deleteTask(taskID)

	_, err := c.client.EnqueueContext(context.Background(), task,
		asynq.ProcessAt(fireAt),
		asynq.Queue(c.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(5),
	)
	if err != nil {
		c.log.Error("enqueue timer task", "taskId", taskID, "fireAt", fireAt, "error", err)
	}
}

func (c *Client) deleteTask(taskID string) {
	err := c.inspector.DeleteTask(c.queue, taskID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		c.log.Warn("delete timer task", "taskId", taskID, "error", err)
	}
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

var _ ports.Timers = (*Client)(nil)
