package scheduler

import (
	"testing"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type testConfig struct {
	redisURL string
}

func (c testConfig) GetRedisURL() string       { return c.redisURL }
func (c testConfig) GetRedisTLSInsecure() bool { return false }
func (c testConfig) GetAsynqQueueName() string { return "dispatch" }
func (c testConfig) GetAsynqConcurrency() int  { return 1 }

func newTestClient(t *testing.T) (*Client, *asynq.Inspector) {
	t.Helper()
	srv := miniredis.RunT(t)
	cfg := testConfig{redisURL: "redis://" + srv.Addr()}

	client, err := NewClient(cfg, logger.New("development"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: srv.Addr()})
	t.Cleanup(func() { inspector.Close() })
	return client, inspector
}

func scheduledTaskIDs(t *testing.T, inspector *asynq.Inspector) map[string]bool {
	t.Helper()
	tasks, err := inspector.ListScheduledTasks("dispatch")
	if err != nil {
		t.Fatalf("ListScheduledTasks: %v", err)
	}
	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = true
	}
	return ids
}

func TestArmStepWindowSchedulesTask(t *testing.T) {
	client, inspector := newTestClient(t)
	jobID := uuid.New()

	client.ArmStepWindow(jobID, 0, time.Now(), time.Now().Add(30*time.Minute))

	ids := scheduledTaskIDs(t, inspector)
	if !ids[stepWindowTaskID(jobID.String())] {
		t.Fatalf("step window task not scheduled, have %v", ids)
	}
}

func TestRearmStepWindowReplacesPendingTask(t *testing.T) {
	client, inspector := newTestClient(t)
	jobID := uuid.New()

	first := time.Now().Truncate(time.Microsecond)
	second := first.Add(time.Minute)
	client.ArmStepWindow(jobID, 0, first, time.Now().Add(30*time.Minute))
	client.ArmStepWindow(jobID, 1, second, time.Now().Add(45*time.Minute))

	tasks, err := inspector.ListScheduledTasks("dispatch")
	if err != nil {
		t.Fatalf("ListScheduledTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("scheduled tasks = %d, want 1", len(tasks))
	}

	payload, err := ParseStepWindowExpiryPayload(asynq.NewTask(tasks[0].Type, tasks[0].Payload))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.StepIndex != 1 {
		t.Errorf("step index = %d, want 1 after re-arm", payload.StepIndex)
	}
	if !payload.OpenedAt.Equal(second) {
		t.Errorf("opened-at token = %v, want the re-arming one %v", payload.OpenedAt, second)
	}
}

func TestDisarmStepWindowDeletesTask(t *testing.T) {
	client, inspector := newTestClient(t)
	jobID := uuid.New()

	client.ArmStepWindow(jobID, 0, time.Now(), time.Now().Add(30*time.Minute))
	client.DisarmStepWindow(jobID)

	if ids := scheduledTaskIDs(t, inspector); len(ids) != 0 {
		t.Fatalf("expected no scheduled tasks after disarm, have %v", ids)
	}
}

func TestDisarmWithoutArmIsANoOp(t *testing.T) {
	client, _ := newTestClient(t)

	// Must not panic or log-spam on missing queue or task.
	client.DisarmStepWindow(uuid.New())
	client.DisarmSLATimers(uuid.New(), domain.SLAAccept)
}

func TestSLATimersKeyedPerKindAndPhase(t *testing.T) {
	client, inspector := newTestClient(t)
	jobID := uuid.New()
	fireAt := time.Now().Add(time.Hour)

	client.ArmSLATimer(jobID, domain.SLAAccept, domain.PhaseWarning, fireAt)
	client.ArmSLATimer(jobID, domain.SLAAccept, domain.PhaseBreach, fireAt)
	client.ArmSLATimer(jobID, domain.SLASchedule, domain.PhaseWarning, fireAt)
	client.ArmSLATimer(jobID, domain.SLASchedule, domain.PhaseBreach, fireAt)

	if ids := scheduledTaskIDs(t, inspector); len(ids) != 4 {
		t.Fatalf("scheduled tasks = %d, want 4", len(ids))
	}

	client.DisarmSLATimers(jobID, domain.SLAAccept)

	ids := scheduledTaskIDs(t, inspector)
	if len(ids) != 2 {
		t.Fatalf("scheduled tasks after disarm = %d, want 2", len(ids))
	}
	if !ids[slaTaskID(jobID.String(), "schedule", "warning")] || !ids[slaTaskID(jobID.String(), "schedule", "breach")] {
		t.Errorf("schedule timers should survive accept disarm, have %v", ids)
	}
}

func TestSLADeadlinePayloadRoundTrip(t *testing.T) {
	jobID := uuid.New()
	task, err := NewSLADeadlineTask(SLADeadlinePayload{
		JobID: jobID.String(),
		Kind:  string(domain.SLASchedule),
		Phase: string(domain.PhaseBreach),
	})
	if err != nil {
		t.Fatalf("NewSLADeadlineTask: %v", err)
	}

	payload, err := ParseSLADeadlinePayload(task)
	if err != nil {
		t.Fatalf("ParseSLADeadlinePayload: %v", err)
	}
	if payload.JobID != jobID.String() || payload.Kind != "schedule" || payload.Phase != "breach" {
		t.Errorf("payload = %+v", payload)
	}
}
