package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TaskStepWindowExpiry = "dispatch.window.expiry"

const TaskSLADeadline = "dispatch.sla.deadline"

type StepWindowExpiryPayload struct {
	JobID     string    `json:"jobId"`
	StepIndex int       `json:"stepIndex"`
	OpenedAt  time.Time `json:"openedAt"`
}

type SLADeadlinePayload struct {
	JobID string `json:"jobId"`
	Kind  string `json:"kind"`
	Phase string `json:"phase"`
}

func NewStepWindowExpiryTask(payload StepWindowExpiryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStepWindowExpiry, data), nil
}

func ParseStepWindowExpiryPayload(task *asynq.Task) (StepWindowExpiryPayload, error) {
	var payload StepWindowExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StepWindowExpiryPayload{}, err
	}
	return payload, nil
}

func NewSLADeadlineTask(payload SLADeadlinePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLADeadline, data), nil
}

func ParseSLADeadlinePayload(task *asynq.Task) (SLADeadlinePayload, error) {
	var payload SLADeadlinePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SLADeadlinePayload{}, err
	}
	return payload, nil
}

// Task IDs make arm/disarm idempotent: at most one pending task exists per
// window or per (job, kind, phase) deadline.
func stepWindowTaskID(jobID string) string {
	return fmt.Sprintf("dispatch:window:%s", jobID)
}

func slaTaskID(jobID, kind, phase string) string {
	return fmt.Sprintf("dispatch:sla:%s:%s:%s", jobID, kind, phase)
}
