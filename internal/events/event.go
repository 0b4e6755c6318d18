// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"tradedispatch_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// Event names double as the real-time topics relayed to subscribed clients.
const (
	TopicDispatchAttempt  = "dispatch:attempt"
	TopicDispatchResponse = "dispatch:response"
	TopicJobEscalated     = "job:escalated"
	TopicJobSLAWarning    = "job:sla_warning"
	TopicJobSLABreach     = "job:sla_breach"
	TopicQueueRefresh     = "queue:refresh"
)

// DispatchAttemptCreated is published when a job is offered to a professional.
type DispatchAttemptCreated struct {
	BaseEvent
	JobID          uuid.UUID `json:"jobId"`
	Reference      string    `json:"reference"`
	AttemptID      uuid.UUID `json:"attemptId"`
	ProfessionalID uuid.UUID `json:"professionalId"`
	StepIndex      int       `json:"stepIndex"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (e DispatchAttemptCreated) EventName() string { return TopicDispatchAttempt }

// DispatchResponseRecorded is published when a professional accepts or
// declines an attempt, or an attempt expires or is withdrawn.
type DispatchResponseRecorded struct {
	BaseEvent
	JobID          uuid.UUID `json:"jobId"`
	Reference      string    `json:"reference"`
	AttemptID      uuid.UUID `json:"attemptId"`
	ProfessionalID uuid.UUID `json:"professionalId"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
}

func (e DispatchResponseRecorded) EventName() string { return TopicDispatchResponse }

// JobEscalated is published when a job escalates to a further step or an
// alert action fires.
type JobEscalated struct {
	BaseEvent
	JobID       uuid.UUID `json:"jobId"`
	Reference   string    `json:"reference"`
	StepIndex   int       `json:"stepIndex"`
	Action      string    `json:"action"`
	NotifyRoles []string  `json:"notifyRoles,omitempty"`
	Note        string    `json:"note,omitempty"`
}

func (e JobEscalated) EventName() string { return TopicJobEscalated }

// JobSLAWarning is published when an SLA deadline is approaching.
type JobSLAWarning struct {
	BaseEvent
	JobID      uuid.UUID `json:"jobId"`
	Reference  string    `json:"reference"`
	Deadline   string    `json:"deadline"` // "accept" or "schedule"
	DeadlineAt time.Time `json:"deadlineAt"`
	PctElapsed float64   `json:"pctElapsed"`
}

func (e JobSLAWarning) EventName() string { return TopicJobSLAWarning }

// JobSLABreach is published when an SLA deadline passes without the
// corresponding transition. Advisory only; it never forces a status change.
type JobSLABreach struct {
	BaseEvent
	JobID      uuid.UUID `json:"jobId"`
	Reference  string    `json:"reference"`
	Deadline   string    `json:"deadline"`
	DeadlineAt time.Time `json:"deadlineAt"`
	PctElapsed float64   `json:"pctElapsed"`
}

func (e JobSLABreach) EventName() string { return TopicJobSLABreach }

// QueueRefresh is published after every authoritative job transition so
// operator queue views can re-fetch.
type QueueRefresh struct {
	BaseEvent
	JobID     uuid.UUID `json:"jobId"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
}

func (e QueueRefresh) EventName() string { return TopicQueueRefresh }
