// Package domain provides core business rules for the dispatch bounded context.
package domain

import (
	"time"

	"tradedispatch_backend/platform/geo"

	"github.com/google/uuid"
)

// JobStatus enumerates the dispatch-relevant lifecycle of a job.
type JobStatus string

const (
	StatusDraft      JobStatus = "DRAFT"
	StatusDispatched JobStatus = "DISPATCHED"
	StatusAccepted   JobStatus = "ACCEPTED"
	StatusScheduled  JobStatus = "SCHEDULED"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusCancelled  JobStatus = "CANCELLED"
)

// UrgencyTier classifies how quickly a job needs a professional.
type UrgencyTier string

const (
	UrgencyStandard  UrgencyTier = "STANDARD"
	UrgencyUrgent    UrgencyTier = "URGENT"
	UrgencyEmergency UrgencyTier = "EMERGENCY"
)

// legalTransitions is the authoritative state machine. Statuses absent from
// the map are terminal.
var legalTransitions = map[JobStatus][]JobStatus{
	StatusDraft:      {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusScheduled, StatusCancelled},
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions may occur.
func IsTerminal(status JobStatus) bool {
	return len(legalTransitions[status]) == 0
}

// Job is one unit of requested work. The dispatch engine is the sole writer
// of status and escalation fields; location and category are immutable after
// creation from this engine's perspective.
type Job struct {
	ID                     uuid.UUID
	Reference              string // human-facing, e.g. JOB-2026-0041
	Status                 JobStatus
	Urgency                UrgencyTier
	ServiceCategory        string
	RegionID               *uuid.UUID
	OrganizationID         *uuid.UUID
	Location               geo.Point
	Address                string
	AssignedProfessionalID *uuid.UUID
	EscalationStepIndex    int
	StepOpenedAt           *time.Time
	Escalated              bool
	SLAAcceptDeadline      *time.Time
	SLAScheduleDeadline    *time.Time
	SLAAcceptBreached      bool
	SLAScheduleBreached    bool
	DispatchContext        *DispatchContext
	CreatedAt              time.Time
	UpdatedAt              time.Time

	// Version backs optimistic concurrency on the job row. Every authoritative
	// transition increments it; writers must supply the version they read.
	Version int64
}

// DispatchContext is the policy snapshot resolved once at dispatch start and
// held for the life of the dispatch process. Re-resolving mid-flight is
// disallowed so a policy change never shifts an in-flight escalation.
type DispatchContext struct {
	Steps            []EscalationStep `json:"steps"`
	AcceptWindowMins int              `json:"acceptWindowMins"`
	ScheduleSLAHours int              `json:"scheduleSlaHours"`
	MaxAttempts      int              `json:"maxAttempts"`
	SearchRadiusKm   float64          `json:"searchRadiusKm"`
	MaxCandidates    int              `json:"maxCandidates"`
	RankedCandidates []uuid.UUID      `json:"rankedCandidates"`
	ResolvedAt       time.Time        `json:"resolvedAt"`
}

// StepWindow returns the acceptance window for the given step. A step's
// AfterMinutes overrides the resolved default when set.
func (c *DispatchContext) StepWindow(stepIndex int) time.Duration {
	if stepIndex >= 0 && stepIndex < len(c.Steps) && c.Steps[stepIndex].AfterMinutes > 0 {
		return time.Duration(c.Steps[stepIndex].AfterMinutes) * time.Minute
	}
	return time.Duration(c.AcceptWindowMins) * time.Minute
}
