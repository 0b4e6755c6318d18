package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the lifecycle of one offer to one professional.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptAccepted  AttemptStatus = "ACCEPTED"
	AttemptDeclined  AttemptStatus = "DECLINED"
	AttemptTimeout   AttemptStatus = "TIMEOUT"
	AttemptCancelled AttemptStatus = "CANCELLED"
)

// IsTerminalAttempt reports whether an attempt can no longer change status.
func IsTerminalAttempt(status AttemptStatus) bool {
	return status != AttemptPending
}

// DispatchAttempt is one offer of a job to one candidate professional.
// At most one attempt per (job, professional) pair may be PENDING at a time,
// and a job has at most one ACCEPTED attempt ever.
type DispatchAttempt struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	ProfessionalID uuid.UUID
	StepIndex      int
	Status         AttemptStatus
	DeclineReason  *string
	CreatedAt      time.Time
	RespondedAt    *time.Time
}
