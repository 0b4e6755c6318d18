package transport

import (
	"time"

	"tradedispatch_backend/internal/dispatch/domain"

	"github.com/google/uuid"
)

// Request DTOs

type CreateJobRequest struct {
	ServiceCategory string     `json:"serviceCategory" validate:"required,min=2,max=100"`
	Urgency         string     `json:"urgency,omitempty" validate:"omitempty,oneof=STANDARD URGENT EMERGENCY"`
	Lat             float64    `json:"lat" validate:"min=-90,max=90"`
	Lng             float64    `json:"lng" validate:"min=-180,max=180"`
	Address         string     `json:"address" validate:"required,min=5,max=300"`
	RegionID        *uuid.UUID `json:"regionId,omitempty"`
	OrganizationID  *uuid.UUID `json:"organizationId,omitempty"`
}

type RespondRequest struct {
	Action string  `json:"action" validate:"required,oneof=ACCEPT DECLINE"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type OverrideRequest struct {
	Action          string `json:"action" validate:"required,oneof=RESOLVE REASSIGN CANCEL ESCALATE_FURTHER"`
	Note            string `json:"note,omitempty" validate:"omitempty,max=1000"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// Response DTOs

type JobResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Reference              string     `json:"reference"`
	Status                 string     `json:"status"`
	Urgency                string     `json:"urgency"`
	ServiceCategory        string     `json:"serviceCategory"`
	Lat                    float64    `json:"lat"`
	Lng                    float64    `json:"lng"`
	Address                string     `json:"address"`
	AssignedProfessionalID *uuid.UUID `json:"assignedProfessionalId,omitempty"`
	EscalationStepIndex    int        `json:"escalationStepIndex"`
	StepOpenedAt           *time.Time `json:"stepOpenedAt,omitempty"`
	Escalated              bool       `json:"escalated"`
	SLAAcceptDeadline      *time.Time `json:"slaAcceptDeadline,omitempty"`
	SLAScheduleDeadline    *time.Time `json:"slaScheduleDeadline,omitempty"`
	SLAAcceptBreached      bool       `json:"slaAcceptBreached"`
	SLAScheduleBreached    bool       `json:"slaScheduleBreached"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
	Version                int64      `json:"version"`
}

type AttemptResponse struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"jobId"`
	ProfessionalID uuid.UUID  `json:"professionalId"`
	StepIndex      int        `json:"stepIndex"`
	Status         string     `json:"status"`
	DeclineReason  *string    `json:"declineReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	RespondedAt    *time.Time `json:"respondedAt,omitempty"`
}

func ToJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:                     job.ID,
		Reference:              job.Reference,
		Status:                 string(job.Status),
		Urgency:                string(job.Urgency),
		ServiceCategory:        job.ServiceCategory,
		Lat:                    job.Location.Lat,
		Lng:                    job.Location.Lng,
		Address:                job.Address,
		AssignedProfessionalID: job.AssignedProfessionalID,
		EscalationStepIndex:    job.EscalationStepIndex,
		StepOpenedAt:           job.StepOpenedAt,
		Escalated:              job.Escalated,
		SLAAcceptDeadline:      job.SLAAcceptDeadline,
		SLAScheduleDeadline:    job.SLAScheduleDeadline,
		SLAAcceptBreached:      job.SLAAcceptBreached,
		SLAScheduleBreached:    job.SLAScheduleBreached,
		CreatedAt:              job.CreatedAt,
		UpdatedAt:              job.UpdatedAt,
		Version:                job.Version,
	}
}

func ToJobResponses(jobs []*domain.Job) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = ToJobResponse(job)
	}
	return out
}

func ToAttemptResponse(attempt *domain.DispatchAttempt) AttemptResponse {
	return AttemptResponse{
		ID:             attempt.ID,
		JobID:          attempt.JobID,
		ProfessionalID: attempt.ProfessionalID,
		StepIndex:      attempt.StepIndex,
		Status:         string(attempt.Status),
		DeclineReason:  attempt.DeclineReason,
		CreatedAt:      attempt.CreatedAt,
		RespondedAt:    attempt.RespondedAt,
	}
}

func ToAttemptResponses(attempts []*domain.DispatchAttempt) []AttemptResponse {
	out := make([]AttemptResponse, len(attempts))
	for i, attempt := range attempts {
		out[i] = ToAttemptResponse(attempt)
	}
	return out
}
