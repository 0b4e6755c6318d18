// Package service provides job intake and operator queue reads. Everything
// that mutates an in-flight dispatch process goes through the engine instead.
package service

import (
	"context"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/repository"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/platform/apperr"
	"tradedispatch_backend/platform/geo"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence surface for intake and queue reads.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	ListJobs(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, error)
	NextReference(ctx context.Context, year int) (string, error)
}

// Service handles job intake and queue listings.
type Service struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
}

// New creates the intake service.
func New(store Store, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, bus: bus, log: log, now: time.Now}
}

// CreateJobInput carries the intake fields for a new job.
type CreateJobInput struct {
	ServiceCategory string
	Urgency         domain.UrgencyTier
	Lat             float64
	Lng             float64
	Address         string
	RegionID        *uuid.UUID
	OrganizationID  *uuid.UUID
}

// Create registers a new job in DRAFT. Dispatch does not start until the
// engine's StartDispatch is called for it.
func (s *Service) Create(ctx context.Context, input CreateJobInput) (*domain.Job, error) {
	if input.Lat < -90 || input.Lat > 90 || input.Lng < -180 || input.Lng > 180 {
		return nil, apperr.Validation("job location out of range")
	}
	switch input.Urgency {
	case domain.UrgencyStandard, domain.UrgencyUrgent, domain.UrgencyEmergency:
	case "":
		input.Urgency = domain.UrgencyStandard
	default:
		return nil, apperr.Validation("unknown urgency tier: " + string(input.Urgency))
	}

	now := s.now()
	reference, err := s.store.NextReference(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:              uuid.New(),
		Reference:       reference,
		Status:          domain.StatusDraft,
		Urgency:         input.Urgency,
		ServiceCategory: input.ServiceCategory,
		RegionID:        input.RegionID,
		OrganizationID:  input.OrganizationID,
		Location:        geo.Point{Lat: input.Lat, Lng: input.Lng},
		Address:         input.Address,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.QueueRefresh{
		BaseEvent: events.NewBaseEvent(),
		JobID:     job.ID,
		Reference: job.Reference,
		Status:    string(job.Status),
	})
	s.log.WithContext(ctx).Info("job created", "jobId", job.ID, "reference", job.Reference)
	return job, nil
}

// QueueFilter narrows the operator queue listing.
type QueueFilter struct {
	Status    *domain.JobStatus
	Escalated *bool
	Limit     int
	Offset    int
}

// ListQueue returns jobs for the operator queue view.
func (s *Service) ListQueue(ctx context.Context, filter QueueFilter) ([]*domain.Job, error) {
	return s.store.ListJobs(ctx, repository.JobFilter{
		Status:    filter.Status,
		Escalated: filter.Escalated,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}
