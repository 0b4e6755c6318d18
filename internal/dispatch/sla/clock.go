// Package sla tracks the accept and schedule deadlines for each job. The
// clock is deliberately decoupled from the dispatch step timers: one SLA
// window can span several short escalation steps. Breaches are advisory
// telemetry for operator tooling and never force a status change.
package sla

import (
	"context"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/platform/apperr"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

// maxWarningLead caps how early a warning fires before its deadline. Short
// windows warn at 70% elapsed instead.
const maxWarningLead = 30 * time.Minute

// Store is the persistence the clock needs: reading jobs and flipping the
// advisory breach flags.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	MarkSLABreached(ctx context.Context, jobID uuid.UUID, kind domain.SLAKind) error
}

// Clock arms per-job SLA timers and reacts to their deadlines.
type Clock struct {
	store  Store
	timers ports.Timers
	bus    events.Bus
	log    *logger.Logger

	now func() time.Time
}

// New creates an SLA clock.
func New(store Store, timers ports.Timers, bus events.Bus, log *logger.Logger) *Clock {
	return &Clock{store: store, timers: timers, bus: bus, log: log, now: time.Now}
}

// StartAccept sets the job's accept deadline from its resolved policy
// snapshot and arms the warning and breach timers.
func (c *Clock) StartAccept(ctx context.Context, job *domain.Job) {
	if job.DispatchContext == nil || job.DispatchContext.AcceptWindowMins <= 0 {
		return
	}
	window := time.Duration(job.DispatchContext.AcceptWindowMins) * time.Minute
	deadline := c.now().Add(window)
	job.SLAAcceptDeadline = &deadline
	c.arm(job.ID, domain.SLAAccept, deadline, window)
}

// Accepted stops the accept clock and starts the schedule one.
func (c *Clock) Accepted(ctx context.Context, job *domain.Job) {
	c.timers.DisarmSLATimers(job.ID, domain.SLAAccept)
	if job.DispatchContext == nil || job.DispatchContext.ScheduleSLAHours <= 0 {
		return
	}
	window := time.Duration(job.DispatchContext.ScheduleSLAHours) * time.Hour
	deadline := c.now().Add(window)
	job.SLAScheduleDeadline = &deadline
	c.arm(job.ID, domain.SLASchedule, deadline, window)
}

// Stop disarms every SLA timer for the job.
func (c *Clock) Stop(jobID uuid.UUID) {
	c.timers.DisarmSLATimers(jobID, domain.SLAAccept)
	c.timers.DisarmSLATimers(jobID, domain.SLASchedule)
}

func (c *Clock) arm(jobID uuid.UUID, kind domain.SLAKind, deadline time.Time, window time.Duration) {
	c.timers.ArmSLATimer(jobID, kind, domain.PhaseWarning, deadline.Add(-warningLead(window)))
	c.timers.ArmSLATimer(jobID, kind, domain.PhaseBreach, deadline)
}

// warningLead returns how long before the deadline the warning fires: 30% of
// the window, capped at maxWarningLead.
func warningLead(window time.Duration) time.Duration {
	lead := window * 3 / 10
	if lead > maxWarningLead {
		return maxWarningLead
	}
	return lead
}

// HandleDeadline processes one SLA timer fire. Stale fires for jobs that
// already made the transition being measured are discarded.
func (c *Clock) HandleDeadline(ctx context.Context, jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}

	deadline, window, pending := c.deadlineState(job, kind)
	if !pending || deadline == nil {
		c.log.WithContext(ctx).SLAEvent("stale_sla_fire_discarded", job.ID.String(), 0)
		return nil
	}

	pct := pctElapsed(c.now(), *deadline, window)

	switch phase {
	case domain.PhaseWarning:
		c.bus.Publish(ctx, events.JobSLAWarning{
			BaseEvent:  events.NewBaseEvent(),
			JobID:      job.ID,
			Reference:  job.Reference,
			Deadline:   string(kind),
			DeadlineAt: *deadline,
			PctElapsed: pct,
		})
		c.log.WithContext(ctx).SLAEvent("sla_warning", job.ID.String(), pct)
	case domain.PhaseBreach:
		if err := c.store.MarkSLABreached(ctx, job.ID, kind); err != nil {
			return err
		}
		c.bus.Publish(ctx, events.JobSLABreach{
			BaseEvent:  events.NewBaseEvent(),
			JobID:      job.ID,
			Reference:  job.Reference,
			Deadline:   string(kind),
			DeadlineAt: *deadline,
			PctElapsed: pct,
		})
		c.log.WithContext(ctx).SLAEvent("sla_breach", job.ID.String(), pct)
	}
	return nil
}

// deadlineState reports whether the transition the kind measures is still
// pending, plus the deadline and window to measure against.
func (c *Clock) deadlineState(job *domain.Job, kind domain.SLAKind) (*time.Time, time.Duration, bool) {
	if job.DispatchContext == nil {
		return nil, 0, false
	}
	switch kind {
	case domain.SLAAccept:
		window := time.Duration(job.DispatchContext.AcceptWindowMins) * time.Minute
		return job.SLAAcceptDeadline, window, job.Status == domain.StatusDispatched
	case domain.SLASchedule:
		window := time.Duration(job.DispatchContext.ScheduleSLAHours) * time.Hour
		return job.SLAScheduleDeadline, window, job.Status == domain.StatusAccepted
	}
	return nil, 0, false
}

func pctElapsed(now, deadline time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 100
	}
	elapsed := window - deadline.Sub(now)
	pct := float64(elapsed) / float64(window) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
