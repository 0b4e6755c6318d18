// Package engine is the dispatch sequencer and escalation state machine. It
// is the sole writer of job state transitions: professional responses, timer
// expiries and operator overrides all funnel through it and are serialized
// per job, so the visible status sequence always respects the legal
// transition table.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/dispatch/selector"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/internal/policy"
	"tradedispatch_backend/platform/apperr"
	"tradedispatch_backend/platform/geo"
	"tradedispatch_backend/platform/logger"
	"tradedispatch_backend/platform/retry"

	"github.com/google/uuid"
)

const (
	downstreamRetries   = 3
	downstreamBaseDelay = 200 * time.Millisecond
)

var (
	errPoolExhausted  = errors.New("no remaining eligible candidates")
	errAttemptCeiling = errors.New("maximum dispatch attempts reached")
)

// Store is the persistence surface the engine drives. Implemented by
// internal/dispatch/repository; tests supply an in-memory fake.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	OpenStep(ctx context.Context, job *domain.Job, attempts []*domain.DispatchAttempt) error
	CloseStep(ctx context.Context, job *domain.Job, to domain.AttemptStatus) ([]*domain.DispatchAttempt, error)
	AcceptStep(ctx context.Context, job *domain.Job, attemptID uuid.UUID) ([]*domain.DispatchAttempt, bool, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*domain.DispatchAttempt, error)
	ListAttempts(ctx context.Context, jobID uuid.UUID) ([]*domain.DispatchAttempt, error)
	MarkAttempt(ctx context.Context, id uuid.UUID, from, to domain.AttemptStatus, reason *string) (bool, error)
}

// CandidateSelector ranks eligible professionals for one job.
type CandidateSelector interface {
	Select(ctx context.Context, category string, center geo.Point, radiusKm float64, maxCandidates int, excludeIDs []uuid.UUID) (selector.Result, error)
}

// PolicyResolver resolves dispatch configuration through the scope chain.
type PolicyResolver interface {
	Resolve(ctx context.Context, key string, chain []policy.Scope) (string, error)
	ResolveInt(ctx context.Context, key string, chain []policy.Scope) (int, error)
	ResolveFloat(ctx context.Context, key string, chain []policy.Scope) (float64, error)
}

// SLAClock tracks the accept and schedule deadlines alongside (but decoupled
// from) the step-window timers.
type SLAClock interface {
	// StartAccept sets the job's accept deadline and arms its timers.
	StartAccept(ctx context.Context, job *domain.Job)
	// Accepted stops the accept clock, sets the schedule deadline and arms
	// its timers.
	Accepted(ctx context.Context, job *domain.Job)
	// Stop disarms every SLA timer for the job.
	Stop(jobID uuid.UUID)
}

// OverrideAction is an operator command against an escalated job.
type OverrideAction string

const (
	OverrideResolve         OverrideAction = "RESOLVE"
	OverrideReassign        OverrideAction = "REASSIGN"
	OverrideCancel          OverrideAction = "CANCEL"
	OverrideEscalateFurther OverrideAction = "ESCALATE_FURTHER"
)

// ParseOverrideAction validates an operator-supplied action string.
func ParseOverrideAction(raw string) (OverrideAction, error) {
	switch OverrideAction(raw) {
	case OverrideResolve, OverrideReassign, OverrideCancel, OverrideEscalateFurther:
		return OverrideAction(raw), nil
	default:
		return "", apperr.Validation("unknown override action: " + raw)
	}
}

// Engine coordinates dispatch for the whole job population. Jobs are
// independent; commands for the same job are serialized by a per-job lock
// plus an optimistic version check on the job record.
type Engine struct {
	store    Store
	selector CandidateSelector
	policies PolicyResolver
	timers   ports.Timers
	sla      SLAClock
	notifier ports.Notifier
	bus      events.Bus
	log      *logger.Logger

	locks keyedMutex
	now   func() time.Time
}

// New creates the dispatch engine.
func New(store Store, sel CandidateSelector, policies PolicyResolver, timers ports.Timers, sla SLAClock, notifier ports.Notifier, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		selector: sel,
		policies: policies,
		timers:   timers,
		sla:      sla,
		notifier: notifier,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// GetJob returns one job.
func (e *Engine) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// ListAttempts returns the job's dispatch attempts, oldest first.
func (e *Engine) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]*domain.DispatchAttempt, error) {
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.store.ListAttempts(ctx, jobID)
}

// StartDispatch resolves the job's policy snapshot, ranks the candidate
// pool, opens the first escalation step and starts the accept clock. The
// snapshot is resolved exactly once: the step ladder never changes mid-flight
// even if policy settings do.
func (e *Engine) StartDispatch(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	unlock := e.locks.lock(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status == domain.StatusDraft:
	case job.Status == domain.StatusDispatched && job.DispatchContext == nil:
		// Recovery path: a previous start failed before the snapshot write.
	default:
		return nil, apperr.Conflict("dispatch already started for job " + job.Reference)
	}

	snapshot, err := e.resolveSnapshot(ctx, job)
	if err != nil {
		// The job stays in DRAFT; operators intervene.
		e.alertRoles(ctx, defaultAlertRoles(domain.ActionOperatorAlert), job, "dispatch blocked: policy resolution failed")
		return nil, err
	}

	result, err := e.selectCandidates(ctx, job, snapshot, nil)
	if err != nil {
		return nil, err
	}
	snapshot.RankedCandidates = result.IDs()

	job.DispatchContext = snapshot
	job.Status = domain.StatusDispatched
	job.EscalationStepIndex = 0
	e.sla.StartAccept(ctx, job)

	if result.Empty() {
		e.escalateAlert(ctx, job, domain.ActionOperatorAlert, nil, "no eligible candidates in range")
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
	} else {
		if err := e.openCurrentStep(ctx, job); err != nil {
			return nil, err
		}
	}

	e.publishQueueRefresh(ctx, job)
	e.log.WithContext(ctx).DispatchEvent("dispatch_started", job.ID.String(), job.EscalationStepIndex)
	return job, nil
}

// RecordResponse applies a professional's accept or decline for one attempt.
// Acceptance is first-wins: the winning attempt assigns the job and every
// sibling PENDING attempt is withdrawn; a second accept surfaces as a
// conflict. Repeating an already-applied response is idempotent.
func (e *Engine) RecordResponse(ctx context.Context, attemptID, professionalID uuid.UUID, accept bool, declineReason *string) (*domain.Job, error) {
	attempt, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.ProfessionalID != professionalID {
		return nil, apperr.Forbidden("attempt belongs to another professional")
	}

	unlock := e.locks.lock(attempt.JobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, attempt.JobID)
	if err != nil {
		return nil, err
	}
	// Re-read under the lock; a sibling's acceptance may have closed it.
	attempt, err = e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if accept {
		return e.applyAccept(ctx, job, attempt, professionalID)
	}
	return e.applyDecline(ctx, job, attempt, declineReason)
}

func (e *Engine) applyAccept(ctx context.Context, job *domain.Job, attempt *domain.DispatchAttempt, professionalID uuid.UUID) (*domain.Job, error) {
	if attempt.Status == domain.AttemptAccepted &&
		job.AssignedProfessionalID != nil && *job.AssignedProfessionalID == professionalID {
		return job, nil
	}
	if job.Status != domain.StatusDispatched {
		return nil, apperr.Conflict("job is no longer accepting responses")
	}

	job.Status = domain.StatusAccepted
	job.AssignedProfessionalID = &professionalID
	e.sla.Accepted(ctx, job)

	// The attempt mark, the sibling withdrawal and the job write commit
	// together; a failure here leaves the step fully open.
	withdrawn, ok, err := e.store.AcceptStep(ctx, job, attempt.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("offer is no longer available")
	}

	attempt.Status = domain.AttemptAccepted
	e.timers.DisarmStepWindow(job.ID)
	for _, sibling := range withdrawn {
		e.notifyProfessional(ctx, sibling.ProfessionalID, ports.TemplateOfferWithdrawn, map[string]interface{}{
			"jobReference": job.Reference,
			"reason":       "accepted by another professional",
		})
		e.publishResponse(ctx, job, sibling, "")
	}

	e.publishResponse(ctx, job, attempt, "")
	e.publishQueueRefresh(ctx, job)
	e.log.WithContext(ctx).DispatchEvent("attempt_accepted", job.ID.String(), job.EscalationStepIndex)
	return job, nil
}

func (e *Engine) applyDecline(ctx context.Context, job *domain.Job, attempt *domain.DispatchAttempt, reason *string) (*domain.Job, error) {
	ok, err := e.store.MarkAttempt(ctx, attempt.ID, domain.AttemptPending, domain.AttemptDeclined, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		if attempt.Status == domain.AttemptDeclined {
			return job, nil
		}
		return nil, apperr.Conflict("offer is no longer open")
	}
	attempt.Status = domain.AttemptDeclined
	attempt.DeclineReason = reason

	note := ""
	if reason != nil {
		note = *reason
	}
	e.publishResponse(ctx, job, attempt, note)
	e.log.WithContext(ctx).DispatchEvent("attempt_declined", job.ID.String(), job.EscalationStepIndex)

	if job.Status != domain.StatusDispatched {
		return job, nil
	}

	// When the whole step is terminal there is nothing left to wait for:
	// advance immediately rather than letting the window run out.
	open, err := e.stepHasOpenAttempts(ctx, job)
	if err != nil {
		return nil, err
	}
	if !open {
		e.timers.DisarmStepWindow(job.ID)
		if err := e.advance(ctx, job); err != nil {
			return nil, err
		}
		e.publishQueueRefresh(ctx, job)
	}
	return job, nil
}

// HandleWindowExpiry processes a step acceptance window running out. Stale
// fires are detected and discarded: the job already accepted, cancelled or
// moved to another step, or the step was reopened at the same index (a
// reassign does this) so the opening the timer was armed for no longer
// exists.
func (e *Engine) HandleWindowExpiry(ctx context.Context, jobID uuid.UUID, stepIndex int, openedAt time.Time) error {
	unlock := e.locks.lock(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if job.Status != domain.StatusDispatched || job.DispatchContext == nil || job.EscalationStepIndex != stepIndex ||
		job.StepOpenedAt == nil || !job.StepOpenedAt.Equal(openedAt) {
		e.log.WithContext(ctx).DispatchEvent("stale_window_expiry_discarded", job.ID.String(), stepIndex)
		return nil
	}

	timedOut, err := e.store.CloseStep(ctx, job, domain.AttemptTimeout)
	if err != nil {
		return err
	}
	for _, attempt := range timedOut {
		e.publishResponse(ctx, job, attempt, "")
	}
	e.log.WithContext(ctx).DispatchEvent("step_window_expired", job.ID.String(), stepIndex)

	if err := e.advance(ctx, job); err != nil {
		return err
	}
	e.publishQueueRefresh(ctx, job)
	return nil
}

// Cancel terminates the dispatch process: all PENDING attempts become
// CANCELLED atomically with the status write, and every timer is disarmed so
// no later fire can act on the job.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID, reason string) (*domain.Job, error) {
	unlock := e.locks.lock(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return e.cancelLocked(ctx, job, reason)
}

func (e *Engine) cancelLocked(ctx context.Context, job *domain.Job, reason string) (*domain.Job, error) {
	if !domain.CanTransition(job.Status, domain.StatusCancelled) {
		return nil, apperr.Conflict("job " + job.Reference + " cannot be cancelled from " + string(job.Status))
	}

	e.timers.DisarmStepWindow(job.ID)
	e.sla.Stop(job.ID)

	job.Status = domain.StatusCancelled
	cancelled, err := e.store.CloseStep(ctx, job, domain.AttemptCancelled)
	if err != nil {
		return nil, err
	}
	for _, attempt := range cancelled {
		e.notifyProfessional(ctx, attempt.ProfessionalID, ports.TemplateOfferWithdrawn, map[string]interface{}{
			"jobReference": job.Reference,
			"reason":       "job cancelled",
		})
		e.publishResponse(ctx, job, attempt, reason)
	}

	e.publishQueueRefresh(ctx, job)
	e.log.WithContext(ctx).DispatchEvent("job_cancelled", job.ID.String(), job.EscalationStepIndex)
	return job, nil
}

// OverrideEscalation applies an operator command. expectedVersion guards
// against acting on a stale read: when non-zero and different from the
// job's current version the command is rejected as a conflict, safe to
// retry after a fresh read.
func (e *Engine) OverrideEscalation(ctx context.Context, jobID uuid.UUID, action OverrideAction, note string, expectedVersion int64) (*domain.Job, error) {
	unlock := e.locks.lock(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && job.Version != expectedVersion {
		return nil, apperr.Conflict("job was modified since last read")
	}

	switch action {
	case OverrideResolve:
		job.Escalated = false
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
	case OverrideCancel:
		return e.cancelLocked(ctx, job, note)
	case OverrideEscalateFurther:
		e.escalateAlert(ctx, job, domain.ActionManagerAlert, nil, note)
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
	case OverrideReassign:
		if err := e.reassign(ctx, job, note); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Validation("unknown override action: " + string(action))
	}

	e.publishQueueRefresh(ctx, job)
	e.log.WithContext(ctx).DispatchEvent("override_"+string(action), job.ID.String(), job.EscalationStepIndex)
	return job, nil
}

// reassign withdraws the open offers, runs a fresh selector pass excluding
// everyone already offered, and reopens the current step with the new pool.
// The step index does not advance: this is an out-of-sequence restart.
func (e *Engine) reassign(ctx context.Context, job *domain.Job, note string) error {
	if job.Status != domain.StatusDispatched || job.DispatchContext == nil {
		return apperr.Conflict("job is not in an active dispatch process")
	}

	e.timers.DisarmStepWindow(job.ID)
	withdrawn, err := e.store.CloseStep(ctx, job, domain.AttemptCancelled)
	if err != nil {
		return err
	}
	for _, attempt := range withdrawn {
		e.notifyProfessional(ctx, attempt.ProfessionalID, ports.TemplateOfferWithdrawn, map[string]interface{}{
			"jobReference": job.Reference,
			"reason":       "reassigned by operator",
		})
		e.publishResponse(ctx, job, attempt, note)
	}

	offered, err := e.offeredProfessionals(ctx, job.ID)
	if err != nil {
		return err
	}
	result, err := e.selectCandidates(ctx, job, job.DispatchContext, offered)
	if err != nil {
		return err
	}
	job.DispatchContext.RankedCandidates = append(job.DispatchContext.RankedCandidates, result.IDs()...)

	if err := e.openStep(ctx, job); err != nil {
		if errors.Is(err, errPoolExhausted) || errors.Is(err, errAttemptCeiling) {
			e.escalateAlert(ctx, job, domain.ActionOperatorAlert, nil, err.Error())
			return e.store.UpdateJob(ctx, job)
		}
		return err
	}
	return nil
}

// advance moves the job to the next escalation step, or executes the
// degraded terminal action when the ladder is exhausted. The engine never
// cancels a job purely from dispatch exhaustion: it parks in DISPATCHED
// with escalated=true awaiting manual intervention.
func (e *Engine) advance(ctx context.Context, job *domain.Job) error {
	steps := job.DispatchContext.Steps
	next := job.EscalationStepIndex + 1

	if next >= len(steps) {
		e.escalateAlert(ctx, job, domain.ActionOperatorAlert, nil, "escalation steps exhausted")
		return e.store.UpdateJob(ctx, job)
	}

	job.EscalationStepIndex = next
	job.Escalated = true
	step := steps[next]

	e.publishEscalated(ctx, job, step.Action, step.NotifyRoles, "")
	e.log.WithContext(ctx).DispatchEvent("step_escalated", job.ID.String(), next)

	if step.Action.IsAlert() {
		e.alertRoles(ctx, alertRoles(step), job, "escalation step "+fmt.Sprint(next))
		if step.BatchSize == 0 {
			return e.store.UpdateJob(ctx, job)
		}
	}

	if step.Action == domain.ActionReassign {
		offered, err := e.offeredProfessionals(ctx, job.ID)
		if err != nil {
			return err
		}
		result, err := e.selectCandidates(ctx, job, job.DispatchContext, offered)
		if err != nil {
			return err
		}
		job.DispatchContext.RankedCandidates = append(job.DispatchContext.RankedCandidates, result.IDs()...)
	}

	return e.openCurrentStep(ctx, job)
}

// openCurrentStep opens the step at the job's current index, degrading to an
// operator alert when the pool or the attempt ceiling is exhausted.
func (e *Engine) openCurrentStep(ctx context.Context, job *domain.Job) error {
	err := e.openStep(ctx, job)
	if err == nil {
		return nil
	}
	if errors.Is(err, errPoolExhausted) || errors.Is(err, errAttemptCeiling) {
		e.escalateAlert(ctx, job, domain.ActionOperatorAlert, nil, err.Error())
		return e.store.UpdateJob(ctx, job)
	}
	return err
}

// openStep issues the current step's batch of PENDING attempts and arms the
// acceptance-window timer. The batch is drawn from the ranked snapshot,
// skipping professionals already offered, and truncated to stay under the
// hard attempt ceiling.
func (e *Engine) openStep(ctx context.Context, job *domain.Job) error {
	dc := job.DispatchContext
	step := dc.Steps[minInt(job.EscalationStepIndex, len(dc.Steps)-1)]

	history, err := e.store.ListAttempts(ctx, job.ID)
	if err != nil {
		return err
	}
	if dc.MaxAttempts > 0 && len(history) >= dc.MaxAttempts {
		return errAttemptCeiling
	}

	offered := make(map[uuid.UUID]bool, len(history))
	for _, attempt := range history {
		offered[attempt.ProfessionalID] = true
	}

	batchSize := step.BatchSize
	if dc.MaxAttempts > 0 && len(history)+batchSize > dc.MaxAttempts {
		batchSize = dc.MaxAttempts - len(history)
	}

	var batch []uuid.UUID
	for _, id := range dc.RankedCandidates {
		if offered[id] {
			continue
		}
		batch = append(batch, id)
		if len(batch) == batchSize {
			break
		}
	}
	if len(batch) == 0 {
		return errPoolExhausted
	}

	// Postgres keeps microseconds; truncate so the opening timestamp
	// compares equal after a round trip through the jobs row or a task
	// payload.
	now := e.now().Truncate(time.Microsecond)
	job.StepOpenedAt = &now
	attempts := make([]*domain.DispatchAttempt, len(batch))
	for i, professionalID := range batch {
		attempts[i] = &domain.DispatchAttempt{
			ID:             uuid.New(),
			JobID:          job.ID,
			ProfessionalID: professionalID,
			StepIndex:      job.EscalationStepIndex,
			Status:         domain.AttemptPending,
			CreatedAt:      now,
		}
	}

	if err := e.store.OpenStep(ctx, job, attempts); err != nil {
		return err
	}

	expiresAt := now.Add(dc.StepWindow(job.EscalationStepIndex))
	e.timers.ArmStepWindow(job.ID, job.EscalationStepIndex, now, expiresAt)

	delivered := 0
	for _, attempt := range attempts {
		if e.notifyProfessional(ctx, attempt.ProfessionalID, ports.TemplateDispatchOffer, map[string]interface{}{
			"jobReference": job.Reference,
			"address":      job.Address,
			"category":     job.ServiceCategory,
			"urgency":      string(job.Urgency),
			"expiresAt":    expiresAt,
		}) {
			delivered++
		}
		e.bus.Publish(ctx, events.DispatchAttemptCreated{
			BaseEvent:      events.NewBaseEvent(),
			JobID:          job.ID,
			Reference:      job.Reference,
			AttemptID:      attempt.ID,
			ProfessionalID: attempt.ProfessionalID,
			StepIndex:      attempt.StepIndex,
			ExpiresAt:      expiresAt,
		})
	}
	if delivered == 0 {
		// The offers still expire normally; operators get a heads-up that
		// nobody could be reached.
		e.escalateAlert(ctx, job, domain.ActionOperatorAlert, nil, "notification gateway unreachable for whole step")
		return e.store.UpdateJob(ctx, job)
	}

	e.log.WithContext(ctx).DispatchEvent("step_opened", job.ID.String(), job.EscalationStepIndex)
	return nil
}

// resolveSnapshot resolves every dispatch policy key through the job's scope
// chain into the immutable per-job snapshot. Resolver failures are retried
// with backoff; final failure blocks the dispatch start.
func (e *Engine) resolveSnapshot(ctx context.Context, job *domain.Job) (*domain.DispatchContext, error) {
	chain := e.scopeChain(job)
	var snapshot *domain.DispatchContext

	err := retry.Do(ctx, e.log, "resolve dispatch policy", downstreamRetries, downstreamBaseDelay, func() error {
		acceptMins, err := e.policies.ResolveInt(ctx, policy.KeySLAAcceptMinutes, chain)
		if err != nil {
			return err
		}
		scheduleHours, err := e.policies.ResolveInt(ctx, policy.KeySLAScheduleHours, chain)
		if err != nil {
			return err
		}
		rawSteps, err := e.policies.Resolve(ctx, policy.KeyEscalationSteps, chain)
		if err != nil {
			return err
		}
		steps, err := domain.ParseSteps(rawSteps)
		if err != nil {
			return err
		}
		maxAttempts, err := e.policies.ResolveInt(ctx, policy.KeyMaxAttempts, chain)
		if err != nil {
			return err
		}
		radiusKm, err := e.policies.ResolveFloat(ctx, policy.KeySearchRadiusKm, chain)
		if err != nil {
			return err
		}
		maxCandidates, err := e.policies.ResolveInt(ctx, policy.KeyMaxCandidates, chain)
		if err != nil {
			return err
		}

		snapshot = &domain.DispatchContext{
			Steps:            steps,
			AcceptWindowMins: acceptMins,
			ScheduleSLAHours: scheduleHours,
			MaxAttempts:      maxAttempts,
			SearchRadiusKm:   radiusKm,
			MaxCandidates:    maxCandidates,
			ResolvedAt:       e.now(),
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "dispatch policy resolution failed", err)
	}
	return snapshot, nil
}

func (e *Engine) selectCandidates(ctx context.Context, job *domain.Job, dc *domain.DispatchContext, excludeIDs []uuid.UUID) (selector.Result, error) {
	var result selector.Result
	err := retry.Do(ctx, e.log, "candidate selection", downstreamRetries, downstreamBaseDelay, func() error {
		var selectErr error
		result, selectErr = e.selector.Select(ctx, job.ServiceCategory, job.Location, dc.SearchRadiusKm, dc.MaxCandidates, excludeIDs)
		return selectErr
	})
	if err != nil {
		return selector.Result{}, apperr.Wrap(apperr.KindUnavailable, "candidate directory unreachable", err)
	}
	return result, nil
}

func (e *Engine) scopeChain(job *domain.Job) []policy.Scope {
	regionID, organizationID := "", ""
	if job.RegionID != nil {
		regionID = job.RegionID.String()
	}
	if job.OrganizationID != nil {
		organizationID = job.OrganizationID.String()
	}
	return policy.Chain(regionID, organizationID, job.ServiceCategory)
}

func (e *Engine) stepHasOpenAttempts(ctx context.Context, job *domain.Job) (bool, error) {
	attempts, err := e.store.ListAttempts(ctx, job.ID)
	if err != nil {
		return false, err
	}
	for _, attempt := range attempts {
		if attempt.StepIndex == job.EscalationStepIndex && attempt.Status == domain.AttemptPending {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) offeredProfessionals(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	attempts, err := e.store.ListAttempts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(attempts))
	ids := make([]uuid.UUID, 0, len(attempts))
	for _, attempt := range attempts {
		if !seen[attempt.ProfessionalID] {
			seen[attempt.ProfessionalID] = true
			ids = append(ids, attempt.ProfessionalID)
		}
	}
	return ids, nil
}

// escalateAlert sets the escalated flag, publishes the escalation event and
// notifies the alert roles. It mutates the job but does not persist it.
func (e *Engine) escalateAlert(ctx context.Context, job *domain.Job, action domain.EscalationAction, roles []string, note string) {
	job.Escalated = true
	if len(roles) == 0 {
		roles = defaultAlertRoles(action)
	}
	e.publishEscalated(ctx, job, action, roles, note)
	e.alertRoles(ctx, roles, job, note)
	e.log.WithContext(ctx).DispatchEvent("escalation_alert", job.ID.String(), job.EscalationStepIndex)
}

func (e *Engine) alertRoles(ctx context.Context, roles []string, job *domain.Job, note string) {
	err := retry.Do(ctx, e.log, "escalation alert", downstreamRetries, downstreamBaseDelay, func() error {
		return e.notifier.NotifyRoles(ctx, roles, ports.TemplateEscalationAlert, map[string]interface{}{
			"jobReference": job.Reference,
			"stepIndex":    job.EscalationStepIndex,
			"note":         note,
		})
	})
	if err != nil {
		e.log.WithContext(ctx).Error("escalation alert delivery failed", "jobId", job.ID.String(), "error", err)
	}
}

// notifyProfessional delivers best-effort and reports whether delivery
// succeeded. Failures never block the state transition.
func (e *Engine) notifyProfessional(ctx context.Context, professionalID uuid.UUID, template string, payload map[string]interface{}) bool {
	err := retry.Do(ctx, e.log, "professional notification", downstreamRetries, downstreamBaseDelay, func() error {
		return e.notifier.NotifyProfessional(ctx, professionalID, template, payload)
	})
	if err != nil {
		e.log.WithContext(ctx).Error("professional notification failed",
			"professionalId", professionalID.String(), "template", template, "error", err)
		return false
	}
	return true
}

func (e *Engine) publishResponse(ctx context.Context, job *domain.Job, attempt *domain.DispatchAttempt, reason string) {
	e.bus.Publish(ctx, events.DispatchResponseRecorded{
		BaseEvent:      events.NewBaseEvent(),
		JobID:          job.ID,
		Reference:      job.Reference,
		AttemptID:      attempt.ID,
		ProfessionalID: attempt.ProfessionalID,
		Status:         string(attempt.Status),
		Reason:         reason,
	})
}

func (e *Engine) publishEscalated(ctx context.Context, job *domain.Job, action domain.EscalationAction, roles []string, note string) {
	e.bus.Publish(ctx, events.JobEscalated{
		BaseEvent:   events.NewBaseEvent(),
		JobID:       job.ID,
		Reference:   job.Reference,
		StepIndex:   job.EscalationStepIndex,
		Action:      string(action),
		NotifyRoles: roles,
		Note:        note,
	})
}

func (e *Engine) publishQueueRefresh(ctx context.Context, job *domain.Job) {
	e.bus.Publish(ctx, events.QueueRefresh{
		BaseEvent: events.NewBaseEvent(),
		JobID:     job.ID,
		Reference: job.Reference,
		Status:    string(job.Status),
	})
}

func alertRoles(step domain.EscalationStep) []string {
	if len(step.NotifyRoles) > 0 {
		return step.NotifyRoles
	}
	return defaultAlertRoles(step.Action)
}

func defaultAlertRoles(action domain.EscalationAction) []string {
	if action == domain.ActionManagerAlert {
		return []string{"manager", "operator"}
	}
	return []string{"operator"}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
