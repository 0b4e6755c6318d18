// Package repository provides pgx-backed persistence for jobs and dispatch
// attempts. UpdateJob enforces optimistic concurrency on the job's version
// column; Transact scopes one command's read-modify-write to a transaction.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobNotFoundMsg = "job not found"

// queryRunner is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository methods run inside and outside a transaction.
type queryRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists jobs and dispatch attempts.
type Repository struct {
	pool *pgxpool.Pool
	q    queryRunner
}

// New creates a new dispatch repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// Transact runs fn against a repository view bound to one transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) Transact(ctx context.Context, fn func(*Repository) error) error {
	if r.pool == nil {
		// Already inside a transaction; nested commands join it.
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx})
	})
}

// OpenStep persists a step transition and its new attempts in one
// transaction, so a job never claims an open step without its attempts.
func (r *Repository) OpenStep(ctx context.Context, job *domain.Job, attempts []*domain.DispatchAttempt) error {
	return r.Transact(ctx, func(tx *Repository) error {
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		return tx.CreateAttempts(ctx, attempts)
	})
}

// CloseStep transitions every PENDING attempt of the job to the given
// terminal status and writes the job, atomically. Returns the transitioned
// attempts.
func (r *Repository) CloseStep(ctx context.Context, job *domain.Job, to domain.AttemptStatus) ([]*domain.DispatchAttempt, error) {
	var closed []*domain.DispatchAttempt
	err := r.Transact(ctx, func(tx *Repository) error {
		var err error
		closed, err = tx.CancelPending(ctx, job.ID, to)
		if err != nil {
			return err
		}
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

var errAttemptNotPending = errors.New("attempt is not pending")

// AcceptStep marks the winning attempt ACCEPTED, withdraws its PENDING
// siblings and writes the job, all in one transaction: a partial failure can
// never leave an accepted attempt on a job that was not assigned. Returns
// ok=false when the attempt was no longer PENDING.
func (r *Repository) AcceptStep(ctx context.Context, job *domain.Job, attemptID uuid.UUID) ([]*domain.DispatchAttempt, bool, error) {
	var withdrawn []*domain.DispatchAttempt
	err := r.Transact(ctx, func(tx *Repository) error {
		ok, err := tx.MarkAttempt(ctx, attemptID, domain.AttemptPending, domain.AttemptAccepted, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errAttemptNotPending
		}
		withdrawn, err = tx.CancelPending(ctx, job.ID, domain.AttemptCancelled)
		if err != nil {
			return err
		}
		return tx.UpdateJob(ctx, job)
	})
	var pgErr *pgconn.PgError
	if errors.Is(err, errAttemptNotPending) || (errors.As(err, &pgErr) && pgErr.Code == "23505") {
		// Already taken; the single-accept index is the database-level
		// backstop for the same race.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return withdrawn, true, nil
}

const jobColumns = `id, reference, status, urgency, service_category, region_id, organization_id,
	lat, lng, address, assigned_professional_id, escalation_step_index, step_opened_at,
	escalated, sla_accept_deadline, sla_schedule_deadline, sla_accept_breached,
	sla_schedule_breached, dispatch_context, created_at, updated_at, version`

// GetJob retrieves one job by ID.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(jobNotFoundMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// CreateJob inserts a new job row. Used by job intake and tests; the engine
// itself never creates jobs.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	contextJSON, err := marshalContext(job.DispatchContext)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, reference, status, urgency, service_category, region_id, organization_id,
			lat, lng, address, assigned_professional_id, escalation_step_index, step_opened_at,
			escalated, sla_accept_deadline, sla_schedule_deadline, sla_accept_breached,
			sla_schedule_breached, dispatch_context, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`

	_, err = r.q.Exec(ctx, query,
		job.ID, job.Reference, string(job.Status), string(job.Urgency), job.ServiceCategory,
		job.RegionID, job.OrganizationID, job.Location.Lat, job.Location.Lng, job.Address,
		job.AssignedProfessionalID, job.EscalationStepIndex, job.StepOpenedAt, job.Escalated,
		job.SLAAcceptDeadline, job.SLAScheduleDeadline, job.SLAAcceptBreached,
		job.SLAScheduleBreached, contextJSON, job.CreatedAt, job.UpdatedAt, job.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob writes the job's mutable fields, guarded by the version the
// caller read. A version mismatch surfaces as a conflict, safe to retry
// after a fresh read. On success the in-memory version is incremented.
func (r *Repository) UpdateJob(ctx context.Context, job *domain.Job) error {
	contextJSON, err := marshalContext(job.DispatchContext)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			status = $2, assigned_professional_id = $3, escalation_step_index = $4,
			step_opened_at = $5, escalated = $6, sla_accept_deadline = $7,
			sla_schedule_deadline = $8, dispatch_context = $9,
			updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $10`

	tag, err := r.q.Exec(ctx, query,
		job.ID, string(job.Status), job.AssignedProfessionalID, job.EscalationStepIndex,
		job.StepOpenedAt, job.Escalated, job.SLAAcceptDeadline, job.SLAScheduleDeadline,
		contextJSON, job.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("job was modified concurrently")
	}

	job.Version++
	return nil
}

// MarkSLABreached sets the advisory breach flag for one deadline. The flag is
// reporting-only, so this write bypasses the version guard.
func (r *Repository) MarkSLABreached(ctx context.Context, jobID uuid.UUID, kind domain.SLAKind) error {
	column := "sla_accept_breached"
	if kind == domain.SLASchedule {
		column = "sla_schedule_breached"
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s = true, updated_at = now() WHERE id = $1`, column)
	if _, err := r.q.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to mark sla breach: %w", err)
	}
	return nil
}

// JobFilter narrows the operator queue listing.
type JobFilter struct {
	Status    *domain.JobStatus
	Escalated *bool
	Limit     int
	Offset    int
}

// ListJobs returns jobs for the operator queue, newest first.
func (r *Repository) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var clauses []string
	var args []any

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Escalated != nil {
		args = append(args, *filter.Escalated)
		clauses = append(clauses, fmt.Sprintf("escalated = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at DESC, id"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextReference allocates the next human-facing job reference for the given
// year, e.g. JOB-2026-0041.
func (r *Repository) NextReference(ctx context.Context, year int) (string, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT nextval('job_reference_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("failed to allocate job reference: %w", err)
	}
	return fmt.Sprintf("JOB-%d-%04d", year, n), nil
}

// CreateAttempts inserts the PENDING attempts for one step.
func (r *Repository) CreateAttempts(ctx context.Context, attempts []*domain.DispatchAttempt) error {
	query := `
		INSERT INTO dispatch_attempts (
			id, job_id, professional_id, step_index, status, decline_reason, created_at, responded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, attempt := range attempts {
		_, err := r.q.Exec(ctx, query,
			attempt.ID, attempt.JobID, attempt.ProfessionalID, attempt.StepIndex,
			string(attempt.Status), attempt.DeclineReason, attempt.CreatedAt, attempt.RespondedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create dispatch attempt: %w", err)
		}
	}
	return nil
}

// GetAttempt retrieves one attempt by ID.
func (r *Repository) GetAttempt(ctx context.Context, id uuid.UUID) (*domain.DispatchAttempt, error) {
	query := `SELECT id, job_id, professional_id, step_index, status, decline_reason, created_at, responded_at
		FROM dispatch_attempts WHERE id = $1`

	attempt, err := scanAttempt(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("dispatch attempt not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch attempt: %w", err)
	}
	return attempt, nil
}

// ListAttempts returns all attempts for one job, oldest first.
func (r *Repository) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]*domain.DispatchAttempt, error) {
	query := `SELECT id, job_id, professional_id, step_index, status, decline_reason, created_at, responded_at
		FROM dispatch_attempts WHERE job_id = $1 ORDER BY created_at, id`

	rows, err := r.q.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DispatchAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// MarkAttempt transitions one attempt from an expected status to a new one.
// Returns false without error when the attempt was not in the expected
// status; callers treat that as a stale signal and discard it.
func (r *Repository) MarkAttempt(ctx context.Context, id uuid.UUID, from, to domain.AttemptStatus, reason *string) (bool, error) {
	query := `
		UPDATE dispatch_attempts
		SET status = $3, decline_reason = COALESCE($4, decline_reason), responded_at = now()
		WHERE id = $1 AND status = $2`

	tag, err := r.q.Exec(ctx, query, id, string(from), string(to), reason)
	if err != nil {
		return false, fmt.Errorf("failed to mark dispatch attempt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPending transitions every PENDING attempt of a job to the given
// terminal status and returns the transitioned attempts.
func (r *Repository) CancelPending(ctx context.Context, jobID uuid.UUID, to domain.AttemptStatus) ([]*domain.DispatchAttempt, error) {
	query := `
		UPDATE dispatch_attempts
		SET status = $2, responded_at = now()
		WHERE job_id = $1 AND status = 'PENDING'
		RETURNING id, job_id, professional_id, step_index, status, decline_reason, created_at, responded_at`

	rows, err := r.q.Query(ctx, query, jobID, string(to))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DispatchAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cancelled attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// CountAttempts returns how many attempts have ever been issued for the job.
func (r *Repository) CountAttempts(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_attempts WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dispatch attempts: %w", err)
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*domain.Job, error) {
	var job domain.Job
	var status, urgency string
	var contextJSON []byte

	err := row.Scan(
		&job.ID, &job.Reference, &status, &urgency, &job.ServiceCategory,
		&job.RegionID, &job.OrganizationID, &job.Location.Lat, &job.Location.Lng,
		&job.Address, &job.AssignedProfessionalID, &job.EscalationStepIndex,
		&job.StepOpenedAt, &job.Escalated, &job.SLAAcceptDeadline,
		&job.SLAScheduleDeadline, &job.SLAAcceptBreached, &job.SLAScheduleBreached,
		&contextJSON, &job.CreatedAt, &job.UpdatedAt, &job.Version,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Urgency = domain.UrgencyTier(urgency)
	if len(contextJSON) > 0 {
		var dispatchContext domain.DispatchContext
		if err := json.Unmarshal(contextJSON, &dispatchContext); err != nil {
			return nil, fmt.Errorf("failed to decode dispatch context: %w", err)
		}
		job.DispatchContext = &dispatchContext
	}
	return &job, nil
}

func scanAttempt(row scannable) (*domain.DispatchAttempt, error) {
	var attempt domain.DispatchAttempt
	var status string
	err := row.Scan(
		&attempt.ID, &attempt.JobID, &attempt.ProfessionalID, &attempt.StepIndex,
		&status, &attempt.DeclineReason, &attempt.CreatedAt, &attempt.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	attempt.Status = domain.AttemptStatus(status)
	return &attempt, nil
}

func marshalContext(dispatchContext *domain.DispatchContext) ([]byte, error) {
	if dispatchContext == nil {
		return nil, nil
	}
	data, err := json.Marshal(dispatchContext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch context: %w", err)
	}
	return data, nil
}
