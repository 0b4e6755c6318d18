// Package timer provides the in-process implementation of dispatch timers:
// explicit scheduled tasks keyed by job id, individually cancellable. Used
// when no redis-backed scheduler is configured; the asynq client in
// internal/scheduler implements the same interface durably.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

// Service schedules callbacks with time.AfterFunc. Keys are replaced on
// re-arm, so a job never has two live window timers.
type Service struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	log    *logger.Logger

	onWindowExpiry ports.WindowExpiryFunc
	onSLADeadline  ports.SLADeadlineFunc

	// afterFunc is swappable in tests.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// New creates an unbound timer service. Bind must be called before arming.
func New(log *logger.Logger) *Service {
	return &Service{
		timers:    make(map[string]*time.Timer),
		log:       log,
		afterFunc: time.AfterFunc,
	}
}

// Bind wires the callbacks fired timers invoke. Called once at composition
// time, after the engine and SLA clock exist.
func (s *Service) Bind(onWindowExpiry ports.WindowExpiryFunc, onSLADeadline ports.SLADeadlineFunc) {
	s.onWindowExpiry = onWindowExpiry
	s.onSLADeadline = onSLADeadline
}

func windowKey(jobID uuid.UUID) string {
	return "window:" + jobID.String()
}

func slaKey(jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase) string {
	return fmt.Sprintf("sla:%s:%s:%s", kind, phase, jobID)
}

// ArmStepWindow schedules the window-expiry callback for one step opening.
func (s *Service) ArmStepWindow(jobID uuid.UUID, stepIndex int, openedAt, fireAt time.Time) {
	s.schedule(windowKey(jobID), fireAt, func() {
		if s.onWindowExpiry == nil {
			return
		}
		if err := s.onWindowExpiry(context.Background(), jobID, stepIndex, openedAt); err != nil {
			s.log.Error("window expiry handler failed", "job_id", jobID, "step_index", stepIndex, "error", err)
		}
	})
}

// DisarmStepWindow cancels the job's window timer if armed.
func (s *Service) DisarmStepWindow(jobID uuid.UUID) {
	s.cancel(windowKey(jobID))
}

// ArmSLATimer schedules one SLA warning or breach callback.
func (s *Service) ArmSLATimer(jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase, fireAt time.Time) {
	s.schedule(slaKey(jobID, kind, phase), fireAt, func() {
		if s.onSLADeadline == nil {
			return
		}
		if err := s.onSLADeadline(context.Background(), jobID, kind, phase); err != nil {
			s.log.Error("sla deadline handler failed", "job_id", jobID, "kind", string(kind), "phase", string(phase), "error", err)
		}
	})
}

// DisarmSLATimers cancels both phases of one SLA deadline for the job.
func (s *Service) DisarmSLATimers(jobID uuid.UUID, kind domain.SLAKind) {
	s.cancel(slaKey(jobID, kind, domain.PhaseWarning))
	s.cancel(slaKey(jobID, kind, domain.PhaseBreach))
}

func (s *Service) schedule(key string, fireAt time.Time, fn func()) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}
	s.timers[key] = s.afterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *Service) cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
		delete(s.timers, key)
	}
}

// Armed reports whether a timer is currently scheduled under the job's
// window key. Used by tests and the readiness probe.
func (s *Service) Armed(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[windowKey(jobID)]
	return ok
}

// Close stops every scheduled timer. Callbacks already in flight finish.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

var _ ports.Timers = (*Service)(nil)
