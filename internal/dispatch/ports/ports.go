// Package ports declares the interfaces the dispatch engine consumes for
// timers and outbound notifications. Implementations live in
// internal/dispatch/timer (in-process), internal/scheduler (asynq-backed)
// and internal/notification (gateway fan-out).
package ports

import (
	"context"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"

	"github.com/google/uuid"
)

// Timers arms and disarms the cancellable scheduled tasks keyed by job id.
// At most one step-window timer exists per job; arming replaces any previous
// one. Disarming a timer that is not armed is a no-op. Fired timers may still
// be delivered late; consumers guard on job and attempt state before acting.
// openedAt is carried through the fire as a step-generation token: a step
// reopened at the same index gets a new token, so fires armed for the old
// opening are recognizable as stale.
type Timers interface {
	ArmStepWindow(jobID uuid.UUID, stepIndex int, openedAt, fireAt time.Time)
	DisarmStepWindow(jobID uuid.UUID)
	ArmSLATimer(jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase, fireAt time.Time)
	DisarmSLATimers(jobID uuid.UUID, kind domain.SLAKind)
}

// WindowExpiryFunc handles a step acceptance window running out. openedAt is
// the token the window was armed with.
type WindowExpiryFunc func(ctx context.Context, jobID uuid.UUID, stepIndex int, openedAt time.Time) error

// SLADeadlineFunc handles an SLA warning or breach firing.
type SLADeadlineFunc func(ctx context.Context, jobID uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase) error

// Notifier delivers templated notifications through the external gateway.
// Delivery is fire-and-forget from the engine's perspective: implementations
// retry internally and never block an authoritative state transition.
type Notifier interface {
	NotifyProfessional(ctx context.Context, professionalID uuid.UUID, template string, payload map[string]interface{}) error
	NotifyRoles(ctx context.Context, roles []string, template string, payload map[string]interface{}) error
}

// Notification templates used by the engine.
const (
	TemplateDispatchOffer   = "dispatch_offer"
	TemplateOfferWithdrawn  = "offer_withdrawn"
	TemplateEscalationAlert = "escalation_alert"
)
