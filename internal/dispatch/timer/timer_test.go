package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

func newTestService() *Service {
	return New(logger.New("development"))
}

func TestWindowTimerFiresCallback(t *testing.T) {
	s := newTestService()
	jobID := uuid.New()

	openedAt := time.Now()
	fired := make(chan int, 1)
	tokens := make(chan time.Time, 1)
	s.Bind(func(_ context.Context, id uuid.UUID, stepIndex int, token time.Time) error {
		if id == jobID {
			fired <- stepIndex
			tokens <- token
		}
		return nil
	}, nil)

	s.ArmStepWindow(jobID, 2, openedAt, time.Now().Add(10*time.Millisecond))

	select {
	case stepIndex := <-fired:
		if stepIndex != 2 {
			t.Errorf("fired for step %d, want 2", stepIndex)
		}
	case <-time.After(time.Second):
		t.Fatal("window timer never fired")
	}
	if token := <-tokens; !token.Equal(openedAt) {
		t.Errorf("fired with token %v, want the arming one %v", token, openedAt)
	}
	if s.Armed(jobID) {
		t.Error("timer still registered after firing")
	}
}

func TestDisarmPreventsFire(t *testing.T) {
	s := newTestService()
	jobID := uuid.New()

	var mu sync.Mutex
	fired := false
	s.Bind(func(context.Context, uuid.UUID, int, time.Time) error {
		mu.Lock()
		fired = true
		mu.Unlock()
		return nil
	}, nil)

	s.ArmStepWindow(jobID, 0, time.Now(), time.Now().Add(30*time.Millisecond))
	s.DisarmStepWindow(jobID)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Error("disarmed timer fired")
	}
	if s.Armed(jobID) {
		t.Error("disarmed timer still registered")
	}
}

func TestRearmReplacesPreviousWindow(t *testing.T) {
	s := newTestService()
	jobID := uuid.New()

	fired := make(chan int, 2)
	s.Bind(func(_ context.Context, _ uuid.UUID, stepIndex int, _ time.Time) error {
		fired <- stepIndex
		return nil
	}, nil)

	s.ArmStepWindow(jobID, 0, time.Now(), time.Now().Add(time.Hour))
	s.ArmStepWindow(jobID, 1, time.Now(), time.Now().Add(10*time.Millisecond))

	select {
	case stepIndex := <-fired:
		if stepIndex != 1 {
			t.Fatalf("fired for step %d, want the replacing step 1", stepIndex)
		}
	case <-time.After(time.Second):
		t.Fatal("replacing timer never fired")
	}

	select {
	case stepIndex := <-fired:
		t.Fatalf("superseded timer for step %d fired", stepIndex)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSLATimersArePerKindAndPhase(t *testing.T) {
	s := newTestService()
	jobID := uuid.New()

	type fire struct {
		kind  domain.SLAKind
		phase domain.TimerPhase
	}
	fired := make(chan fire, 4)
	s.Bind(nil, func(_ context.Context, _ uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase) error {
		fired <- fire{kind, phase}
		return nil
	})

	s.ArmSLATimer(jobID, domain.SLAAccept, domain.PhaseWarning, time.Now().Add(10*time.Millisecond))
	s.ArmSLATimer(jobID, domain.SLAAccept, domain.PhaseBreach, time.Now().Add(time.Hour))
	s.ArmSLATimer(jobID, domain.SLASchedule, domain.PhaseBreach, time.Now().Add(time.Hour))

	select {
	case got := <-fired:
		if got.kind != domain.SLAAccept || got.phase != domain.PhaseWarning {
			t.Fatalf("fired %v/%v, want accept warning", got.kind, got.phase)
		}
	case <-time.After(time.Second):
		t.Fatal("sla warning never fired")
	}

	// Disarming one kind leaves the other armed.
	s.DisarmSLATimers(jobID, domain.SLAAccept)
	s.mu.Lock()
	remaining := len(s.timers)
	s.mu.Unlock()
	if remaining != 1 {
		t.Errorf("timers after disarming accept = %d, want schedule breach only", remaining)
	}
}

func TestPastFireTimeFiresImmediately(t *testing.T) {
	s := newTestService()
	jobID := uuid.New()

	fired := make(chan struct{}, 1)
	s.Bind(func(context.Context, uuid.UUID, int, time.Time) error {
		fired <- struct{}{}
		return nil
	}, nil)

	s.ArmStepWindow(jobID, 0, time.Now(), time.Now().Add(-time.Minute))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past-due timer never fired")
	}
}
