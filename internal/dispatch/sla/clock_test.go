package sla

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/platform/apperr"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.Job
	breached []string
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job not found")
	}
	copied := *job
	return &copied, nil
}

func (f *fakeStore) MarkSLABreached(_ context.Context, jobID uuid.UUID, kind domain.SLAKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breached = append(f.breached, string(kind))
	return nil
}

type fakeTimers struct {
	mu      sync.Mutex
	armed   map[string]time.Time
	disarms []string
}

func newFakeTimers() *fakeTimers { return &fakeTimers{armed: make(map[string]time.Time)} }

func (f *fakeTimers) ArmStepWindow(uuid.UUID, int, time.Time, time.Time) {}
func (f *fakeTimers) DisarmStepWindow(uuid.UUID)                         {}

func (f *fakeTimers) ArmSLATimer(_ uuid.UUID, kind domain.SLAKind, phase domain.TimerPhase, fireAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[string(kind)+":"+string(phase)] = fireAt
}

func (f *fakeTimers) DisarmSLATimers(_ uuid.UUID, kind domain.SLAKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarms = append(f.disarms, string(kind))
}

type fakeBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *fakeBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *fakeBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *fakeBus) Subscribe(string, events.Handler) {}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, event := range b.published {
		out[i] = event.EventName()
	}
	return out
}

func testJob(status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:        uuid.New(),
		Reference: "JOB-2026-0042",
		Status:    status,
		DispatchContext: &domain.DispatchContext{
			AcceptWindowMins: 5,
			ScheduleSLAHours: 24,
		},
	}
}

func newClock(store *fakeStore, timers *fakeTimers, bus *fakeBus) *Clock {
	return New(store, timers, bus, logger.New("development"))
}

func TestStartAcceptArmsWarningAndBreach(t *testing.T) {
	timers := newFakeTimers()
	clock := newClock(&fakeStore{}, timers, &fakeBus{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.now = func() time.Time { return base }

	job := testJob(domain.StatusDispatched)
	clock.StartAccept(context.Background(), job)

	if job.SLAAcceptDeadline == nil || !job.SLAAcceptDeadline.Equal(base.Add(5*time.Minute)) {
		t.Fatalf("accept deadline = %v, want %v", job.SLAAcceptDeadline, base.Add(5*time.Minute))
	}
	breachAt, ok := timers.armed["accept:breach"]
	if !ok || !breachAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("breach timer = (%v, %v), want deadline", breachAt, ok)
	}
	// 30% of a 5-minute window is 90 seconds before the deadline.
	warnAt, ok := timers.armed["accept:warning"]
	if !ok || !warnAt.Equal(base.Add(5*time.Minute-90*time.Second)) {
		t.Errorf("warning timer = (%v, %v), want 90s before deadline", warnAt, ok)
	}
}

func TestWarningLeadCappedForLongWindows(t *testing.T) {
	// 30% of 24 hours would be over 7 hours; the cap keeps it at 30 minutes.
	if got := warningLead(24 * time.Hour); got != maxWarningLead {
		t.Errorf("warningLead(24h) = %v, want %v", got, maxWarningLead)
	}
	if got := warningLead(10 * time.Minute); got != 3*time.Minute {
		t.Errorf("warningLead(10m) = %v, want 3m", got)
	}
}

func TestAcceptedSwitchesToScheduleClock(t *testing.T) {
	timers := newFakeTimers()
	clock := newClock(&fakeStore{}, timers, &fakeBus{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.now = func() time.Time { return base }

	job := testJob(domain.StatusAccepted)
	clock.Accepted(context.Background(), job)

	if len(timers.disarms) != 1 || timers.disarms[0] != "accept" {
		t.Errorf("disarms = %v, want accept clock stopped", timers.disarms)
	}
	if job.SLAScheduleDeadline == nil || !job.SLAScheduleDeadline.Equal(base.Add(24*time.Hour)) {
		t.Fatalf("schedule deadline = %v, want %v", job.SLAScheduleDeadline, base.Add(24*time.Hour))
	}
	if _, ok := timers.armed["schedule:breach"]; !ok {
		t.Error("schedule breach timer not armed")
	}
}

func TestBreachSetsFlagAndPublishesAdvisoryEvent(t *testing.T) {
	store := &fakeStore{jobs: make(map[uuid.UUID]*domain.Job)}
	bus := &fakeBus{}
	clock := newClock(store, newFakeTimers(), bus)

	job := testJob(domain.StatusDispatched)
	deadline := time.Now().Add(-time.Minute)
	job.SLAAcceptDeadline = &deadline
	store.jobs[job.ID] = job

	if err := clock.HandleDeadline(context.Background(), job.ID, domain.SLAAccept, domain.PhaseBreach); err != nil {
		t.Fatalf("HandleDeadline: %v", err)
	}

	if len(store.breached) != 1 || store.breached[0] != "accept" {
		t.Errorf("breached = %v, want accept flag set", store.breached)
	}
	names := bus.names()
	if len(names) != 1 || names[0] != events.TopicJobSLABreach {
		t.Errorf("published = %v, want one breach event", names)
	}
	// Advisory only: the job's status is untouched.
	if store.jobs[job.ID].Status != domain.StatusDispatched {
		t.Errorf("status = %s, breach must not change status", store.jobs[job.ID].Status)
	}
}

func TestWarningPublishesWithPctElapsed(t *testing.T) {
	store := &fakeStore{jobs: make(map[uuid.UUID]*domain.Job)}
	bus := &fakeBus{}
	clock := newClock(store, newFakeTimers(), bus)

	job := testJob(domain.StatusDispatched)
	deadline := time.Now().Add(90 * time.Second)
	job.SLAAcceptDeadline = &deadline
	store.jobs[job.ID] = job

	if err := clock.HandleDeadline(context.Background(), job.ID, domain.SLAAccept, domain.PhaseWarning); err != nil {
		t.Fatalf("HandleDeadline: %v", err)
	}

	published := bus.published
	if len(published) != 1 {
		t.Fatalf("published %d events, want 1", len(published))
	}
	warning, ok := published[0].(events.JobSLAWarning)
	if !ok {
		t.Fatalf("published %T, want JobSLAWarning", published[0])
	}
	// 90s left of a 5-minute window is 70% elapsed.
	if warning.PctElapsed < 69 || warning.PctElapsed > 71 {
		t.Errorf("pctElapsed = %.1f, want ~70", warning.PctElapsed)
	}
}

func TestStaleDeadlineFireDiscarded(t *testing.T) {
	store := &fakeStore{jobs: make(map[uuid.UUID]*domain.Job)}
	bus := &fakeBus{}
	clock := newClock(store, newFakeTimers(), bus)

	// Accepted already: the accept deadline no longer measures anything.
	job := testJob(domain.StatusAccepted)
	deadline := time.Now().Add(-time.Minute)
	job.SLAAcceptDeadline = &deadline
	store.jobs[job.ID] = job

	if err := clock.HandleDeadline(context.Background(), job.ID, domain.SLAAccept, domain.PhaseBreach); err != nil {
		t.Fatalf("stale fire should be discarded, got %v", err)
	}
	if len(store.breached) != 0 {
		t.Error("stale fire set a breach flag")
	}
	if len(bus.published) != 0 {
		t.Error("stale fire published an event")
	}

	// Deleted job: fire is ignored, not an error.
	if err := clock.HandleDeadline(context.Background(), uuid.New(), domain.SLAAccept, domain.PhaseBreach); err != nil {
		t.Fatalf("fire for missing job should be ignored, got %v", err)
	}
}

func TestStopDisarmsBothClocks(t *testing.T) {
	timers := newFakeTimers()
	clock := newClock(&fakeStore{}, timers, &fakeBus{})

	clock.Stop(uuid.New())
	if len(timers.disarms) != 2 {
		t.Fatalf("disarms = %v, want both kinds", timers.disarms)
	}
}
