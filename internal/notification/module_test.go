package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/events"
	"tradedispatch_backend/internal/notification/sse"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeContacts struct {
	name  string
	email string
	phone string
	err   error
}

func (f *fakeContacts) GetContact(_ context.Context, _ uuid.UUID) (string, string, string, error) {
	return f.name, f.email, f.phone, f.err
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

type fakeEmail struct {
	sent []sentMessage
	err  error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

type fakeSMS struct {
	sent []sentMessage
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, body: message})
	return nil
}

type fakeAlerts struct {
	operators []string
	managers  []string
}

func (f *fakeAlerts) GetOperatorAlertEmails() []string { return f.operators }
func (f *fakeAlerts) GetManagerAlertEmails() []string  { return f.managers }

func newTestGateway(contacts *fakeContacts, email *fakeEmail, sms *fakeSMS, alerts *fakeAlerts) *Gateway {
	return NewGateway(contacts, email, sms, alerts, logger.New("development"))
}

func TestNotifyProfessionalSendsEmailAndSMS(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	gw := newTestGateway(&fakeContacts{name: "Jan", email: "jan@example.com", phone: "+31612345678"}, email, sms, &fakeAlerts{})

	err := gw.NotifyProfessional(context.Background(), uuid.New(), ports.TemplateDispatchOffer, map[string]interface{}{
		"jobReference": "JOB-2026-0001",
		"category":     "PLUMBING",
		"urgency":      "URGENT",
		"address":      "Keizersgracht 1, Amsterdam",
		"expiresAt":    "12:30",
	})
	if err != nil {
		t.Fatalf("NotifyProfessional: %v", err)
	}

	if len(email.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(email.sent))
	}
	if email.sent[0].to != "jan@example.com" {
		t.Errorf("email to = %s", email.sent[0].to)
	}
	if !strings.Contains(email.sent[0].subject, "JOB-2026-0001") {
		t.Errorf("subject %q missing reference", email.sent[0].subject)
	}
	if !strings.Contains(email.sent[0].body, "Jan") || !strings.Contains(email.sent[0].body, "PLUMBING") {
		t.Errorf("body %q missing rendered fields", email.sent[0].body)
	}
	if len(sms.sent) != 1 || sms.sent[0].to != "+31612345678" {
		t.Errorf("sms sent = %+v", sms.sent)
	}
}

func TestNotifyProfessionalLeavesPayloadUntouched(t *testing.T) {
	gw := newTestGateway(&fakeContacts{name: "Jan", email: "jan@example.com", phone: "+31612345678"}, &fakeEmail{}, &fakeSMS{}, &fakeAlerts{})

	// The engine reuses one payload map across several recipients; the
	// gateway must not write its per-recipient fields into it.
	payload := map[string]interface{}{
		"jobReference": "JOB-2026-0003",
		"reason":       "accepted by another professional",
	}
	if err := gw.NotifyProfessional(context.Background(), uuid.New(), ports.TemplateOfferWithdrawn, payload); err != nil {
		t.Fatalf("NotifyProfessional: %v", err)
	}

	if _, ok := payload["name"]; ok {
		t.Error("gateway wrote the contact name into the caller's payload")
	}
	if len(payload) != 2 {
		t.Errorf("payload has %d keys, want the original 2", len(payload))
	}
}

func TestNotifyProfessionalSucceedsWhenOneChannelDelivers(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	sms := &fakeSMS{}
	gw := newTestGateway(&fakeContacts{name: "Jan", email: "jan@example.com", phone: "+31612345678"}, email, sms, &fakeAlerts{})

	err := gw.NotifyProfessional(context.Background(), uuid.New(), ports.TemplateOfferWithdrawn, map[string]interface{}{
		"jobReference": "JOB-2026-0002",
		"reason":       "job accepted by another professional",
	})
	if err != nil {
		t.Fatalf("expected success via SMS, got %v", err)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("sms sent = %d, want 1", len(sms.sent))
	}
}

func TestNotifyProfessionalFailsWhenAllChannelsFail(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	sms := &fakeSMS{err: errors.New("provider 503")}
	gw := newTestGateway(&fakeContacts{name: "Jan", email: "jan@example.com", phone: "+31612345678"}, email, sms, &fakeAlerts{})

	err := gw.NotifyProfessional(context.Background(), uuid.New(), ports.TemplateDispatchOffer, map[string]interface{}{
		"jobReference": "JOB-2026-0003",
	})
	if err == nil {
		t.Fatal("expected error when every channel fails")
	}
}

func TestNotifyProfessionalNoContactChannels(t *testing.T) {
	gw := newTestGateway(&fakeContacts{name: "Jan"}, &fakeEmail{}, &fakeSMS{}, &fakeAlerts{})

	err := gw.NotifyProfessional(context.Background(), uuid.New(), ports.TemplateDispatchOffer, map[string]interface{}{
		"jobReference": "JOB-2026-0004",
	})
	if err == nil {
		t.Fatal("expected error for professional without contact channels")
	}
}

func TestNotifyRolesEmailsConfiguredRecipients(t *testing.T) {
	email := &fakeEmail{}
	alerts := &fakeAlerts{
		operators: []string{"ops1@example.com", "ops2@example.com"},
		managers:  []string{"mgr@example.com"},
	}
	gw := newTestGateway(&fakeContacts{}, email, &fakeSMS{}, alerts)

	err := gw.NotifyRoles(context.Background(), []string{"manager", "operator"}, ports.TemplateEscalationAlert, map[string]interface{}{
		"jobReference": "JOB-2026-0005",
		"stepIndex":    2,
		"note":         "escalation steps exhausted",
	})
	if err != nil {
		t.Fatalf("NotifyRoles: %v", err)
	}
	if len(email.sent) != 3 {
		t.Fatalf("alert emails = %d, want 3", len(email.sent))
	}
	to := map[string]bool{}
	for _, msg := range email.sent {
		to[msg.to] = true
		if !strings.Contains(msg.body, "escalation steps exhausted") {
			t.Errorf("alert body %q missing note", msg.body)
		}
	}
	if !to["ops1@example.com"] || !to["mgr@example.com"] {
		t.Errorf("alert recipients = %v", to)
	}
}

func TestNotifyRolesSkipsUnconfiguredRole(t *testing.T) {
	email := &fakeEmail{}
	gw := newTestGateway(&fakeContacts{}, email, &fakeSMS{}, &fakeAlerts{})

	err := gw.NotifyRoles(context.Background(), []string{"operator"}, ports.TemplateEscalationAlert, map[string]interface{}{
		"jobReference": "JOB-2026-0006",
	})
	if err != nil {
		t.Fatalf("NotifyRoles with no recipients should not error, got %v", err)
	}
	if len(email.sent) != 0 {
		t.Errorf("emails sent = %d, want 0", len(email.sent))
	}
}

func TestUnknownTemplateRejected(t *testing.T) {
	gw := newTestGateway(&fakeContacts{email: "x@example.com"}, &fakeEmail{}, &fakeSMS{}, &fakeAlerts{})

	if err := gw.NotifyProfessional(context.Background(), uuid.New(), "bogus_template", map[string]interface{}{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func waitForSSE(t *testing.T, ch <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SSE event")
		return sse.Event{}
	}
}

func newTestModule() *Module {
	log := logger.New("development")
	return &Module{
		gateway: NewGateway(&fakeContacts{}, &fakeEmail{}, &fakeSMS{}, &fakeAlerts{}, log),
		sse:     sse.New(log),
		log:     log,
	}
}

func TestDispatchAttemptRelayedToProfessionalAndOperators(t *testing.T) {
	m := newTestModule()
	bus := events.NewInMemoryBus(logger.New("development"))
	m.RegisterHandlers(bus)

	professionalID := uuid.New()
	proCh, proDone := m.SSE().Subscribe(professionalID, []string{"professional"})
	defer proDone()
	opCh, opDone := m.SSE().Subscribe(uuid.New(), []string{"operator"})
	defer opDone()

	jobID := uuid.New()
	err := bus.PublishSync(context.Background(), events.DispatchAttemptCreated{
		BaseEvent:      events.NewBaseEvent(),
		JobID:          jobID,
		Reference:      "JOB-2026-0007",
		AttemptID:      uuid.New(),
		ProfessionalID: professionalID,
		StepIndex:      0,
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}

	got := waitForSSE(t, proCh)
	if got.Topic != events.TopicDispatchAttempt || got.JobID != jobID {
		t.Errorf("professional event = %+v", got)
	}
	got = waitForSSE(t, opCh)
	if got.Topic != events.TopicDispatchAttempt {
		t.Errorf("operator event topic = %s", got.Topic)
	}
}

func TestEscalationRelayedToExtraRoles(t *testing.T) {
	m := newTestModule()
	bus := events.NewInMemoryBus(logger.New("development"))
	m.RegisterHandlers(bus)

	mgrCh, mgrDone := m.SSE().Subscribe(uuid.New(), []string{"manager"})
	defer mgrDone()
	proCh, proDone := m.SSE().Subscribe(uuid.New(), []string{"professional"})
	defer proDone()

	err := bus.PublishSync(context.Background(), events.JobEscalated{
		BaseEvent:   events.NewBaseEvent(),
		JobID:       uuid.New(),
		Reference:   "JOB-2026-0008",
		StepIndex:   3,
		Action:      "MANAGER_ALERT",
		NotifyRoles: []string{"manager", "operator"},
	})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}

	got := waitForSSE(t, mgrCh)
	if got.Topic != events.TopicJobEscalated {
		t.Errorf("manager event topic = %s", got.Topic)
	}
	select {
	case event := <-proCh:
		t.Errorf("professional should not receive escalation, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSLABreachRelayedToOperatorsAndManagers(t *testing.T) {
	m := newTestModule()
	bus := events.NewInMemoryBus(logger.New("development"))
	m.RegisterHandlers(bus)

	opCh, opDone := m.SSE().Subscribe(uuid.New(), []string{"operator"})
	defer opDone()
	mgrCh, mgrDone := m.SSE().Subscribe(uuid.New(), []string{"manager"})
	defer mgrDone()

	err := bus.PublishSync(context.Background(), events.JobSLABreach{
		BaseEvent:  events.NewBaseEvent(),
		JobID:      uuid.New(),
		Reference:  "JOB-2026-0009",
		Deadline:   "accept",
		DeadlineAt: time.Now(),
		PctElapsed: 100,
	})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}

	if got := waitForSSE(t, opCh); got.Topic != events.TopicJobSLABreach {
		t.Errorf("operator topic = %s", got.Topic)
	}
	if got := waitForSSE(t, mgrCh); got.Topic != events.TopicJobSLABreach {
		t.Errorf("manager topic = %s", got.Topic)
	}
}

func TestQueueRefreshRelayedToOperatorsOnly(t *testing.T) {
	m := newTestModule()
	bus := events.NewInMemoryBus(logger.New("development"))
	m.RegisterHandlers(bus)

	opCh, opDone := m.SSE().Subscribe(uuid.New(), []string{"operator"})
	defer opDone()
	reqCh, reqDone := m.SSE().Subscribe(uuid.New(), []string{"requester"})
	defer reqDone()

	err := bus.PublishSync(context.Background(), events.QueueRefresh{
		BaseEvent: events.NewBaseEvent(),
		JobID:     uuid.New(),
		Reference: "JOB-2026-0010",
		Status:    "DISPATCHED",
	})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}

	if got := waitForSSE(t, opCh); got.Topic != events.TopicQueueRefresh {
		t.Errorf("operator topic = %s", got.Topic)
	}
	select {
	case event := <-reqCh:
		t.Errorf("requester should not receive queue refresh, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}
