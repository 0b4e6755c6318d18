// Package notification relays dispatch lifecycle events to the outside
// world: templated email/SMS through the gateway and real-time SSE streams
// for connected professionals, operators and managers.
package notification

import (
	"context"

	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/events"
	apphttp "tradedispatch_backend/internal/http"
	"tradedispatch_backend/internal/notification/sse"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/httpkit"
	"tradedispatch_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module wires the notification gateway and the SSE relay.
type Module struct {
	gateway *Gateway
	sse     *sse.Service
	log     *logger.Logger
}

// NewModule builds the notification module. Email and SMS transports are
// selected from config; disabled channels fall back to no-op senders.
func NewModule(cfg *config.Config, contacts ContactReader, log *logger.Logger) *Module {
	return &Module{
		gateway: NewGateway(contacts, NewEmailSender(cfg), NewSMSSender(cfg, log), cfg, log),
		sse:     sse.New(log),
		log:     log,
	}
}

func (m *Module) Name() string { return "notification" }

// Notifier exposes the gateway for the dispatch engine.
func (m *Module) Notifier() ports.Notifier { return m.gateway }

// SSE exposes the relay, mostly for tests.
func (m *Module) SSE() *sse.Service { return m.sse }

// RegisterRoutes mounts the event stream endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events", m.sse.Handler(func(c *gin.Context) (uuid.UUID, []string, bool) {
		id := httpkit.GetIdentity(c)
		if !id.IsAuthenticated() {
			return uuid.Nil, nil, false
		}
		return id.UserID(), id.Roles(), true
	}))
}

// RegisterHandlers subscribes the SSE relay to the dispatch topics.
// Professionals receive events addressed to them; operators see everything;
// managers additionally see manager-level escalations.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.TopicDispatchAttempt, events.HandlerFunc(m.onDispatchAttempt))
	bus.Subscribe(events.TopicDispatchResponse, events.HandlerFunc(m.onDispatchResponse))
	bus.Subscribe(events.TopicJobEscalated, events.HandlerFunc(m.onJobEscalated))
	bus.Subscribe(events.TopicJobSLAWarning, events.HandlerFunc(m.onSLAEvent))
	bus.Subscribe(events.TopicJobSLABreach, events.HandlerFunc(m.onSLAEvent))
	bus.Subscribe(events.TopicQueueRefresh, events.HandlerFunc(m.onQueueRefresh))
}

func (m *Module) onDispatchAttempt(_ context.Context, event events.Event) error {
	e, ok := event.(events.DispatchAttemptCreated)
	if !ok {
		return nil
	}
	out := sse.Event{Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e}
	m.sse.PublishToUser(e.ProfessionalID, out)
	m.sse.PublishToRole(httpkit.RoleOperator, out)
	return nil
}

func (m *Module) onDispatchResponse(_ context.Context, event events.Event) error {
	e, ok := event.(events.DispatchResponseRecorded)
	if !ok {
		return nil
	}
	out := sse.Event{Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e}
	m.sse.PublishToUser(e.ProfessionalID, out)
	m.sse.PublishToRole(httpkit.RoleOperator, out)
	return nil
}

func (m *Module) onJobEscalated(_ context.Context, event events.Event) error {
	e, ok := event.(events.JobEscalated)
	if !ok {
		return nil
	}
	out := sse.Event{Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e}
	m.sse.PublishToRole(httpkit.RoleOperator, out)
	for _, role := range e.NotifyRoles {
		if role != httpkit.RoleOperator {
			m.sse.PublishToRole(role, out)
		}
	}
	return nil
}

func (m *Module) onSLAEvent(_ context.Context, event events.Event) error {
	var out sse.Event
	switch e := event.(type) {
	case events.JobSLAWarning:
		out = sse.Event{Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e}
	case events.JobSLABreach:
		out = sse.Event{Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e}
	default:
		return nil
	}
	m.sse.PublishToRole(httpkit.RoleOperator, out)
	m.sse.PublishToRole(httpkit.RoleManager, out)
	return nil
}

func (m *Module) onQueueRefresh(_ context.Context, event events.Event) error {
	e, ok := event.(events.QueueRefresh)
	if !ok {
		return nil
	}
	m.sse.PublishToRole(httpkit.RoleOperator, sse.Event{
		Topic: e.EventName(), JobID: e.JobID, Reference: e.Reference, Data: e,
	})
	return nil
}

var _ apphttp.Module = (*Module)(nil)
