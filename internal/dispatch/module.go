// Package dispatch provides the job dispatch bounded context module.
// This file wires the repository, candidate selector, policy resolver, SLA
// clock and escalation engine together and registers the HTTP routes.
package dispatch

import (
	"tradedispatch_backend/internal/directory"
	"tradedispatch_backend/internal/dispatch/engine"
	"tradedispatch_backend/internal/dispatch/handler"
	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/internal/dispatch/repository"
	"tradedispatch_backend/internal/dispatch/selector"
	"tradedispatch_backend/internal/dispatch/service"
	"tradedispatch_backend/internal/dispatch/sla"
	"tradedispatch_backend/internal/events"
	apphttp "tradedispatch_backend/internal/http"
	"tradedispatch_backend/internal/policy"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/logger"
	"tradedispatch_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the dispatch bounded context implementing http.Module.
type Module struct {
	handler *handler.Handler
	engine  *engine.Engine
	clock   *sla.Clock
	service *service.Service
}

// NewModule creates and initializes the dispatch module with all its
// dependencies. Timers and notifier are injected so the same wiring serves
// both the in-process timer service and the asynq-backed scheduler.
func NewModule(pool *pgxpool.Pool, timers ports.Timers, notifier ports.Notifier, bus events.Bus, val *validator.Validator, cfg *config.Config, log *logger.Logger) (*Module, error) {
	repo := repository.New(pool)

	// Policy resolver with file defaults layered over the built-ins.
	defaults, err := policy.LoadDefaults(cfg.GetPolicyDefaultsPath())
	if err != nil {
		return nil, err
	}
	resolver := policy.NewResolver(policy.NewRepository(pool), defaults, cfg.GetPolicyCacheTTL(), log)

	sel := selector.New(directory.New(pool))
	clock := sla.New(repo, timers, bus, log)
	eng := engine.New(repo, sel, resolver, timers, clock, notifier, bus, log)
	svc := service.New(repo, bus, log)

	return &Module{
		handler: handler.New(svc, eng, val),
		engine:  eng,
		clock:   clock,
		service: svc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "dispatch"
}

// Engine returns the escalation engine, used to bind timer callbacks.
func (m *Module) Engine() *engine.Engine {
	return m.engine
}

// Clock returns the SLA clock, used to bind timer callbacks.
func (m *Module) Clock() *sla.Clock {
	return m.clock
}

// RegisterRoutes mounts dispatch routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterJobRoutes(ctx.Protected.Group("/jobs"))
	m.handler.RegisterAttemptRoutes(ctx.Protected.Group("/attempts"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
