// Package events carries domain events between modules without coupling
// publishers to their consumers. The dispatch engine publishes here and the
// notification module subscribes; neither imports the other.
package events

import (
	"context"
	"time"
)

// Event is anything the bus can carry. EventName doubles as the
// subscription key, so it must be stable and unique per event type.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent supplies the timestamp; concrete events embed it.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one name.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to subscribed handlers. Publish is asynchronous and
// best-effort; PublishSync runs handlers inline and returns their errors.
// Subscribe keys on the value the event's EventName returns.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
