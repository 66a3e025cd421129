// Package eventbus provides the publish/subscribe channel the engine
// receives domain events on. The bus is an explicit instance handed to the
// trigger matcher at construction, never a process-wide singleton, so tests
// can run isolated buses side by side.
package eventbus

import (
	"context"

	"github.com/dripline/dripline/pkg/events"
)

type EventHandler func(ctx context.Context, event *events.DomainEvent) error

type EventPublisher interface {
	Publish(ctx context.Context, key string, event *events.DomainEvent) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
