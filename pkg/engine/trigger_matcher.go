package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dripline/dripline/pkg/condition"
	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/registry"
)

// TriggerMatcher connects the event bus to the engine. For every incoming
// domain event it finds the enabled automations whose trigger matches and
// starts a Run per match. Matching one event never blocks on another: each
// matched automation runs on its own goroutine, and one automation's failure
// never prevents the others from starting.
type TriggerMatcher struct {
	engine      *Engine
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	wg sync.WaitGroup
}

func NewTriggerMatcher(
	engine *Engine,
	p persistence.Persistence,
	reg *registry.Registry,
	bus eventbus.EventBus,
	logger *slog.Logger,
) *TriggerMatcher {
	return &TriggerMatcher{
		engine:      engine,
		persistence: p,
		registry:    reg,
		eventBus:    bus,
		logger:      logger.With("module", "trigger_matcher"),
	}
}

// Start registers a handler for every known event type and begins consuming
// on the bus's own goroutine.
func (m *TriggerMatcher) Start(ctx context.Context) error {
	for _, eventType := range events.Types() {
		m.eventBus.Handle(eventType, m.handleEvent)
	}

	m.logger.Info("Trigger matcher listening", "event_types", len(events.Types()))

	return m.eventBus.Subscribe(ctx)
}

// Wait blocks until all in-flight Runs started by this matcher finish. Used
// on shutdown and by tests.
func (m *TriggerMatcher) Wait() {
	m.wg.Wait()
}

func (m *TriggerMatcher) handleEvent(ctx context.Context, event *events.DomainEvent) error {
	logger := m.logger.With("event_id", event.ID, "event_type", event.Type)

	automations, err := m.persistence.AutomationRepository().EnabledByTriggerType(ctx, string(event.Type))
	if err != nil {
		logger.Error("Failed to load automations for event", "error", err)

		return err
	}

	if len(automations) == 0 {
		logger.Debug("No enabled automations for event type")

		return nil
	}

	subscriberID := resolveSubscriber(event)
	if subscriberID == "" {
		logger.Warn("Event carries no subscriber, dropping")

		return nil
	}

	for _, automation := range automations {
		matched, err := m.matches(automation, event)
		if err != nil {
			logger.Error("Trigger filter evaluation failed, skipping automation",
				"automation_id", automation.ID, "error", err)

			continue
		}

		if !matched {
			continue
		}

		if err := m.registry.ValidateAutomation(automation); err != nil {
			logger.Error("Automation failed validation, skipping",
				"automation_id", automation.ID, "error", err)

			continue
		}

		m.startRun(ctx, automation, subscriberID, event, logger)
	}

	return nil
}

// matches applies the trigger's optional params filter against the event
// payload. Empty params match every event of the trigger's type.
func (m *TriggerMatcher) matches(automation *models.Automation, event *events.DomainEvent) (bool, error) {
	if len(automation.Trigger.Params) == 0 {
		return true, nil
	}

	return condition.Evaluate(automation.Trigger.Params, event.Payload)
}

func (m *TriggerMatcher) startRun(ctx context.Context, automation *models.Automation, subscriberID string, event *events.DomainEvent, logger *slog.Logger) {
	initialContext := make(map[string]any, len(event.Payload)+1)
	for key, value := range event.Payload {
		initialContext[key] = value
	}

	if _, ok := initialContext["subscriber_id"]; !ok {
		initialContext["subscriber_id"] = subscriberID
	}

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		_, err := m.engine.Start(ctx, automation, subscriberID, event.ID, initialContext)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Run failed", "automation_id", automation.ID, "subscriber_id", subscriberID, "error", err)
		}
	}()
}

func resolveSubscriber(event *events.DomainEvent) string {
	if event.SubscriberID != "" {
		return event.SubscriberID
	}

	if id, ok := event.Payload["subscriber_id"].(string); ok {
		return id
	}

	return ""
}
