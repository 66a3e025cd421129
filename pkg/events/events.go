// Package events defines the domain events the engine consumes from the
// event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic domain events are published on by the surrounding
// system. The engine only consumes it.
const Topic = "dripline.domain.events"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

// Domain event types an automation trigger can bind to.
const (
	EventNewLead       EventType = "new_lead"
	EventClick         EventType = "click"
	EventFormSubmitted EventType = "form_submitted"
	EventTagAdded      EventType = "tag_added"
)

// Types lists every known domain event type, in the order they were added.
func Types() []EventType {
	return []EventType{EventNewLead, EventClick, EventFormSubmitted, EventTagAdded}
}

// DomainEvent is one occurrence of a subscriber-scoped domain event. ID
// doubles as the trigger instance id for Run idempotency, so redelivery of
// the same event never produces duplicate Runs.
type DomainEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	SubscriberID string         `json:"subscriber_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (e DomainEvent) GetType() EventType {
	return e.Type
}

func NewDomainEvent(eventType EventType, subscriberID string, payload map[string]any) *DomainEvent {
	return &DomainEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		SubscriberID: subscriberID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}
