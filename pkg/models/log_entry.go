package models

import "time"

// LogStatus is the outcome recorded for one node execution attempt.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailure LogStatus = "failure"
)

// LogEntry is one row of the append-only automation log. An entry is written
// for every node execution attempt, including failed retries, and is never
// mutated or deleted by the engine.
type LogEntry struct {
	ID                string         `json:"id"`
	AutomationID      string         `json:"automation_id" validate:"required"`
	RunID             string         `json:"run_id"`
	NodeID            string         `json:"node_id"       validate:"required"`
	SubscriberID      string         `json:"subscriber_id" validate:"required"`
	TriggerInstanceID string         `json:"trigger_instance_id"`
	Status            LogStatus      `json:"status"        validate:"required"`
	Input             map[string]any `json:"input,omitempty"`
	Output            map[string]any `json:"output,omitempty"`
	Error             string         `json:"error,omitempty"`
	Attempt           int            `json:"attempt"`
	ExecutedAt        time.Time      `json:"executed_at"`
}

// NodeReport aggregates per-node outcomes for one automation, the shape the
// reporting surface serves to operators.
type NodeReport struct {
	NodeID    string `json:"node_id"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}
