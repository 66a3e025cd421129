package models

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended" // Waiting on a delay node
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the serializable cursor for one execution of an Automation for one
// subscriber. A suspended Run can be dropped from memory and reconstructed
// entirely from this struct, so delays survive process restarts.
type Run struct {
	ID                string         `json:"id"`
	AutomationID      string         `json:"automation_id"       validate:"required"`
	SubscriberID      string         `json:"subscriber_id"       validate:"required"`
	TriggerInstanceID string         `json:"trigger_instance_id" validate:"required"`
	CurrentNodeID     string         `json:"current_node_id"`
	Context           map[string]any `json:"context,omitempty"`
	Status            RunStatus      `json:"status"`
	ResumeAt          *time.Time     `json:"resume_at,omitempty"` // Set while suspended
	Error             string         `json:"error,omitempty"`
	Visits            int            `json:"visits"` // Total node visits, for the cycle budget
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// InFlight reports whether the Run still has work pending.
func (r *Run) InFlight() bool {
	return r.Status == RunStatusRunning || r.Status == RunStatusSuspended
}

// Due reports whether a suspended Run is ready to resume at the given time.
func (r *Run) Due(now time.Time) bool {
	return r.Status == RunStatusSuspended && r.ResumeAt != nil && !r.ResumeAt.After(now)
}
