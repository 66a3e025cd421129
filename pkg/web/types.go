// Package web provides the read-only reporting API over automations and
// their execution log. Writes belong to the administrative surface, not
// here.
package web

import (
	"time"

	"github.com/dripline/dripline/pkg/models"
)

// ListAutomationsQuery carries the query parameters for listing automations.
type ListAutomationsQuery struct {
	TriggerType string `query:"trigger_type" validate:"omitempty,min=1"`
	EnabledOnly bool   `query:"enabled_only"`
}

// AutomationSummary is the list-view projection of an automation: the node
// graph stays out of the listing.
type AutomationSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	TriggerType string    `json:"trigger_type"`
	NodeCount   int       `json:"node_count"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func summarize(automation *models.Automation) AutomationSummary {
	return AutomationSummary{
		ID:          automation.ID,
		Name:        automation.Name,
		Enabled:     automation.Enabled,
		TriggerType: automation.Trigger.Type,
		NodeCount:   len(automation.Nodes),
		Owner:       automation.Owner,
		CreatedAt:   automation.CreatedAt,
		UpdatedAt:   automation.UpdatedAt,
	}
}
