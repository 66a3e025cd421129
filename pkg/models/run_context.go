package models

import "maps"

// RunContext is the view of a Run handed to actions and condition
// evaluation: the accumulated context plus identifying metadata. Actions get
// a copy of the data; only the executor merges outputs back.
type RunContext struct {
	RunID             string         `json:"run_id"`
	AutomationID      string         `json:"automation_id"`
	SubscriberID      string         `json:"subscriber_id"`
	TriggerInstanceID string         `json:"trigger_instance_id"`
	NodeID            string         `json:"node_id"`
	Params            map[string]any `json:"params,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
}

// MergedData returns Data with the given output merged in, without mutating
// the receiver. Later keys win.
func (rc RunContext) MergedData(output map[string]any) map[string]any {
	merged := make(map[string]any, len(rc.Data)+len(output))
	maps.Copy(merged, rc.Data)
	maps.Copy(merged, output)

	return merged
}
