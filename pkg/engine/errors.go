// Package engine contains the trigger matcher and the per-subscriber graph
// executor, the stateful core of dripline.
package engine

import (
	"errors"
	"fmt"
)

// StructuralError marks a broken graph discovered at runtime: a dangling
// node reference or a suspected cycle. Always fatal to the Run, never
// retried, logged once.
type StructuralError struct {
	AutomationID string
	NodeID       string
	Err          error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in automation %s at node %s: %v", e.AutomationID, e.NodeID, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// ConditionError marks malformed condition params, fatal to the Run at that
// node.
type ConditionError struct {
	NodeID string
	Err    error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition error at node %s: %v", e.NodeID, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

var (
	// ErrCycleSuspected is wrapped in a StructuralError when a Run exceeds
	// its visit budget.
	ErrCycleSuspected = errors.New("cycle suspected: visit budget exceeded")

	// ErrAutomationGone is the unavailable-class failure an in-flight Run
	// hits when its automation was deleted under it.
	ErrAutomationGone = errors.New("automation no longer exists")
)
