// Package models defines the core domain models for subscriber automations.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Trigger identifies the domain event that starts Runs for an Automation.
// Params is an optional condition-style filter evaluated against the event
// payload; an empty Params matches every event of the trigger's type.
type Trigger struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"   validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// Automation is a stored trigger plus node graph definition. The node
// collection preserves authoring order; the first node is the entry node.
type Automation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"       validate:"required,min=3"`
	Enabled   bool           `json:"enabled"`
	Trigger   Trigger        `json:"trigger"    validate:"required"`
	Nodes     []*Node        `json:"nodes"`
	Metadata  map[string]any `json:"metadata,omitempty"` // Editor layout etc., ignored by the engine
	Owner     string         `json:"owner"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

var (
	ErrNoNodes            = errors.New("automation has no nodes")
	ErrDuplicateNodeID    = errors.New("duplicate node id")
	ErrDanglingReference  = errors.New("node references unknown id")
	ErrAmbiguousSuccessor = errors.New("node declares both next and branches")
	ErrGraphCycle         = errors.New("node graph contains a cycle")
)

// EntryNode returns the node execution starts at. Runs begin at the first
// node of the collection.
func (a *Automation) EntryNode() *Node {
	if len(a.Nodes) == 0 {
		return nil
	}

	return a.Nodes[0]
}

// NodeByID resolves a node by id. Nodes are kept in an ordered slice keyed
// by id lookup so the graph stays serializable; the collections are small
// enough that a linear scan is fine.
func (a *Automation) NodeByID(id string) (*Node, bool) {
	for _, node := range a.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Validate checks the structural invariants of the node graph: unique ids,
// no dangling next/branch references, at most one successor declaration per
// node, and acyclicity. It runs at load time so a broken graph never reaches
// the executor.
func (a *Automation) Validate() error {
	if len(a.Nodes) == 0 {
		return ErrNoNodes
	}

	seen := make(map[string]bool, len(a.Nodes))
	for _, node := range a.Nodes {
		if seen[node.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		seen[node.ID] = true
	}

	for _, node := range a.Nodes {
		if node.Next != nil && node.Branches != nil {
			return fmt.Errorf("%w: %s", ErrAmbiguousSuccessor, node.ID)
		}

		for _, successor := range node.Successors() {
			if !seen[successor] {
				return fmt.Errorf("%w: %s -> %s", ErrDanglingReference, node.ID, successor)
			}
		}
	}

	return a.checkAcyclic()
}

// checkAcyclic runs a DFS over the successor edges, three-color style: a
// back edge to a node still on the stack is a cycle.
func (a *Automation) checkAcyclic() error {
	const (
		inStack = 1
		done    = 2
	)

	state := make(map[string]int, len(a.Nodes))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case inStack:
			return fmt.Errorf("%w: at node %s", ErrGraphCycle, id)
		case done:
			return nil
		}

		state[id] = inStack

		node, _ := a.NodeByID(id)
		for _, successor := range node.Successors() {
			if err := visit(successor); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	for _, node := range a.Nodes {
		if err := visit(node.ID); err != nil {
			return err
		}
	}

	return nil
}
