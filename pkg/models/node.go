package models

// Node kinds with engine-level semantics. Any other type string is an action
// dispatched through the registry.
const (
	NodeTypeCondition = "condition"
	NodeTypeDelay     = "delay"
)

// Branches holds a condition node's successor edges. A nil True or False
// means the corresponding outcome is a dead end and the Run stops there.
type Branches struct {
	True  *string `json:"true,omitempty"`
	False *string `json:"false,omitempty"`
}

// Node is one step in an Automation graph. Next and Branches are mutually
// exclusive; a node with neither is terminal.
type Node struct {
	ID       string         `json:"id"       validate:"required"`
	Type     string         `json:"type"     validate:"required"`
	Label    string         `json:"label,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Next     *string        `json:"next,omitempty"`
	Branches *Branches      `json:"branches,omitempty"`
}

func (n *Node) IsCondition() bool {
	return n.Type == NodeTypeCondition
}

func (n *Node) IsDelay() bool {
	return n.Type == NodeTypeDelay
}

// IsTerminal reports whether the node has no successor edges at all.
func (n *Node) IsTerminal() bool {
	return n.Next == nil && n.Branches == nil
}

// Successors returns every node id reachable from this node in one step.
func (n *Node) Successors() []string {
	ids := make([]string, 0, 2)

	if n.Next != nil {
		ids = append(ids, *n.Next)
	}

	if n.Branches != nil {
		if n.Branches.True != nil {
			ids = append(ids, *n.Branches.True)
		}

		if n.Branches.False != nil {
			ids = append(ids, *n.Branches.False)
		}
	}

	return ids
}

// Branch resolves the successor for a condition outcome. The second return
// is false when the required branch target is absent (an explicit dead end).
func (n *Node) Branch(outcome bool) (string, bool) {
	if n.Branches == nil {
		return "", false
	}

	target := n.Branches.False
	if outcome {
		target = n.Branches.True
	}

	if target == nil {
		return "", false
	}

	return *target, true
}
