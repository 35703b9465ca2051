package models

// NodeStatus represents the generation state of a concept node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node is scheduled but not started.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusInProgress indicates content is being generated for the node.
	NodeStatusInProgress NodeStatus = "in-progress"
	// NodeStatusDone indicates the node's explanation is final.
	NodeStatusDone NodeStatus = "done"
	// NodeStatusFailed indicates generation failed somewhere in the node's own steps.
	NodeStatusFailed NodeStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusInProgress, NodeStatusDone, NodeStatusFailed:
		return true
	default:
		return false
	}
}

// Concept is a named unit of knowledge produced by decomposition.
// Concepts are never mutated after the provider returns them.
type Concept struct {
	// ID is the provider-assigned identifier, used by learning sequences.
	ID string `json:"id"`
	// Name is the human-readable concept name.
	Name string `json:"name" validate:"required"`
	// OneLiner is a short summary of the concept.
	OneLiner string `json:"oneLiner,omitempty"`
	// IsAtomic is the provider's hint that the concept is a leaf.
	IsAtomic bool `json:"isAtomic"`
	// DependsOn lists IDs of prerequisite concepts.
	DependsOn []string `json:"dependsOn,omitempty"`
}

// ConceptNode is a Concept placed in the output tree.
type ConceptNode struct {
	Concept

	// Status is the current generation state.
	Status NodeStatus `json:"status"`
	// Children are the nodes derived from decomposing this concept.
	Children []*ConceptNode `json:"children,omitempty"`
	// Explanation is the generated content, set once the node is explained.
	Explanation *Explanation `json:"explanation,omitempty"`
	// RelativeOutputPath is the page path relative to the docs root.
	RelativeOutputPath string `json:"relativeOutputPath"`
	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`
}

// Walk visits the node and all of its descendants depth-first, parents before children.
// Returning false from fn stops descent into that node's children.
func (n *ConceptNode) Walk(fn func(node *ConceptNode, depth int) bool) {
	n.walk(fn, 0)
}

func (n *ConceptNode) walk(fn func(node *ConceptNode, depth int) bool, depth int) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// CountByStatus returns the number of nodes in the subtree for each status.
func (n *ConceptNode) CountByStatus() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	n.Walk(func(node *ConceptNode, _ int) bool {
		counts[node.Status]++
		return true
	})
	return counts
}

// Find returns the first node in the subtree with the given name, or nil.
func (n *ConceptNode) Find(name string) *ConceptNode {
	var found *ConceptNode
	n.Walk(func(node *ConceptNode, _ int) bool {
		if found != nil {
			return false
		}
		if node.Name == name {
			found = node
			return false
		}
		return true
	})
	return found
}

// Clone returns a copy of the node without its children.
// Used when publishing snapshots so subscribers never share the engine's tree.
func (n *ConceptNode) Clone() *ConceptNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = nil
	if n.DependsOn != nil {
		c.DependsOn = append([]string(nil), n.DependsOn...)
	}
	return &c
}
