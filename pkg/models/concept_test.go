package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTree() *ConceptNode {
	return &ConceptNode{
		Concept: Concept{ID: "root", Name: "Go"},
		Status:  NodeStatusDone,
		Children: []*ConceptNode{
			{
				Concept: Concept{ID: "1", Name: "Goroutines"},
				Status:  NodeStatusDone,
				Children: []*ConceptNode{
					{Concept: Concept{ID: "1_1", Name: "Scheduler"}, Status: NodeStatusFailed},
				},
			},
			{Concept: Concept{ID: "2", Name: "Channels"}, Status: NodeStatusDone},
		},
	}
}

func TestConceptNode_WalkOrder(t *testing.T) {
	var names []string
	var depths []int
	sampleTree().Walk(func(n *ConceptNode, depth int) bool {
		names = append(names, n.Name)
		depths = append(depths, depth)
		return true
	})

	assert.Equal(t, []string{"Go", "Goroutines", "Scheduler", "Channels"}, names)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)
}

func TestConceptNode_WalkSkipsChildren(t *testing.T) {
	var names []string
	sampleTree().Walk(func(n *ConceptNode, _ int) bool {
		names = append(names, n.Name)
		return n.Name != "Goroutines"
	})
	assert.Equal(t, []string{"Go", "Goroutines", "Channels"}, names)
}

func TestConceptNode_CountByStatus(t *testing.T) {
	counts := sampleTree().CountByStatus()
	assert.Equal(t, 3, counts[NodeStatusDone])
	assert.Equal(t, 1, counts[NodeStatusFailed])
}

func TestConceptNode_Find(t *testing.T) {
	tree := sampleTree()
	assert.Equal(t, "1_1", tree.Find("Scheduler").ID)
	assert.Nil(t, tree.Find("Select"))
}

func TestConceptNode_CloneDropsChildren(t *testing.T) {
	tree := sampleTree()
	c := tree.Clone()
	assert.Nil(t, c.Children)
	assert.Equal(t, tree.Name, c.Name)
	assert.Len(t, tree.Children, 2)
}

func TestNodeStatus_Valid(t *testing.T) {
	assert.True(t, NodeStatusInProgress.Valid())
	assert.False(t, NodeStatus("in_progress").Valid())
}
