package events

import (
	"github.com/ShayCichocki/explainit/pkg/models"
)

// LogPayload is published on TopicLog.
type LogPayload struct {
	Level   string
	Message string
}

// NodeEventKind distinguishes first sight of a node from later changes.
type NodeEventKind string

const (
	NodeDiscovered NodeEventKind = "discovered"
	NodeUpdated    NodeEventKind = "updated"
)

// NodePayload is published on TopicNode. Node is a childless snapshot.
type NodePayload struct {
	Kind NodeEventKind
	Node *models.ConceptNode
	// ParentKey is the parent's NodeKey, empty for the root.
	ParentKey string
	Depth     int
}

// Key returns a tree-unique identifier for the node.
func (p NodePayload) Key() string {
	if p.Node == nil {
		return ""
	}
	return NodeKey(p.Node)
}

// NodeKey returns the identifier used to correlate node events.
// The output path is unique within a tree; the name is used before a path is assigned.
func NodeKey(n *models.ConceptNode) string {
	if n.RelativeOutputPath != "" {
		return n.RelativeOutputPath
	}
	return n.Name
}

// WorkflowPayload is published on TopicWorkflow.
type WorkflowPayload struct {
	Phase   models.Phase
	Message string
}

// InputPayload is published on TopicInput when the engine needs an answer.
type InputPayload struct {
	Prompt  string
	Options []string
}

// ErrorPayload is published on TopicError.
type ErrorPayload struct {
	Message string
	Subject string
	// Fatal is true when the run cannot continue.
	Fatal bool
}

// Log publishes a log line.
func (b *Bus) Log(level, message string) {
	b.Publish(TopicLog, LogPayload{Level: level, Message: message})
}

// Node publishes a node snapshot. The node is cloned so subscribers never
// share the engine's tree.
func (b *Bus) Node(kind NodeEventKind, node *models.ConceptNode, parentKey string, depth int) {
	b.Publish(TopicNode, NodePayload{Kind: kind, Node: node.Clone(), ParentKey: parentKey, Depth: depth})
}

// Phase publishes a workflow phase change.
func (b *Bus) Phase(phase models.Phase, message string) {
	b.Publish(TopicWorkflow, WorkflowPayload{Phase: phase, Message: message})
}

// Warn publishes a non-fatal error about subject.
func (b *Bus) Warn(subject, message string) {
	b.Publish(TopicError, ErrorPayload{Subject: subject, Message: message})
}

// Fatal publishes an error that ends the run.
func (b *Bus) Fatal(message string) {
	b.Publish(TopicError, ErrorPayload{Message: message, Fatal: true})
}
