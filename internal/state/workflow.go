package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// WorkflowState is everything needed to resume a session's run.
type WorkflowState struct {
	Topic        string         `json:"topic"`
	Depth        int            `json:"depth"`
	Persona      models.Persona `json:"persona"`
	CurrentPhase models.Phase   `json:"currentPhase"`

	// Explanations maps a topic to its final explanation.
	Explanations map[string]models.Explanation `json:"explanations"`
	// Children maps an explained topic to the filtered child concepts chosen for it.
	Children map[string][]models.Concept `json:"children"`

	ValidationAttempts   int            `json:"validationAttempts"`
	RedecompositionCount int            `json:"redecompositionCount"`
	ConceptIterations    map[string]int `json:"conceptIterations"`

	ExplainedConcepts []string `json:"explainedConcepts"`
	FailedConcepts    []string `json:"failedConcepts"`
	Warnings          []string `json:"warnings"`

	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func initialState() WorkflowState {
	return WorkflowState{
		CurrentPhase:      models.PhaseScout,
		Explanations:      map[string]models.Explanation{},
		Children:          map[string][]models.Concept{},
		ConceptIterations: map[string]int{},
		ExplainedConcepts: []string{},
		FailedConcepts:    []string{},
		Warnings:          []string{},
	}
}

// clone copies every map and slice so the result shares nothing mutable.
// Explanation and Concept values are treated as immutable.
func (s WorkflowState) clone() WorkflowState {
	c := s
	c.Explanations = make(map[string]models.Explanation, len(s.Explanations))
	for k, v := range s.Explanations {
		c.Explanations[k] = v
	}
	c.Children = make(map[string][]models.Concept, len(s.Children))
	for k, v := range s.Children {
		c.Children[k] = append([]models.Concept(nil), v...)
	}
	c.ConceptIterations = make(map[string]int, len(s.ConceptIterations))
	for k, v := range s.ConceptIterations {
		c.ConceptIterations[k] = v
	}
	c.ExplainedConcepts = append([]string{}, s.ExplainedConcepts...)
	c.FailedConcepts = append([]string{}, s.FailedConcepts...)
	c.Warnings = append([]string{}, s.Warnings...)
	return c
}

// normalize fills nil collections left by older or hand-edited files.
func (s *WorkflowState) normalize() {
	if s.Explanations == nil {
		s.Explanations = map[string]models.Explanation{}
	}
	if s.Children == nil {
		s.Children = map[string][]models.Concept{}
	}
	if s.ConceptIterations == nil {
		s.ConceptIterations = map[string]int{}
	}
	if s.ExplainedConcepts == nil {
		s.ExplainedConcepts = []string{}
	}
	if s.FailedConcepts == nil {
		s.FailedConcepts = []string{}
	}
	if s.Warnings == nil {
		s.Warnings = []string{}
	}
}

// WorkflowStore holds a session's WorkflowState and flushes it to disk on
// every mutation. A mutation is visible in memory only after it is durable.
type WorkflowStore struct {
	mu    sync.Mutex
	path  string
	state WorkflowState
	now   func() time.Time
}

// NewWorkflowStore returns a store with an initial state. Nothing is written
// until the first mutation.
func NewWorkflowStore(path string) *WorkflowStore {
	return &WorkflowStore{
		path:  path,
		state: initialState(),
		now:   time.Now,
	}
}

// OpenWorkflowStore returns a store loaded from path. A missing file yields an initial state.
func OpenWorkflowStore(path string) (*WorkflowStore, error) {
	s := NewWorkflowStore(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the state file path.
func (s *WorkflowStore) Path() string {
	return s.path
}

// Load replaces the in-memory state with the file's contents.
func (s *WorkflowStore) Load() error {
	ws, err := ReadWorkflowState(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ws == nil {
		s.state = initialState()
		return nil
	}
	s.state = *ws
	return nil
}

// Update applies fn to a copy of the state, persists it, and only then makes
// it current. If persisting fails the in-memory state is unchanged.
func (s *WorkflowStore) Update(fn func(*WorkflowState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	fn(&next)
	next.UpdatedAt = s.now().UTC()

	if err := writeStateFile(s.path, &next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Reset discards all progress and persists the initial state.
func (s *WorkflowStore) Reset() error {
	return s.Update(func(ws *WorkflowState) {
		*ws = initialState()
	})
}

// Snapshot returns a deep copy of the current state.
func (s *WorkflowStore) Snapshot() WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Explanation returns the persisted explanation for topic.
func (s *WorkflowStore) Explanation(topic string) (models.Explanation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.Explanations[topic]
	return e, ok
}

// ChildrenOf returns the persisted child list for topic. ok is false if the
// topic was never decomposed.
func (s *WorkflowStore) ChildrenOf(topic string) ([]models.Concept, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Children[topic]
	if !ok {
		return nil, false
	}
	return append([]models.Concept(nil), c...), true
}

// SetPhase records the current phase.
func (s *WorkflowStore) SetPhase(phase models.Phase) error {
	return s.Update(func(ws *WorkflowState) { ws.CurrentPhase = phase })
}

// AddExplanation records topic's final explanation and marks it explained.
func (s *WorkflowStore) AddExplanation(topic string, e models.Explanation) error {
	return s.Update(func(ws *WorkflowState) {
		ws.Explanations[topic] = e
		if !contains(ws.ExplainedConcepts, topic) {
			ws.ExplainedConcepts = append(ws.ExplainedConcepts, topic)
		}
		ws.FailedConcepts = remove(ws.FailedConcepts, topic)
	})
}

// SetChildren records the filtered child concepts chosen for topic.
func (s *WorkflowStore) SetChildren(topic string, children []models.Concept) error {
	return s.Update(func(ws *WorkflowState) {
		ws.Children[topic] = append([]models.Concept{}, children...)
	})
}

// RecordIteration increments topic's revision counter.
func (s *WorkflowStore) RecordIteration(topic string) error {
	return s.Update(func(ws *WorkflowState) { ws.ConceptIterations[topic]++ })
}

// RecordValidation increments the validation attempt counter, and the
// re-decomposition counter when redecomposed is true.
func (s *WorkflowStore) RecordValidation(redecomposed bool) error {
	return s.Update(func(ws *WorkflowState) {
		ws.ValidationAttempts++
		if redecomposed {
			ws.RedecompositionCount++
		}
	})
}

// MarkFailed records topic as failed with a warning.
func (s *WorkflowStore) MarkFailed(topic, reason string) error {
	return s.Update(func(ws *WorkflowState) {
		if !contains(ws.FailedConcepts, topic) {
			ws.FailedConcepts = append(ws.FailedConcepts, topic)
		}
		ws.Warnings = append(ws.Warnings, fmt.Sprintf("%s: %s", topic, reason))
	})
}

// AddWarning appends a warning.
func (s *WorkflowStore) AddWarning(msg string) error {
	return s.Update(func(ws *WorkflowState) { ws.Warnings = append(ws.Warnings, msg) })
}

// ReadWorkflowState reads a state file without a store. A missing file returns nil, nil.
func ReadWorkflowState(path string) (*WorkflowState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow state: %w", err)
	}

	var ws WorkflowState
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode workflow state %s: %w", path, err)
	}
	ws.normalize()
	return &ws, nil
}

// writeStateFile writes atomically: temp file in the same directory, fsync, rename.
func writeStateFile(path string, ws *WorkflowState) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
