package models

import "strings"

// DefaultConfidenceScore is assumed when a decomposition carries no self-reflection.
const DefaultConfidenceScore = 10.0

// Decomposition is the set of child concepts derived from a topic.
type Decomposition struct {
	DepthLevel       int         `json:"depthLevel"`
	TotalConcepts    int         `json:"totalConcepts"`
	Concepts         []Concept   `json:"concepts" validate:"dive"`
	LearningSequence []string    `json:"learningSequence,omitempty"`
	InScope          []string    `json:"inScope,omitempty"`
	OutOfScope       []string    `json:"outOfScope,omitempty"`
	Reflection       *Reflection `json:"reflection,omitempty"`
}

// Reflection is the provider's self-assessment of a decomposition.
type Reflection struct {
	DomainCorrectnessScore float64 `json:"domainCorrectnessScore"`
	Reasoning              string  `json:"reasoning,omitempty"`
}

// ConfidenceScore returns the self-reported correctness score on a 0-10 scale.
func (d *Decomposition) ConfidenceScore() float64 {
	if d == nil || d.Reflection == nil || d.Reflection.DomainCorrectnessScore <= 0 {
		return DefaultConfidenceScore
	}
	return d.Reflection.DomainCorrectnessScore
}

// Verdict is a quality decision returned by critique or validation.
type Verdict string

const (
	// VerdictPass accepts an explanation as is.
	VerdictPass Verdict = "PASS"
	// VerdictRevise asks for targeted fixes.
	VerdictRevise Verdict = "REVISE"
	// VerdictRethink asks for a substantial rewrite.
	VerdictRethink Verdict = "RETHINK"
	// VerdictValid accepts a decomposition.
	VerdictValid Verdict = "VALID"
	// VerdictNeedsRedecomposition rejects a decomposition.
	VerdictNeedsRedecomposition Verdict = "NEEDS_REDECOMPOSITION"
)

// Normalize upper-cases and trims a verdict returned by the provider.
func (v Verdict) Normalize() Verdict {
	return Verdict(strings.ToUpper(strings.TrimSpace(string(v))))
}

// Fix is a single change requested by a critique.
type Fix struct {
	Issue    string `json:"issue"`
	Fix      string `json:"fix"`
	Priority int    `json:"priority"`
}

// Critique is a reader-persona review of an explanation.
type Critique struct {
	Persona string             `json:"persona,omitempty"`
	Verdict Verdict            `json:"verdict" validate:"required"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	Fixes   []Fix              `json:"fixes,omitempty"`
}

// NeedsRevision reports whether the critique asks for changes.
func (c *Critique) NeedsRevision() bool {
	if c == nil {
		return false
	}
	v := c.Verdict.Normalize()
	return v == VerdictRevise || v == VerdictRethink
}

// ValidationIssue is a problem found in a decomposition.
type ValidationIssue struct {
	Type      string `json:"type"`
	ConceptID string `json:"conceptId,omitempty"`
	Problem   string `json:"problem"`
	Fix       string `json:"fix,omitempty"`
}

// Validation is an independent review of a decomposition.
type Validation struct {
	Verdict        Verdict           `json:"verdict" validate:"required"`
	Issues         []ValidationIssue `json:"issues,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
}

// NeedsRedecomposition reports whether the decomposition should be replaced.
func (v *Validation) NeedsRedecomposition() bool {
	return v != nil && v.Verdict.Normalize() == VerdictNeedsRedecomposition
}

// Similarity is the provider's semantic duplicate judgment.
type Similarity struct {
	IsSimilar bool   `json:"isSimilar"`
	SimilarTo string `json:"similarTo,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}
