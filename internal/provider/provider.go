// Package provider defines the content generation operations consumed by the
// orchestration engine and an implementation backed by an LLM completer.
//
// Every operation may fail transiently or return malformed output. The LLM
// implementation retries both through a retry.Handler before giving up.
package provider

import (
	"context"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// Provider generates and judges content for concepts.
type Provider interface {
	// Decompose splits a topic into child concepts.
	Decompose(ctx context.Context, req DecomposeRequest) (*models.Decomposition, error)
	// Explain produces the explanation payload for a concept.
	Explain(ctx context.Context, req ExplainRequest) (*models.Explanation, error)
	// Critique reviews an explanation from a reader persona's point of view.
	Critique(ctx context.Context, req CritiqueRequest) (*models.Critique, error)
	// Revise rewrites an explanation to address a critique.
	Revise(ctx context.Context, req ReviseRequest) (*models.Explanation, error)
	// Validate independently checks a decomposition.
	Validate(ctx context.Context, req ValidateRequest) (*models.Validation, error)
	// Redecompose produces a corrected decomposition.
	Redecompose(ctx context.Context, req RedecomposeRequest) (*models.Decomposition, error)
	// CheckSimilarity judges whether candidate duplicates any existing concept.
	// An empty existing set is never similar.
	CheckSimilarity(ctx context.Context, candidate string, existing []string) (*models.Similarity, error)
}

// DecomposeRequest carries the conditioning for a decomposition.
type DecomposeRequest struct {
	Topic string
	// Depth is the depth of the node being decomposed (root is 0).
	Depth int
	// RemainingDepth is how many more levels may be generated below Topic.
	RemainingDepth int
	// Context is the topic's own explanation, when available.
	Context *models.Explanation
	// Ancestors lists topics from the root down to Topic's parent.
	Ancestors []string
	RootTopic string
	// Explored is the session's explored-concept set at fork time.
	Explored []string
}

// ExplainRequest asks for a new explanation.
type ExplainRequest struct {
	Concept string
	Depth   int
	// PreviousConcepts are the ancestors the reader has already seen.
	PreviousConcepts []string
	Persona          models.Persona
}

// CritiqueRequest asks for a persona review.
type CritiqueRequest struct {
	Explanation *models.Explanation
	ConceptName string
	Depth       int
	Persona     models.Persona
}

// ReviseRequest asks for a revised explanation.
type ReviseRequest struct {
	Explanation *models.Explanation
	Critique    *models.Critique
	// Iteration is the 1-based revision number.
	Iteration int
}

// ValidateRequest asks for an independent review of a decomposition.
type ValidateRequest struct {
	Topic         string
	RootTopic     string
	Context       *models.Explanation
	Decomposition *models.Decomposition
}

// RedecomposeRequest asks for a decomposition that fixes validation issues.
type RedecomposeRequest struct {
	Topic         string
	Decomposition *models.Decomposition
	Issues        []models.ValidationIssue
}
