package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/provider"
)

// DuplicateReason names the rule that rejected a candidate concept.
type DuplicateReason string

const (
	ReasonNone      DuplicateReason = ""
	ReasonAncestor  DuplicateReason = "ancestor"
	ReasonExact     DuplicateReason = "exact"
	ReasonPlural    DuplicateReason = "plural"
	ReasonSubstring DuplicateReason = "substring"
	ReasonSemantic  DuplicateReason = "semantic"
)

// minSubstringLen is the length both names must exceed for containment to count.
const minSubstringLen = 5

// similarityPolicy decides whether a candidate duplicates an explored concept.
// The cheap lexical rules run first; the provider is asked only when they
// all pass, and a provider failure counts as not similar.
type similarityPolicy struct {
	provider provider.Provider
	logger   *zap.Logger
}

// check returns the rule that matched, or ReasonNone.
func (p *similarityPolicy) check(ctx context.Context, candidate string, explored []string) (DuplicateReason, string) {
	c := normalize(candidate)
	if c == "" {
		return ReasonExact, ""
	}

	for _, name := range explored {
		if reason := lexicalMatch(c, normalize(name)); reason != ReasonNone {
			return reason, name
		}
	}

	if len(explored) == 0 || p.provider == nil {
		return ReasonNone, ""
	}

	sim, err := p.provider.CheckSimilarity(ctx, candidate, explored)
	if err != nil {
		p.logger.Warn("similarity check failed, keeping candidate",
			zap.String("candidate", candidate),
			zap.Error(err))
		return ReasonNone, ""
	}
	if sim.IsSimilar {
		return ReasonSemantic, sim.SimilarTo
	}
	return ReasonNone, ""
}

// lexicalMatch compares two normalized names.
func lexicalMatch(candidate, existing string) DuplicateReason {
	if existing == "" {
		return ReasonNone
	}
	if candidate == existing {
		return ReasonExact
	}
	if strings.TrimSuffix(candidate, "s") == strings.TrimSuffix(existing, "s") {
		return ReasonPlural
	}
	if len(candidate) > minSubstringLen && len(existing) > minSubstringLen &&
		(strings.Contains(candidate, existing) || strings.Contains(existing, candidate)) {
		return ReasonSubstring
	}
	return ReasonNone
}
