package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/explainit/internal/api"
	"github.com/ShayCichocki/explainit/internal/parser"
	"github.com/ShayCichocki/explainit/internal/retry"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// scripted returns canned responses in order and records every request.
type scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []api.CompletionRequest
}

func (s *scripted) Complete(_ context.Context, req api.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestLLM(t *testing.T, c api.Completer, attempts int) *LLM {
	t.Helper()
	h := retry.NewHandler(
		retry.Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	return NewLLM(c, h)
}

const closuresJSON = `{"conceptName":"Closures","simpleExplanation":"A function that remembers its scope.","checkUnderstanding":[],"references":{}}`

func TestExplainParsesFencedJSON(t *testing.T) {
	c := &scripted{responses: []string{"Here you go:\n```json\n" + closuresJSON + "\n```\nEnjoy."}}
	p := newTestLLM(t, c, 1)

	e, err := p.Explain(context.Background(), ExplainRequest{Concept: "Closures", Depth: 1, PreviousConcepts: []string{"JavaScript"}})
	require.NoError(t, err)
	assert.Equal(t, "Closures", e.ConceptName)
	assert.Equal(t, "A function that remembers its scope.", e.SimpleExplanation)

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Contains(t, req.Prompt, `"Closures"`)
	assert.Contains(t, req.Prompt, "JavaScript")
	assert.Contains(t, req.System, string(models.DefaultPersona))
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
}

func TestExplainRetriesMalformedOutput(t *testing.T) {
	c := &scripted{responses: []string{"I cannot answer in JSON today", closuresJSON}}
	p := newTestLLM(t, c, 3)

	e, err := p.Explain(context.Background(), ExplainRequest{Concept: "Closures"})
	require.NoError(t, err)
	assert.Equal(t, "Closures", e.ConceptName)
	assert.Equal(t, 2, c.calls())
}

func TestExplainRejectsPayloadMissingRequiredFields(t *testing.T) {
	c := &scripted{responses: []string{`{"category":"x"}`, `{"category":"y"}`}}
	p := newTestLLM(t, c, 2)

	_, err := p.Explain(context.Background(), ExplainRequest{Concept: "Closures"})
	require.Error(t, err)
	assert.True(t, parser.IsParseError(err))

	var ex *retry.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.Equal(t, OpExplain, ex.Op.Operation)
}

func TestExplainStopsOnPermanentError(t *testing.T) {
	c := &scripted{errs: []error{retry.Permanent(errors.New("401 unauthorized"))}}
	p := newTestLLM(t, c, 3)

	_, err := p.Explain(context.Background(), ExplainRequest{Concept: "Closures"})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, 1, c.calls())
}

func TestCritiqueNormalizesVerdict(t *testing.T) {
	c := &scripted{responses: []string{`{"verdict":" revise ","fixes":[{"issue":"jargon","fix":"define scope","priority":1}]}`}}
	p := newTestLLM(t, c, 1)

	crit, err := p.Critique(context.Background(), CritiqueRequest{
		Explanation: &models.Explanation{ConceptName: "Closures", SimpleExplanation: "x"},
		ConceptName: "Closures",
		Persona:     models.PersonaExpert,
	})
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRevise, crit.Verdict)
	assert.True(t, crit.NeedsRevision())
	require.Len(t, crit.Fixes, 1)

	req := c.requests[0]
	assert.Contains(t, req.System, models.PersonaExpert.Definition())
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
}

func TestCritiqueUnknownVerdictIsRetried(t *testing.T) {
	c := &scripted{responses: []string{`{"verdict":"MAYBE"}`, `{"verdict":"PASS"}`}}
	p := newTestLLM(t, c, 2)

	crit, err := p.Critique(context.Background(), CritiqueRequest{ConceptName: "Closures"})
	require.NoError(t, err)
	assert.Equal(t, models.VerdictPass, crit.Verdict)
	assert.Equal(t, 2, c.calls())
}

func TestReviseDecodesEnvelope(t *testing.T) {
	c := &scripted{responses: []string{`{"revisedExplanation":` + closuresJSON + `}`}}
	p := newTestLLM(t, c, 1)

	e, err := p.Revise(context.Background(), ReviseRequest{
		Explanation: &models.Explanation{ConceptName: "Closures", SimpleExplanation: "old"},
		Critique:    &models.Critique{Verdict: models.VerdictRevise, Fixes: []models.Fix{{Issue: "vague", Fix: "be precise"}}},
		Iteration:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, "A function that remembers its scope.", e.SimpleExplanation)
	assert.Contains(t, c.requests[0].Prompt, "be precise")
}

func TestReviseAcceptsBareExplanation(t *testing.T) {
	c := &scripted{responses: []string{closuresJSON}}
	p := newTestLLM(t, c, 1)

	e, err := p.Revise(context.Background(), ReviseRequest{
		Explanation: &models.Explanation{ConceptName: "Closures", SimpleExplanation: "old"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Closures", e.ConceptName)
}

func TestDecomposeIncludesExploredSet(t *testing.T) {
	c := &scripted{responses: []string{`{
		"concepts":[{"id":"closures","name":"Closures"},{"id":"scope","name":"Scope"}],
		"learningSequence":["scope","closures"],
		"reflection":{"domainCorrectnessScore":6}
	}`}}
	p := newTestLLM(t, c, 1)

	d, err := p.Decompose(context.Background(), DecomposeRequest{
		Topic:          "Functions",
		Depth:          1,
		RemainingDepth: 1,
		Ancestors:      []string{"JavaScript"},
		RootTopic:      "JavaScript",
		Explored:       []string{"Variables", "Loops"},
	})
	require.NoError(t, err)
	require.Len(t, d.Concepts, 2)
	assert.InDelta(t, 6.0, d.ConfidenceScore(), 1e-9)

	prompt := c.requests[0].Prompt
	assert.Contains(t, prompt, "- Variables\n- Loops")
	assert.Contains(t, prompt, "JavaScript")
}

func TestDecomposeRejectsUnnamedConcept(t *testing.T) {
	c := &scripted{responses: []string{`{"concepts":[{"id":"x"}]}`}}
	p := newTestLLM(t, c, 1)

	_, err := p.Decompose(context.Background(), DecomposeRequest{Topic: "Functions"})
	require.Error(t, err)
	assert.True(t, parser.IsParseError(err))
}

func TestValidateAndRedecompose(t *testing.T) {
	c := &scripted{responses: []string{
		`{"verdict":"needs_redecomposition","issues":[{"type":"semantic","conceptId":"a","problem":"overlap"}]}`,
		`{"newDecomposition":{"concepts":[{"id":"b","name":"Hoisting"}]}}`,
	}}
	p := newTestLLM(t, c, 1)
	orig := &models.Decomposition{Concepts: []models.Concept{{ID: "a", Name: "Scope"}}}

	v, err := p.Validate(context.Background(), ValidateRequest{Topic: "Functions", Decomposition: orig})
	require.NoError(t, err)
	assert.True(t, v.NeedsRedecomposition())

	d, err := p.Redecompose(context.Background(), RedecomposeRequest{Topic: "Functions", Decomposition: orig, Issues: v.Issues})
	require.NoError(t, err)
	require.Len(t, d.Concepts, 1)
	assert.Equal(t, "Hoisting", d.Concepts[0].Name)
	assert.Contains(t, c.requests[1].Prompt, "overlap")
}

func TestCheckSimilarityEmptySetSkipsCall(t *testing.T) {
	c := &scripted{}
	p := newTestLLM(t, c, 1)

	s, err := p.CheckSimilarity(context.Background(), "Closures", nil)
	require.NoError(t, err)
	assert.False(t, s.IsSimilar)
	assert.Equal(t, 0, c.calls())
}

func TestCheckSimilarity(t *testing.T) {
	c := &scripted{responses: []string{`{"isSimilar":true,"similarTo":"Functions","reasoning":"same"}`}}
	p := newTestLLM(t, c, 1)

	s, err := p.CheckSimilarity(context.Background(), "Function declarations", []string{"Functions"})
	require.NoError(t, err)
	assert.True(t, s.IsSimilar)
	assert.Equal(t, "Functions", s.SimilarTo)
}

func TestTemperatureOverride(t *testing.T) {
	c := &scripted{responses: []string{closuresJSON}}
	h := retry.NewHandler(retry.Config{MaxAttempts: 1})
	p := NewLLM(c, h, WithTemperatures(map[string]float64{OpExplain: 0.1}), WithMaxTokens(1000))

	_, err := p.Explain(context.Background(), ExplainRequest{Concept: "Closures"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, c.requests[0].Temperature, 1e-9)
	assert.Equal(t, 1000, c.requests[0].MaxTokens)
}

func TestAllPromptsRender(t *testing.T) {
	for _, op := range []string{OpDecompose, OpExplain, OpCritique, OpRevise, OpValidate, OpRedecompose, OpSimilarity} {
		t.Run(op, func(t *testing.T) {
			assert.NotNil(t, prompts.Lookup(op+".system"))
			assert.NotNil(t, prompts.Lookup(op+".user"))
		})
	}
}
