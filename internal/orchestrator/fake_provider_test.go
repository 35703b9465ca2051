package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/slug"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// fakeProvider answers from per-topic tables and counts calls per operation.
// Unconfigured topics explain successfully, pass critique and decompose into
// nothing.
type fakeProvider struct {
	mu sync.Mutex

	decompositions   map[string]*models.Decomposition
	redecompositions map[string]*models.Decomposition
	explainErr       map[string]error
	decomposeErr     map[string]error
	similar          map[string]string

	verdicts        []models.Verdict
	defaultVerdict  models.Verdict
	validation      models.Verdict
	similarityErr   error
	delay           time.Duration
	onExplain       func(topic string)
	calls           map[string]int
	decomposeReqs   map[string]provider.DecomposeRequest
	similarityCalls []string

	inflight    int
	maxInflight int
}

var _ provider.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		decompositions:   map[string]*models.Decomposition{},
		redecompositions: map[string]*models.Decomposition{},
		explainErr:       map[string]error{},
		decomposeErr:     map[string]error{},
		similar:          map[string]string{},
		defaultVerdict:   models.VerdictPass,
		validation:       models.VerdictValid,
		calls:            map[string]int{},
		decomposeReqs:    map[string]provider.DecomposeRequest{},
	}
}

// decomp builds a decomposition of named concepts with the given
// self-reported score. Concept IDs are the kebab-case names.
func decomp(score float64, names ...string) *models.Decomposition {
	d := &models.Decomposition{
		TotalConcepts: len(names),
		Reflection:    &models.Reflection{DomainCorrectnessScore: score},
	}
	for _, n := range names {
		d.Concepts = append(d.Concepts, models.Concept{ID: slug.Kebab(n), Name: n})
	}
	return d
}

func (f *fakeProvider) enter(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *fakeProvider) leave() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProvider) Decompose(_ context.Context, req provider.DecomposeRequest) (*models.Decomposition, error) {
	f.enter(provider.OpDecompose)
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decomposeReqs[req.Topic] = req
	if err := f.decomposeErr[req.Topic]; err != nil {
		return nil, err
	}
	if d, ok := f.decompositions[req.Topic]; ok {
		return d, nil
	}
	return &models.Decomposition{}, nil
}

func (f *fakeProvider) Explain(_ context.Context, req provider.ExplainRequest) (*models.Explanation, error) {
	f.enter(provider.OpExplain)
	defer f.leave()
	f.mu.Lock()
	err := f.explainErr[req.Concept]
	hook := f.onExplain
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(req.Concept)
	}
	return &models.Explanation{
		ConceptName:       req.Concept,
		SimpleExplanation: fmt.Sprintf("%s in plain words.", req.Concept),
	}, nil
}

func (f *fakeProvider) Critique(_ context.Context, _ provider.CritiqueRequest) (*models.Critique, error) {
	f.enter(provider.OpCritique)
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.defaultVerdict
	if len(f.verdicts) > 0 {
		v = f.verdicts[0]
		f.verdicts = f.verdicts[1:]
	}
	return &models.Critique{Verdict: v}, nil
}

func (f *fakeProvider) Revise(_ context.Context, req provider.ReviseRequest) (*models.Explanation, error) {
	f.enter(provider.OpRevise)
	defer f.leave()
	revised := *req.Explanation
	revised.SimpleExplanation = fmt.Sprintf("revision %d", req.Iteration)
	return &revised, nil
}

func (f *fakeProvider) Validate(_ context.Context, _ provider.ValidateRequest) (*models.Validation, error) {
	f.enter(provider.OpValidate)
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	v := &models.Validation{Verdict: f.validation}
	if v.NeedsRedecomposition() {
		v.Issues = []models.ValidationIssue{{Type: "scope", Problem: "off topic"}}
	}
	return v, nil
}

func (f *fakeProvider) Redecompose(_ context.Context, req provider.RedecomposeRequest) (*models.Decomposition, error) {
	f.enter(provider.OpRedecompose)
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.redecompositions[req.Topic]; ok {
		return d, nil
	}
	return req.Decomposition, nil
}

func (f *fakeProvider) CheckSimilarity(_ context.Context, candidate string, _ []string) (*models.Similarity, error) {
	f.enter(provider.OpSimilarity)
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.similarityCalls = append(f.similarityCalls, candidate)
	if f.similarityErr != nil {
		return nil, f.similarityErr
	}
	if match, ok := f.similar[candidate]; ok {
		return &models.Similarity{IsSimilar: true, SimilarTo: match}, nil
	}
	return &models.Similarity{}, nil
}

// flagInterrupter is an Interrupter set from tests.
type flagInterrupter struct {
	mu  sync.Mutex
	set bool
}

func (f *flagInterrupter) Trigger() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func (f *flagInterrupter) Interrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}
