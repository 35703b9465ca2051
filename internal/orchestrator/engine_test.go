package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

func newTestEngine(t *testing.T, p provider.Provider, opts ...Option) (*Engine, *state.WorkflowStore) {
	t.Helper()
	store := state.NewWorkflowStore(filepath.Join(t.TempDir(), "state.json"))
	return New(p, store, opts...), store
}

func childNames(n *models.ConceptNode) []string {
	var names []string
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	return names
}

// recordingSink remembers what the engine sent it.
type recordingSink struct {
	mu        sync.Mutex
	scaffolds []string
	pages     []string
	finalized *models.ConceptNode
}

func (s *recordingSink) Scaffold(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaffolds = append(s.scaffolds, topic)
	return nil
}

func (s *recordingSink) WritePage(node *models.ConceptNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, node.Name)
	return nil
}

func (s *recordingSink) Finalize(_ string, root *models.ConceptNode) (*output.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = root
	return &output.Site{}, nil
}

// eventLog collects bus events from concurrent publishers.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) add(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) phases() []models.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Phase
	for _, ev := range l.events {
		if p, ok := ev.Payload.(events.WorkflowPayload); ok {
			out = append(out, p.Phase)
		}
	}
	return out
}

func (l *eventLog) nodes(kind events.NodeEventKind) []events.NodePayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.NodePayload
	for _, ev := range l.events {
		if p, ok := ev.Payload.(events.NodePayload); ok && p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestRunBuildsTree(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, models.PersonaNovice)
	require.NoError(t, err)

	root := result.Root
	assert.Equal(t, RootID, root.ID)
	assert.Equal(t, models.NodeStatusDone, root.Status)
	assert.Equal(t, output.IndexPath, root.RelativeOutputPath)
	assert.Equal(t, []string{"Variables", "Loops"}, childNames(root))
	assert.Equal(t, "1_variables/index.md", root.Children[0].RelativeOutputPath)
	assert.Equal(t, "2_loops/index.md", root.Children[1].RelativeOutputPath)
	for _, c := range root.Children {
		assert.Equal(t, models.NodeStatusDone, c.Status, c.Name)
		require.NotNil(t, c.Explanation)
		assert.Empty(t, c.Children)
	}
	assert.Equal(t, map[models.NodeStatus]int{models.NodeStatusDone: 3}, result.Counts())

	assert.Equal(t, 3, p.count(provider.OpExplain))
	assert.Equal(t, 3, p.count(provider.OpCritique))
	assert.Equal(t, 1, p.count(provider.OpDecompose))
	assert.Equal(t, 0, p.count(provider.OpValidate))

	ws := store.Snapshot()
	assert.Equal(t, models.PhaseComplete, ws.CurrentPhase)
	assert.Equal(t, "Go", ws.Topic)
	assert.Equal(t, 1, ws.Depth)
	assert.Equal(t, models.PersonaNovice, ws.Persona)
	assert.Len(t, ws.Explanations, 3)
	assert.Len(t, ws.Children["Go"], 2)
	assert.Empty(t, ws.FailedConcepts)
}

func TestRunDepthZeroExplainsOnlyRoot(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables")
	e, _ := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusDone, result.Root.Status)
	assert.Empty(t, result.Root.Children)
	assert.Equal(t, 0, p.count(provider.OpDecompose))
}

func TestRunRejectsBadInput(t *testing.T) {
	e, _ := newTestEngine(t, newFakeProvider())

	_, err := e.Run(context.Background(), "   ", 1, "")
	assert.Error(t, err)

	_, err = e.Run(context.Background(), "Go", -1, "")
	assert.Error(t, err)
}

func TestSectionPaths(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables")
	p.decompositions["Variables"] = decomp(9, "Scope", "Shadowing")
	e, _ := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 2, "")
	require.NoError(t, err)

	vars := result.Root.Find("Variables")
	require.NotNil(t, vars)
	assert.Equal(t, "1_variables/index.md", vars.RelativeOutputPath)
	require.Len(t, vars.Children, 2)
	assert.Equal(t, "1_variables/1_1_scope/index.md", vars.Children[0].RelativeOutputPath)
	assert.Equal(t, "1_variables/1_2_shadowing/index.md", vars.Children[1].RelativeOutputPath)

	req := p.decomposeReqs["Variables"]
	assert.Equal(t, []string{"Go"}, req.Ancestors)
	assert.Equal(t, "Go", req.RootTopic)
	assert.Equal(t, 1, req.Depth)
	assert.Equal(t, 1, req.RemainingDepth)
	assert.Contains(t, req.Explored, "Variables")
	require.NotNil(t, req.Context)
	assert.Equal(t, "Variables", req.Context.ConceptName)
}

func TestAtomicHintDoesNotStopDecomposition(t *testing.T) {
	p := newFakeProvider()
	d := decomp(9, "Variables", "Loops")
	d.Concepts[0].IsAtomic = true
	p.decompositions["Go"] = d
	e, _ := newTestEngine(t, p)

	_, err := e.Run(context.Background(), "Go", 2, "")
	require.NoError(t, err)

	assert.Equal(t, 3, p.count(provider.OpDecompose))
	req, decomposed := p.decomposeReqs["Variables"]
	require.True(t, decomposed)
	assert.Equal(t, 1, req.RemainingDepth)
}

func TestLearningSequenceOrdersChildren(t *testing.T) {
	p := newFakeProvider()
	d := decomp(9, "Variables", "Loops", "Closures")
	d.LearningSequence = []string{"closures", "variables"}
	p.decompositions["Go"] = d
	e, _ := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Closures", "Variables", "Loops"}, childNames(result.Root))
	assert.Equal(t, "1_closures/index.md", result.Root.Children[0].RelativeOutputPath)
	assert.Equal(t, "3_loops/index.md", result.Root.Children[2].RelativeOutputPath)
}

func TestDuplicateChildrenAreFiltered(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "go", "Variables", "Variable", "Goroutines")
	p.similar["Goroutines"] = "Go"
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Variables"}, childNames(result.Root))
	// "go" is the topic itself and "Variable" is caught lexically.
	assert.ElementsMatch(t, []string{"Variables", "Goroutines"}, p.similarityCalls)

	persisted, ok := store.ChildrenOf("Go")
	require.True(t, ok)
	require.Len(t, persisted, 1)
	assert.Equal(t, "Variables", persisted[0].Name)
}

func TestCousinSubtreesShareExploredSet(t *testing.T) {
	p := newFakeProvider()
	p.delay = 20 * time.Millisecond
	p.decompositions["Go"] = decomp(9, "Alpha Topic", "Beta Topic")
	p.decompositions["Alpha Topic"] = decomp(9, "Shared Concept")
	p.decompositions["Beta Topic"] = decomp(9, "Shared Concept")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 2, "")
	require.NoError(t, err)

	assert.Equal(t, 1, countNamed(result.Root, "Shared Concept"))
	// The second cousin is caught lexically once the first is recorded.
	assert.ElementsMatch(t, []string{"Alpha Topic", "Beta Topic", "Shared Concept"}, p.similarityCalls)
	assert.Equal(t, 4, p.count(provider.OpExplain))

	ws := store.Snapshot()
	assert.Equal(t, 1, len(ws.Children["Alpha Topic"])+len(ws.Children["Beta Topic"]))
}

func countNamed(n *models.ConceptNode, name string) int {
	if n == nil {
		return 0
	}
	count := 0
	if n.Name == name {
		count++
	}
	for _, c := range n.Children {
		count += countNamed(c, name)
	}
	return count
}

func TestRevisionLoopIsBounded(t *testing.T) {
	p := newFakeProvider()
	p.defaultVerdict = models.VerdictRevise
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 0, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRevisions, p.count(provider.OpCritique))
	assert.Equal(t, DefaultMaxRevisions, p.count(provider.OpRevise))
	assert.Equal(t, models.NodeStatusDone, result.Root.Status)
	assert.Equal(t, "revision 2", result.Root.Explanation.SimpleExplanation)

	ws := store.Snapshot()
	assert.Equal(t, 2, ws.ConceptIterations["Go"])
	assert.Equal(t, "revision 2", ws.Explanations["Go"].SimpleExplanation)
}

func TestRevisionStopsOnPass(t *testing.T) {
	p := newFakeProvider()
	p.verdicts = []models.Verdict{models.VerdictRethink}
	e, _ := newTestEngine(t, p, WithMaxRevisions(5))

	result, err := e.Run(context.Background(), "Go", 0, "")
	require.NoError(t, err)

	assert.Equal(t, 2, p.count(provider.OpCritique))
	assert.Equal(t, 1, p.count(provider.OpRevise))
	assert.Equal(t, "revision 1", result.Root.Explanation.SimpleExplanation)
}

func TestZeroRevisionsSkipsCritique(t *testing.T) {
	p := newFakeProvider()
	e, _ := newTestEngine(t, p, WithMaxRevisions(0))

	_, err := e.Run(context.Background(), "Go", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, p.count(provider.OpCritique))
}

func TestLowConfidenceTriggersRedecomposition(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(5, "Variables")
	p.redecompositions["Go"] = decomp(9, "Pointers")
	p.validation = models.VerdictNeedsRedecomposition
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Pointers"}, childNames(result.Root))
	assert.Equal(t, 1, p.count(provider.OpValidate))
	assert.Equal(t, 1, p.count(provider.OpRedecompose))

	ws := store.Snapshot()
	assert.Equal(t, 1, ws.ValidationAttempts)
	assert.Equal(t, 1, ws.RedecompositionCount)
}

func TestLowConfidenceValidatedDecompositionIsKept(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(5, "Variables")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Variables"}, childNames(result.Root))
	assert.Equal(t, 1, p.count(provider.OpValidate))
	assert.Equal(t, 0, p.count(provider.OpRedecompose))
	assert.Equal(t, 0, store.Snapshot().RedecompositionCount)
}

func TestConfidentDecompositionSkipsValidation(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(8, "Variables")
	e, _ := newTestEngine(t, p)

	_, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, p.count(provider.OpValidate))
}

func TestChildFailureIsContained(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops", "Closures")
	p.explainErr["Loops"] = errors.New("provider unavailable")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusDone, result.Root.Status)
	loops := result.Root.Find("Loops")
	require.NotNil(t, loops)
	assert.Equal(t, models.NodeStatusFailed, loops.Status)
	assert.Contains(t, loops.Error, "provider unavailable")
	assert.Nil(t, loops.Explanation)
	assert.Equal(t, models.NodeStatusDone, result.Root.Find("Variables").Status)
	assert.Equal(t, models.NodeStatusDone, result.Root.Find("Closures").Status)

	ws := store.Snapshot()
	assert.Equal(t, []string{"Loops"}, ws.FailedConcepts)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Loops")
}

func TestChildDecompositionFailureKeepsExplanation(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops")
	p.decomposeErr["Variables"] = errors.New("bad json")
	e, _ := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 2, "")
	require.NoError(t, err)

	vars := result.Root.Find("Variables")
	assert.Equal(t, models.NodeStatusFailed, vars.Status)
	assert.NotNil(t, vars.Explanation)
	assert.Equal(t, models.NodeStatusDone, result.Root.Find("Loops").Status)
}

func TestRootExplainFailureIsFatal(t *testing.T) {
	p := newFakeProvider()
	p.explainErr["Go"] = errors.New("provider unavailable")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 2, "")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Nil(t, result)
	assert.Equal(t, 0, p.count(provider.OpDecompose))

	ws := store.Snapshot()
	assert.Equal(t, models.PhaseFailed, ws.CurrentPhase)
	assert.Contains(t, ws.Error, "Go")
}

func TestRootDecompositionFailureMarksRootFailed(t *testing.T) {
	p := newFakeProvider()
	p.decomposeErr["Go"] = errors.New("bad json")
	e, store := newTestEngine(t, p)

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusFailed, result.Root.Status)
	assert.NotNil(t, result.Root.Explanation)
	assert.Contains(t, store.Snapshot().FailedConcepts, "Go")
}

func TestResumeSkipsFinishedTopics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := newFakeProvider()
	first.decompositions["Go"] = decomp(9, "Variables", "Loops")
	e1 := New(first, state.NewWorkflowStore(path))
	want, err := e1.Run(context.Background(), "Go", 1, models.PersonaExpert)
	require.NoError(t, err)

	second := newFakeProvider()
	e2 := New(second, state.NewWorkflowStore(path))
	got, err := e2.Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.total())
	assert.Equal(t, childNames(want.Root), childNames(got.Root))
	assert.Equal(t, want.Counts(), got.Counts())
	for i, c := range got.Root.Children {
		assert.Equal(t, want.Root.Children[i].RelativeOutputPath, c.RelativeOutputPath)
		assert.Equal(t, *want.Root.Children[i].Explanation, *c.Explanation)
	}
}

func TestResumeRetriesFailedTopics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := newFakeProvider()
	first.decompositions["Go"] = decomp(9, "Variables", "Loops")
	first.explainErr["Loops"] = errors.New("provider unavailable")
	_, err := New(first, state.NewWorkflowStore(path)).Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	second := newFakeProvider()
	store := state.NewWorkflowStore(path)
	result, err := New(second, store).Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, second.count(provider.OpExplain))
	assert.Equal(t, 0, second.count(provider.OpDecompose))
	assert.Equal(t, models.NodeStatusDone, result.Root.Find("Loops").Status)
	assert.Empty(t, store.Snapshot().FailedConcepts)
}

func TestResumeWithoutStateFails(t *testing.T) {
	e, _ := newTestEngine(t, newFakeProvider())
	_, err := e.Resume(context.Background())
	assert.Error(t, err)
}

func TestInterruptStopsNewWork(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables")
	intr := &flagInterrupter{}
	p.onExplain = func(topic string) {
		if topic == "Go" {
			intr.Trigger()
		}
	}
	e, store := newTestEngine(t, p, WithInterrupter(intr))

	result, err := e.Run(context.Background(), "Go", 2, "")
	assert.ErrorIs(t, err, ErrInterrupted)
	require.NotNil(t, result)
	assert.Equal(t, models.NodeStatusDone, result.Root.Status)
	assert.Equal(t, 0, p.count(provider.OpDecompose))
	assert.Equal(t, models.PhaseInterrupted, store.Snapshot().CurrentPhase)

	// A resumed run picks up where the interrupted one stopped.
	resumed := newFakeProvider()
	resumed.decompositions["Go"] = decomp(9, "Variables")
	e2 := New(resumed, state.NewWorkflowStore(store.Path()))
	result, err = e2.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.count(provider.OpExplain))
	assert.Equal(t, []string{"Variables"}, childNames(result.Root))
}

func TestCanceledContextInterrupts(t *testing.T) {
	p := newFakeProvider()
	e, _ := newTestEngine(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Run(ctx, "Go", 1, "")
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, models.NodeStatusPending, result.Root.Status)
	assert.Equal(t, 0, p.total())
}

func TestEventsArePublished(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops")
	bus := events.New("session-1")
	var log eventLog
	bus.SubscribeAll(log.add)
	e, _ := newTestEngine(t, p, WithBus(bus))

	_, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	phases := log.phases()
	for _, want := range []models.Phase{
		models.PhaseScout,
		models.PhaseExplain,
		models.PhaseCritique,
		models.PhaseDecomposeRoot,
		models.PhaseSynthesize,
		models.PhaseComplete,
	} {
		assert.Contains(t, phases, want)
	}
	assert.Equal(t, models.PhaseScout, phases[0])
	assert.Equal(t, models.PhaseComplete, phases[len(phases)-1])

	discovered := log.nodes(events.NodeDiscovered)
	assert.Len(t, discovered, 3)
	for _, ev := range discovered {
		if ev.Node.Name != "Go" {
			assert.Equal(t, output.IndexPath, ev.ParentKey)
			assert.Equal(t, 1, ev.Depth)
		}
	}
}

func TestSinkReceivesPages(t *testing.T) {
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops")
	sink := &recordingSink{}
	e, _ := newTestEngine(t, p, WithSink(sink))

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Go"}, sink.scaffolds)
	assert.ElementsMatch(t, []string{"Go", "Variables", "Loops"}, sink.pages)
	assert.Same(t, result.Root, sink.finalized)
}

func TestRunWritesMkDocsSite(t *testing.T) {
	dir := t.TempDir()
	p := newFakeProvider()
	p.decompositions["Go"] = decomp(9, "Variables", "Loops")
	p.explainErr["Loops"] = errors.New("provider unavailable")
	e, _ := newTestEngine(t, p, WithSink(output.NewMkDocs(dir)))

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)
	require.NotNil(t, result.Site)

	assert.FileExists(t, filepath.Join(dir, "mkdocs.yml"))
	assert.FileExists(t, filepath.Join(dir, "docs", "index.md"))
	assert.FileExists(t, filepath.Join(dir, "docs", "1_variables", "index.md"))
	_, statErr := os.Stat(filepath.Join(dir, "docs", "2_loops", "index.md"))
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, 1, result.Site.Stats.Pages)
	assert.Equal(t, []string{"Loops"}, result.Site.Stats.Incomplete)
}

func TestConcurrencyIsBounded(t *testing.T) {
	p := newFakeProvider()
	p.delay = 2 * time.Millisecond
	p.decompositions["Go"] = decomp(9, "Variables", "Loops", "Closures", "Pointers")
	e, _ := newTestEngine(t, p, WithMaxConcurrency(1))

	result, err := e.Run(context.Background(), "Go", 1, "")
	require.NoError(t, err)
	assert.Len(t, result.Root.Children, 4)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.maxInflight)
}

func TestRebuildExplored(t *testing.T) {
	ws := &state.WorkflowState{
		Topic:             "Go",
		ExplainedConcepts: []string{"Go", "Variables"},
		Children: map[string][]models.Concept{
			"Go": {{Name: "Variables"}, {Name: "Loops"}},
		},
	}
	s := rebuildExplored(ws)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains("loops"))
	assert.Equal(t, "Go", s.Names()[0])
}
