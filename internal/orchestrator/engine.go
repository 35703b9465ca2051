package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/metrics"
	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// RootID is the ID of every tree's root node.
const RootID = "root"

// Result is the synthesized tree of a finished run.
type Result struct {
	Root *models.ConceptNode
	// Site is the finalized output, nil when the sink produced none.
	Site     *output.Site
	Warnings []string
}

// Counts returns the number of nodes per status.
func (r *Result) Counts() map[models.NodeStatus]int {
	return r.Root.CountByStatus()
}

// Engine runs the workflow for a single session. It owns the session's
// WorkflowStore and concept tree; separate sessions use separate engines.
type Engine struct {
	provider provider.Provider
	store    state.WorkflowStateStore

	sink        Sink
	bus         *events.Bus
	logger      *zap.Logger
	metrics     *metrics.Metrics
	interrupter Interrupter
	similarity  *similarityPolicy

	maxRevisions        int
	confidenceThreshold float64

	phaseMu sync.Mutex
	phase   models.Phase
}

// New creates an Engine that persists to store and generates through p.
func New(p provider.Provider, store state.WorkflowStateStore, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = events.New("")
	}

	limited := newThrottled(p, o.maxConcurrency)
	return &Engine{
		provider:            limited,
		store:               store,
		sink:                o.sink,
		bus:                 o.bus,
		logger:              o.logger,
		metrics:             o.metrics,
		interrupter:         o.interrupter,
		similarity:          &similarityPolicy{provider: limited, logger: o.logger},
		maxRevisions:        o.maxRevisions,
		confidenceThreshold: o.confidenceThreshold,
	}
}

// run is the per-invocation context threaded through the recursion.
type run struct {
	rootTopic  string
	totalDepth int
	persona    models.Persona
	explored   *exploredSet

	// filterMu serializes similarity checks with explored-set additions.
	filterMu sync.Mutex
}

// task is one node's pending work.
type task struct {
	concept   models.Concept
	depth     int
	ancestors []string
	// dir is the node's docs-relative directory, empty for the root.
	dir string
	// section is the dotted sibling-index chain joined with "_", empty for the root.
	section string
	// parentKey is the parent's events.NodeKey, empty for the root.
	parentKey string
}

func (t task) topic() string { return t.concept.Name }

func (t task) isRoot() bool { return t.depth == 0 }

// Run starts a fresh run. Any previous state in the store is discarded.
// depth is the number of levels generated below the root.
func (e *Engine) Run(ctx context.Context, topic string, depth int, persona models.Persona) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("run: empty topic")
	}
	if depth < 0 {
		return nil, fmt.Errorf("run: negative depth %d", depth)
	}
	if persona == "" {
		persona = models.DefaultPersona
	}

	if err := e.store.Reset(); err != nil {
		return nil, fmt.Errorf("reset workflow state: %w", err)
	}
	err := e.store.Update(func(ws *state.WorkflowState) {
		ws.Topic = topic
		ws.Depth = depth
		ws.Persona = persona
	})
	if err != nil {
		return nil, fmt.Errorf("initialize workflow state: %w", err)
	}

	r := &run{
		rootTopic:  topic,
		totalDepth: depth,
		persona:    persona,
		explored:   newExploredSet(topic),
	}
	e.logger.Info("run started", zap.String("topic", topic), zap.Int("depth", depth), zap.String("persona", string(persona)))
	return e.execute(ctx, r)
}

// Resume continues the run recorded in the store. Topics with persisted
// explanations are not sent to the provider again.
func (e *Engine) Resume(ctx context.Context) (*Result, error) {
	if err := e.store.Load(); err != nil {
		return nil, fmt.Errorf("load workflow state: %w", err)
	}
	ws := e.store.Snapshot()
	if ws.Topic == "" {
		return nil, errors.New("resume: no run recorded in workflow state")
	}
	if ws.Persona == "" {
		ws.Persona = models.DefaultPersona
	}

	r := &run{
		rootTopic:  ws.Topic,
		totalDepth: ws.Depth,
		persona:    ws.Persona,
		explored:   rebuildExplored(&ws),
	}
	e.logger.Info("run resumed",
		zap.String("topic", ws.Topic),
		zap.Int("explained", len(ws.Explanations)),
		zap.Int("explored", r.explored.Len()))
	return e.execute(ctx, r)
}

// rebuildExplored restores the explored-concept set from persisted state.
func rebuildExplored(ws *state.WorkflowState) *exploredSet {
	s := newExploredSet(ws.Topic)
	for _, name := range ws.ExplainedConcepts {
		s.Add(name)
	}
	for topic, children := range ws.Children {
		s.Add(topic)
		for _, c := range children {
			s.Add(c.Name)
		}
	}
	return s
}

func (e *Engine) execute(ctx context.Context, r *run) (*Result, error) {
	if err := e.sink.Scaffold(r.rootTopic); err != nil {
		return nil, fmt.Errorf("scaffold output: %w", err)
	}
	e.setPhase(models.PhaseScout, r.rootTopic)

	rootTask := task{
		concept: models.Concept{ID: RootID, Name: r.rootTopic},
	}
	root, err := e.processNode(ctx, r, rootTask)
	var fatal *FatalError
	if errors.As(err, &fatal) {
		e.fail(fatal)
		return nil, err
	}
	if err != nil && ctx.Err() == nil {
		e.recordFailure(root.Name, err)
	}

	e.setPhase(models.PhaseSynthesize, r.rootTopic)
	site, err := e.sink.Finalize(r.rootTopic, root)
	if err != nil {
		return nil, fmt.Errorf("finalize output: %w", err)
	}

	result := &Result{
		Root:     root,
		Site:     site,
		Warnings: e.store.Snapshot().Warnings,
	}

	counts := root.CountByStatus()
	e.logger.Info("run finished",
		zap.Int("done", counts[models.NodeStatusDone]),
		zap.Int("failed", counts[models.NodeStatusFailed]),
		zap.Int("pending", counts[models.NodeStatusPending]))

	if ctx.Err() != nil {
		e.setPhase(models.PhaseInterrupted, "canceled")
		return result, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	if e.interrupted() {
		e.setPhase(models.PhaseInterrupted, "interrupted")
		return result, ErrInterrupted
	}
	e.setPhase(models.PhaseComplete, r.rootTopic)
	return result, nil
}

// fail records a fatal error. Persistence errors are logged, never returned,
// so they cannot mask the original failure.
func (e *Engine) fail(err *FatalError) {
	e.bus.Fatal(err.Error())
	e.logger.Error("run failed", zap.Error(err))
	if uerr := e.store.Update(func(ws *state.WorkflowState) {
		ws.CurrentPhase = models.PhaseFailed
		ws.Error = err.Error()
	}); uerr != nil {
		e.logger.Error("persist failure", zap.Error(uerr))
	}
	e.bus.Phase(models.PhaseFailed, err.Error())
}

// setPhase persists and publishes a phase change. Repeated phases are not rewritten.
func (e *Engine) setPhase(phase models.Phase, message string) {
	e.phaseMu.Lock()
	changed := e.phase != phase
	e.phase = phase
	e.phaseMu.Unlock()
	if !changed {
		return
	}
	if err := e.store.SetPhase(phase); err != nil {
		e.logger.Warn("persist phase", zap.String("phase", string(phase)), zap.Error(err))
	}
	e.bus.Phase(phase, message)
}

func (e *Engine) interrupted() bool {
	return e.interrupter != nil && e.interrupter.Interrupted()
}

// recordFailure persists a node failure and publishes a warning.
func (e *Engine) recordFailure(topic string, err error) {
	e.bus.Warn(topic, err.Error())
	e.logger.Warn("concept failed", zap.String("concept", topic), zap.Error(err))
	if serr := e.store.MarkFailed(topic, err.Error()); serr != nil {
		e.logger.Error("persist failed concept", zap.String("concept", topic), zap.Error(serr))
	}
	e.metrics.NodeSettled(string(models.NodeStatusFailed))
}
