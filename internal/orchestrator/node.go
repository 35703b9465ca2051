package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/slug"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// unsequenced sorts concepts missing from the learning sequence last.
const unsequenced = 999

// processNode explains t's concept, decomposes it while depth remains and
// recurses into the surviving children. It always returns a node. A non-nil
// error means the node itself failed; child failures are absorbed at the join.
func (e *Engine) processNode(ctx context.Context, r *run, t task) (*models.ConceptNode, error) {
	node := &models.ConceptNode{
		Concept:            t.concept,
		Status:             models.NodeStatusPending,
		RelativeOutputPath: output.PagePath(t.dir),
	}
	e.bus.Node(events.NodeDiscovered, node, t.parentKey, t.depth)

	if e.interrupted() || ctx.Err() != nil {
		return node, nil
	}

	if err := e.explainNode(ctx, r, t, node); err != nil {
		if t.isRoot() && ctx.Err() == nil {
			return node, &FatalError{Topic: t.topic(), Err: err}
		}
		return node, err
	}

	if t.depth >= r.totalDepth {
		return node, nil
	}
	if e.interrupted() || ctx.Err() != nil {
		return node, nil
	}

	children, err := e.childConcepts(ctx, r, t, node)
	if err != nil {
		return e.failNode(node, t, err)
	}

	node.Children = e.fanOut(ctx, r, t, node, children)
	return node, nil
}

// explainNode fills in node's explanation from the store or the provider.
func (e *Engine) explainNode(ctx context.Context, r *run, t task, node *models.ConceptNode) error {
	topic := t.topic()

	if cached, ok := e.store.Explanation(topic); ok {
		node.Explanation = &cached
		node.Status = models.NodeStatusDone
		e.bus.Node(events.NodeUpdated, node, t.parentKey, t.depth)
		e.logger.Debug("explanation restored", zap.String("concept", topic))
		return nil
	}

	node.Status = models.NodeStatusInProgress
	e.bus.Node(events.NodeUpdated, node, t.parentKey, t.depth)

	e.setPhase(models.PhaseExplain, topic)
	expl, err := e.provider.Explain(ctx, provider.ExplainRequest{
		Concept:          topic,
		Depth:            t.depth,
		PreviousConcepts: t.ancestors,
		Persona:          r.persona,
	})
	if err != nil {
		_, ferr := e.failNode(node, t, err)
		return ferr
	}

	expl, err = e.critiqueLoop(ctx, r, t, expl)
	if err != nil {
		_, ferr := e.failNode(node, t, err)
		return ferr
	}

	if err := e.store.AddExplanation(topic, *expl); err != nil {
		_, ferr := e.failNode(node, t, fmt.Errorf("persist explanation: %w", err))
		return ferr
	}

	node.Explanation = expl
	node.Status = models.NodeStatusDone
	if err := e.sink.WritePage(node); err != nil {
		e.logger.Warn("write page", zap.String("concept", topic), zap.Error(err))
	}
	e.bus.Node(events.NodeUpdated, node, t.parentKey, t.depth)
	e.metrics.NodeSettled(string(models.NodeStatusDone))
	e.logger.Info("concept explained", zap.String("concept", topic), zap.Int("depth", t.depth))
	return nil
}

// critiqueLoop revises expl until a critique passes or the revision cap is hit.
// A non-passing explanation at the cap is accepted as final.
func (e *Engine) critiqueLoop(ctx context.Context, r *run, t task, expl *models.Explanation) (*models.Explanation, error) {
	topic := t.topic()
	for iteration := 0; iteration < e.maxRevisions; iteration++ {
		e.setPhase(models.PhaseCritique, topic)
		crit, err := e.provider.Critique(ctx, provider.CritiqueRequest{
			Explanation: expl,
			ConceptName: topic,
			Depth:       t.depth,
			Persona:     r.persona,
		})
		if err != nil {
			return nil, err
		}
		if !crit.NeedsRevision() {
			return expl, nil
		}

		revised, err := e.provider.Revise(ctx, provider.ReviseRequest{
			Explanation: expl,
			Critique:    crit,
			Iteration:   iteration + 1,
		})
		if err != nil {
			return nil, err
		}
		expl = revised
		e.metrics.Revised()
		if err := e.store.RecordIteration(topic); err != nil {
			return nil, fmt.Errorf("persist iteration: %w", err)
		}
		e.logger.Debug("explanation revised",
			zap.String("concept", topic),
			zap.Int("iteration", iteration+1),
			zap.String("verdict", string(crit.Verdict)))
	}
	return expl, nil
}

// childConcepts returns the children to fork for t: the persisted list when
// the topic was already decomposed, otherwise a fresh filtered decomposition.
func (e *Engine) childConcepts(ctx context.Context, r *run, t task, node *models.ConceptNode) ([]models.Concept, error) {
	topic := t.topic()
	if children, ok := e.store.ChildrenOf(topic); ok {
		e.logger.Debug("children restored", zap.String("concept", topic), zap.Int("count", len(children)))
		return children, nil
	}

	if t.isRoot() {
		e.setPhase(models.PhaseDecomposeRoot, topic)
	} else {
		e.setPhase(models.PhaseDecomposeChild, topic)
	}
	d, err := e.provider.Decompose(ctx, provider.DecomposeRequest{
		Topic:          topic,
		Depth:          t.depth,
		RemainingDepth: r.totalDepth - t.depth,
		Context:        node.Explanation,
		Ancestors:      t.ancestors,
		RootTopic:      r.rootTopic,
		Explored:       r.explored.Names(),
	})
	if err != nil {
		return nil, err
	}

	d, err = e.validateDecomposition(ctx, r, t, node, d)
	if err != nil {
		return nil, err
	}

	children := e.filterChildren(ctx, r, t, d)
	if err := e.store.SetChildren(topic, children); err != nil {
		return nil, fmt.Errorf("persist children: %w", err)
	}
	return children, nil
}

// validateDecomposition escalates a low-confidence decomposition to an
// independent validation and, if rejected, one re-decomposition whose
// result is used as is.
func (e *Engine) validateDecomposition(ctx context.Context, r *run, t task, node *models.ConceptNode, d *models.Decomposition) (*models.Decomposition, error) {
	score := d.ConfidenceScore()
	if score >= e.confidenceThreshold {
		return d, nil
	}

	topic := t.topic()
	e.setPhase(models.PhaseValidate, topic)
	e.logger.Info("validating low-confidence decomposition",
		zap.String("concept", topic),
		zap.Float64("score", score))

	v, err := e.provider.Validate(ctx, provider.ValidateRequest{
		Topic:         topic,
		RootTopic:     r.rootTopic,
		Context:       node.Explanation,
		Decomposition: d,
	})
	if err != nil {
		return nil, err
	}

	redecomposed := false
	if v.NeedsRedecomposition() {
		nd, err := e.provider.Redecompose(ctx, provider.RedecomposeRequest{
			Topic:         topic,
			Decomposition: d,
			Issues:        v.Issues,
		})
		if err != nil {
			return nil, err
		}
		d = nd
		redecomposed = true
		e.metrics.Redecomposed()
		e.logger.Info("decomposition replaced", zap.String("concept", topic), zap.Int("issues", len(v.Issues)))
	}
	if err := e.store.RecordValidation(redecomposed); err != nil {
		return nil, fmt.Errorf("persist validation: %w", err)
	}
	return d, nil
}

// filterChildren drops repeats of the topic or its ancestors and duplicates
// of explored concepts, then orders survivors by the learning sequence.
// Accepted names join the explored set before the batch is forked, so later
// candidates in the same batch are checked against earlier ones. Check and
// add run under the run's filter lock so concurrent subtrees cannot both
// accept the same concept.
func (e *Engine) filterChildren(ctx context.Context, r *run, t task, d *models.Decomposition) []models.Concept {
	blocked := make(map[string]struct{}, len(t.ancestors)+1)
	blocked[normalize(t.topic())] = struct{}{}
	for _, a := range t.ancestors {
		blocked[normalize(a)] = struct{}{}
	}

	var accepted []models.Concept
	for _, c := range d.Concepts {
		if _, ok := blocked[normalize(c.Name)]; ok {
			e.dropped(t.topic(), c.Name, ReasonAncestor, "")
			continue
		}
		if reason, match := e.admit(ctx, r, c.Name); reason != ReasonNone {
			e.dropped(t.topic(), c.Name, reason, match)
			continue
		}
		accepted = append(accepted, c)
	}

	order := make(map[string]int, len(d.LearningSequence))
	for i, id := range d.LearningSequence {
		if _, seen := order[id]; !seen {
			order[id] = i
		}
	}
	rank := func(c models.Concept) int {
		if i, ok := order[c.ID]; ok {
			return i
		}
		return unsequenced
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return rank(accepted[i]) < rank(accepted[j])
	})
	return accepted
}

// admit checks name against the explored set and records it if it is new.
func (e *Engine) admit(ctx context.Context, r *run, name string) (DuplicateReason, string) {
	r.filterMu.Lock()
	defer r.filterMu.Unlock()

	reason, match := e.similarity.check(ctx, name, r.explored.Names())
	if reason != ReasonNone {
		return reason, match
	}
	if !r.explored.Add(name) {
		return ReasonExact, name
	}
	return ReasonNone, ""
}

func (e *Engine) dropped(parent, name string, reason DuplicateReason, match string) {
	e.metrics.DuplicateFiltered(string(reason))
	e.logger.Info("concept filtered",
		zap.String("parent", parent),
		zap.String("concept", name),
		zap.String("reason", string(reason)),
		zap.String("match", match))
}

// fanOut processes children concurrently and waits for all of them. A child
// that fails is marked failed and reported; its siblings are unaffected.
func (e *Engine) fanOut(ctx context.Context, r *run, t task, parent *models.ConceptNode, children []models.Concept) []*models.ConceptNode {
	if len(children) == 0 {
		return nil
	}

	ancestors := append(append([]string(nil), t.ancestors...), t.topic())
	tasks := make([]task, len(children))
	for i, c := range children {
		dir, section := output.SectionDir(t.dir, t.section, i+1, c.Name)
		if c.ID == "" {
			c.ID = slug.Kebab(c.Name)
		}
		tasks[i] = task{
			concept:   c,
			depth:     t.depth + 1,
			ancestors: ancestors,
			dir:       dir,
			section:   section,
			parentKey: events.NodeKey(parent),
		}
	}

	nodes := make([]*models.ConceptNode, len(tasks))
	errs := make([]error, len(tasks))
	var g errgroup.Group
	for i := range tasks {
		g.Go(func() error {
			nodes[i], errs[i] = e.processNode(ctx, r, tasks[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		e.recordFailure(tasks[i].topic(), err)
	}
	return nodes
}

// failNode marks node failed and publishes the change.
func (e *Engine) failNode(node *models.ConceptNode, t task, err error) (*models.ConceptNode, error) {
	node.Status = models.NodeStatusFailed
	node.Error = err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		node.Status = models.NodeStatusPending
		node.Error = ""
	}
	e.bus.Node(events.NodeUpdated, node, t.parentKey, t.depth)
	return node, err
}

