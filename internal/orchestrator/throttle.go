package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// throttled bounds the number of provider calls in flight across all of a
// session's concurrently running subtrees.
type throttled struct {
	next provider.Provider
	sem  *semaphore.Weighted
}

var _ provider.Provider = (*throttled)(nil)

func newThrottled(next provider.Provider, n int) *throttled {
	return &throttled{next: next, sem: semaphore.NewWeighted(int64(n))}
}

func limit[T any](ctx context.Context, t *throttled, fn func() (T, error)) (T, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer t.sem.Release(1)
	return fn()
}

func (t *throttled) Decompose(ctx context.Context, req provider.DecomposeRequest) (*models.Decomposition, error) {
	return limit(ctx, t, func() (*models.Decomposition, error) { return t.next.Decompose(ctx, req) })
}

func (t *throttled) Explain(ctx context.Context, req provider.ExplainRequest) (*models.Explanation, error) {
	return limit(ctx, t, func() (*models.Explanation, error) { return t.next.Explain(ctx, req) })
}

func (t *throttled) Critique(ctx context.Context, req provider.CritiqueRequest) (*models.Critique, error) {
	return limit(ctx, t, func() (*models.Critique, error) { return t.next.Critique(ctx, req) })
}

func (t *throttled) Revise(ctx context.Context, req provider.ReviseRequest) (*models.Explanation, error) {
	return limit(ctx, t, func() (*models.Explanation, error) { return t.next.Revise(ctx, req) })
}

func (t *throttled) Validate(ctx context.Context, req provider.ValidateRequest) (*models.Validation, error) {
	return limit(ctx, t, func() (*models.Validation, error) { return t.next.Validate(ctx, req) })
}

func (t *throttled) Redecompose(ctx context.Context, req provider.RedecomposeRequest) (*models.Decomposition, error) {
	return limit(ctx, t, func() (*models.Decomposition, error) { return t.next.Redecompose(ctx, req) })
}

func (t *throttled) CheckSimilarity(ctx context.Context, candidate string, existing []string) (*models.Similarity, error) {
	return limit(ctx, t, func() (*models.Similarity, error) { return t.next.CheckSimilarity(ctx, candidate, existing) })
}
