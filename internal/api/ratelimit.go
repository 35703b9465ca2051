package api

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited paces calls to a Completer.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond requests on average with the given burst.
// A non-positive perSecond disables pacing.
func NewRateLimited(next Completer, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete waits for a token, then forwards.
func (r *RateLimited) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}
	return r.next.Complete(ctx, req)
}

var _ Completer = (*RateLimited)(nil)
