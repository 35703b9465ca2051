// Package retry wraps provider calls with bounded exponential backoff and
// records every failed attempt to an append-only failure log.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/parser"
)

// previewLength bounds the raw output stored per failure record.
const previewLength = 500

// Config controls the attempt budget and backoff curve.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultConfig returns the production retry budget.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Backoff returns min(BaseDelay * 2^(attempt-1), MaxDelay) for a 1-indexed attempt.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// OperationContext identifies a call in logs and failure records.
type OperationContext struct {
	// Operation is the provider operation name, e.g. "explain".
	Operation string
	// Subject is the topic or concept the call is about.
	Subject string
}

func (o OperationContext) String() string {
	if o.Subject == "" {
		return o.Operation
	}
	return fmt.Sprintf("%s(%q)", o.Operation, o.Subject)
}

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	// KindParse means the provider answered but the payload was unusable.
	KindParse ErrorKind = "parse_error"
	// KindTransient covers network, rate-limit and provider-side failures.
	KindTransient ErrorKind = "transient"
	// KindCircuitOpen means a circuit breaker rejected the call without trying.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindPermanent means retrying cannot help.
	KindPermanent ErrorKind = "permanent"
	// KindCanceled means the caller's context ended.
	KindCanceled ErrorKind = "canceled"
)

// Classify returns the ErrorKind for err.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case IsPermanent(err):
		return KindPermanent
	case parser.IsParseError(err):
		return KindParse
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	default:
		return KindTransient
	}
}

// ErrCircuitOpen is wrapped by completers that refuse calls while a breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned once the attempt budget is spent.
type ExhaustedError struct {
	Op       OperationContext
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Handler executes operations with bounded retries.
type Handler struct {
	cfg       Config
	failures  *FailureLog
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	onFailure func(op OperationContext, kind ErrorKind)
}

// Option configures a Handler.
type Option func(*Handler)

// WithFailureLog sets the append-only log receiving one record per failed attempt.
func WithFailureLog(l *FailureLog) Option {
	return func(h *Handler) { h.failures = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithSleep replaces the backoff sleep (mainly for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = fn }
}

// WithClock replaces the timestamp source (mainly for testing).
func WithClock(fn func() time.Time) Option {
	return func(h *Handler) { h.now = fn }
}

// WithFailureHook registers a callback invoked for every failed attempt.
func WithFailureHook(fn func(op OperationContext, kind ErrorKind)) Option {
	return func(h *Handler) { h.onFailure = fn }
}

// NewHandler creates a Handler. A MaxAttempts below 1 is raised to 1.
func NewHandler(cfg Config, opts ...Option) *Handler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	h := &Handler{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the handler's retry configuration.
func (h *Handler) Config() Config {
	return h.cfg
}

// Execute runs fn until it succeeds, the budget is exhausted, the error is
// permanent, or ctx ends. Exactly one sleep separates consecutive attempts.
func (h *Handler) Execute(ctx context.Context, op OperationContext, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				h.logger.Debug("operation recovered", zap.Stringer("op", op), zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		kind := Classify(err)
		delay := h.cfg.Backoff(attempt)
		h.record(op, attempt, kind, err, delay)

		if kind == KindCanceled {
			return fmt.Errorf("%s: %w", op, err)
		}
		if kind == KindPermanent {
			return &ExhaustedError{Op: op, Attempts: attempt, Last: err}
		}
		if attempt == h.cfg.MaxAttempts {
			break
		}

		h.logger.Debug("retrying operation",
			zap.Stringer("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := h.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	h.logger.Warn("retry budget exhausted",
		zap.Stringer("op", op),
		zap.Int("attempts", h.cfg.MaxAttempts),
		zap.Error(lastErr))
	return &ExhaustedError{Op: op, Attempts: h.cfg.MaxAttempts, Last: lastErr}
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, h *Handler, op OperationContext, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := h.Execute(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// record logs the attempt and appends it to the failure log.
// Failure-log write errors are logged and swallowed.
func (h *Handler) record(op OperationContext, attempt int, kind ErrorKind, err error, delay time.Duration) {
	h.logger.Warn("attempt failed",
		zap.Stringer("op", op),
		zap.Int("attempt", attempt),
		zap.String("kind", string(kind)),
		zap.Error(err))

	if h.onFailure != nil {
		h.onFailure(op, kind)
	}
	if h.failures == nil {
		return
	}

	rec := FailureRecord{
		Timestamp: h.now().UTC(),
		Operation: op.Operation,
		Subject:   op.Subject,
		Attempt:   attempt,
		ErrorKind: kind,
		Message:   err.Error(),
		BackoffMS: delay.Milliseconds(),
	}
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		rec.RawPreview = pe.RawPreview(previewLength)
	}
	if werr := h.failures.Append(rec); werr != nil {
		h.logger.Error("write failure log", zap.Error(werr))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
