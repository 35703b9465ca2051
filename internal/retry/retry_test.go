package retry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/explainit/internal/parser"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestBackoff(t *testing.T) {
	cfg := Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 6, want: 32 * time.Second},
		{attempt: 7, want: 60 * time.Second},
		{attempt: 40, want: 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	h := NewHandler(Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, WithSleep(rec.sleep))

	calls := 0
	got, err := Do(context.Background(), h, OperationContext{Operation: "explain", Subject: "Closures"},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("connection reset")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestExecute_BudgetIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "llm-failures.jsonl")
	rec := &sleepRecorder{}
	h := NewHandler(
		Config{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond},
		WithSleep(rec.sleep),
		WithFailureLog(NewFailureLog(logPath)),
	)

	calls := 0
	err := h.Execute(context.Background(), OperationContext{Operation: "decompose", Subject: "React"},
		func(context.Context) error {
			calls++
			return &parser.ParseError{Message: "no JSON found", Raw: "I cannot help with that"}
		})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.True(t, parser.IsParseError(err))
	assert.Equal(t, 4, calls)

	// One sleep between each pair of attempts, non-decreasing, capped.
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, rec.delays)

	records, err := ReadFailureLog(logPath)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, r := range records {
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, "decompose", r.Operation)
		assert.Equal(t, "React", r.Subject)
		assert.Equal(t, KindParse, r.ErrorKind)
		assert.Equal(t, "I cannot help with that", r.RawPreview)
	}
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	h := NewHandler(DefaultConfig(), WithSleep(rec.sleep))

	calls := 0
	sentinel := errors.New("invalid api key")
	err := h.Execute(context.Background(), OperationContext{Operation: "explain"}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestExecute_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHandler(DefaultConfig(), WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	calls := 0
	err := h.Execute(ctx, OperationContext{Operation: "critique"}, func(context.Context) error {
		calls++
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_FailureHook(t *testing.T) {
	var kinds []ErrorKind
	h := NewHandler(Config{MaxAttempts: 2},
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithFailureHook(func(_ OperationContext, k ErrorKind) { kinds = append(kinds, k) }),
	)

	_ = h.Execute(context.Background(), OperationContext{Operation: "validate"}, func(context.Context) error {
		return errors.New("503")
	})

	assert.Equal(t, []ErrorKind{KindTransient, KindTransient}, kinds)
}

func TestNewHandler_MinimumOneAttempt(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 0})
	assert.Equal(t, 1, h.Config().MaxAttempts)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "parse", err: &parser.ParseError{Message: "bad"}, want: KindParse},
		{name: "canceled", err: context.Canceled, want: KindCanceled},
		{name: "deadline", err: context.DeadlineExceeded, want: KindCanceled},
		{name: "permanent", err: Permanent(errors.New("401")), want: KindPermanent},
		{name: "circuit open", err: fmt.Errorf("anthropic: %w", ErrCircuitOpen), want: KindCircuitOpen},
		{name: "other", err: errors.New("boom"), want: KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestReadFailureLog_Missing(t *testing.T) {
	records, err := ReadFailureLog(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFailureLog_NilSafe(t *testing.T) {
	var l *FailureLog
	assert.NoError(t, l.Append(FailureRecord{}))
}
