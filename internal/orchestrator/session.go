package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/api"
	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/metrics"
	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/provider"
	"github.com/ShayCichocki/explainit/internal/retry"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// ProviderFactory builds a session's provider around its retry handler.
type ProviderFactory func(h *retry.Handler) provider.Provider

// SessionRunner runs engines for sessions tracked in a registry. Each run
// gets its own state store, event bus, debug log, failure log and interrupt
// watcher; nothing mutable is shared between concurrent sessions.
type SessionRunner struct {
	registry   state.SessionRegistry
	factory    ProviderFactory
	retryCfg   retry.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	bus        *events.Bus
	engineOpts []Option
	onStart    func(*state.Session, *SignalWatcher)
}

// RunnerOption configures a SessionRunner.
type RunnerOption func(*SessionRunner)

// WithCompleter builds each session's provider as an LLM over c.
func WithCompleter(c api.Completer, opts ...provider.Option) RunnerOption {
	return func(r *SessionRunner) {
		r.factory = func(h *retry.Handler) provider.Provider {
			return provider.NewLLM(c, h, opts...)
		}
	}
}

// WithProviderFactory sets how each session's provider is built.
func WithProviderFactory(f ProviderFactory) RunnerOption {
	return func(r *SessionRunner) { r.factory = f }
}

// WithRetryConfig sets the retry budget for provider calls.
func WithRetryConfig(cfg retry.Config) RunnerOption {
	return func(r *SessionRunner) { r.retryCfg = cfg }
}

// WithRunnerLogger sets the process logger session logs are also sent to.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *SessionRunner) { r.logger = l }
}

// WithRunnerMetrics sets the metrics shared by all sessions.
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *SessionRunner) { r.metrics = m }
}

// WithEventSink pipes every session's events into b.
func WithEventSink(b *events.Bus) RunnerOption {
	return func(r *SessionRunner) { r.bus = b }
}

// WithEngineOptions appends options applied to every session's engine.
func WithEngineOptions(opts ...Option) RunnerOption {
	return func(r *SessionRunner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithOnStart registers a callback invoked once a session's run is set up,
// before the engine starts. The watcher can be used to interrupt the run.
func WithOnStart(fn func(*state.Session, *SignalWatcher)) RunnerOption {
	return func(r *SessionRunner) { r.onStart = fn }
}

// NewSessionRunner creates a runner over registry.
func NewSessionRunner(registry state.SessionRegistry, opts ...RunnerOption) *SessionRunner {
	r := &SessionRunner{
		registry: registry,
		retryCfg: retry.DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates a session for topic and runs it to completion.
// The returned session reflects the final status.
func (r *SessionRunner) Start(ctx context.Context, topic string, persona models.Persona, depth int) (*state.Session, *Result, error) {
	if persona == "" {
		persona = models.DefaultPersona
	}
	sess, err := r.registry.CreateSession(topic, persona, depth)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	r.logger.Info("session created",
		zap.String("session", sess.ID),
		zap.String("folder", sess.FolderName))

	result, err := r.execute(ctx, sess, func(ctx context.Context, e *Engine) (*Result, error) {
		return e.Run(ctx, topic, depth, persona)
	})
	return r.reload(sess), result, err
}

// Resume continues a session from its persisted state.
func (r *SessionRunner) Resume(ctx context.Context, id string) (*state.Session, *Result, error) {
	sess, err := r.registry.GetSession(id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(sess.StateFile()); err != nil {
		return nil, nil, fmt.Errorf("resume session %s: no workflow state: %w", id, err)
	}

	running := state.SessionRunning
	pid := os.Getpid()
	if _, err := r.registry.UpdateSession(id, state.SessionUpdate{Status: &running, PID: &pid}); err != nil {
		return nil, nil, fmt.Errorf("mark session running: %w", err)
	}

	result, err := r.execute(ctx, sess, func(ctx context.Context, e *Engine) (*Result, error) {
		return e.Resume(ctx)
	})
	return r.reload(sess), result, err
}

func (r *SessionRunner) execute(ctx context.Context, sess *state.Session, start func(context.Context, *Engine) (*Result, error)) (*Result, error) {
	if r.factory == nil {
		return nil, r.finish(sess, errors.New("no content provider configured"), nil)
	}

	bus := events.New(sess.ID, events.WithLogger(r.logger))
	if r.bus != nil {
		stop := bus.Pipe(r.bus)
		defer stop()
	}

	sessionLog := NewSessionLogger(sess.DebugLogFile(), bus, r.logger.With(zap.String("session", sess.ID)))
	defer sessionLog.Close()
	logger := sessionLog.Logger

	failures := retry.NewFailureLog(sess.FailureLogFile())
	handler := retry.NewHandler(r.retryCfg,
		retry.WithFailureLog(failures),
		retry.WithLogger(logger),
		retry.WithFailureHook(func(op retry.OperationContext, kind retry.ErrorKind) {
			r.metrics.AttemptFailed(op.Operation, string(kind))
		}),
	)

	watcher, err := NewSignalWatcher(sess.InterruptFile(), logger)
	if err != nil {
		return nil, r.finish(sess, err, logger)
	}
	defer watcher.Close()
	if err := watcher.Clear(); err != nil {
		logger.Warn("clear stale interrupt", zap.Error(err))
	}

	opts := []Option{
		WithSink(output.NewMkDocs(sess.FolderPath, output.WithLogger(logger))),
		WithBus(bus),
		WithLogger(logger),
		WithMetrics(r.metrics),
		WithInterrupter(watcher),
	}
	opts = append(opts, r.engineOpts...)
	engine := New(r.factory(handler), state.NewWorkflowStore(sess.StateFile()), opts...)

	if r.onStart != nil {
		r.onStart(sess, watcher)
	}

	result, runErr := start(ctx, engine)
	if runErr == nil && result != nil && result.Root.Status == models.NodeStatusFailed {
		runErr = fmt.Errorf("root topic %q failed: %s", result.Root.Name, result.Root.Error)
	}
	return result, r.finish(sess, runErr, logger)
}

// finish records the session outcome and returns runErr unchanged.
// A registry write failure is logged so it never hides runErr.
func (r *SessionRunner) finish(sess *state.Session, runErr error, logger *zap.Logger) error {
	if logger == nil {
		logger = r.logger
	}

	status := state.SessionCompleted
	errText := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrInterrupted):
		status = state.SessionInterrupted
	default:
		status = state.SessionFailed
		errText = runErr.Error()
	}

	if _, err := r.registry.SetStatus(sess.ID, status, errText); err != nil {
		logger.Error("record session status", zap.String("session", sess.ID), zap.Error(err))
	}
	logger.Info("session finished", zap.String("session", sess.ID), zap.String("status", string(status)))
	return runErr
}

func (r *SessionRunner) reload(sess *state.Session) *state.Session {
	fresh, err := r.registry.GetSession(sess.ID)
	if err != nil {
		return sess
	}
	return fresh
}

// Interrupt asks the run of session id to stop. The running process notices
// the signal file and stops forking new work.
func (r *SessionRunner) Interrupt(id string) error {
	sess, err := r.registry.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status != state.SessionRunning {
		return fmt.Errorf("session %s is %s, not running", id, sess.Status)
	}
	return RequestInterrupt(sess.InterruptFile())
}
