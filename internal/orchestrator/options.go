package orchestrator

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/metrics"
)

const (
	// DefaultMaxRevisions caps critique-driven revisions per concept.
	DefaultMaxRevisions = 2
	// DefaultConfidenceThreshold is the decomposition score below which the
	// decomposition is validated independently.
	DefaultConfidenceThreshold = 8.0
	// DefaultMaxConcurrency bounds outstanding provider calls per session.
	DefaultMaxConcurrency = 4
)

// Interrupter reports whether the session has been asked to stop.
type Interrupter interface {
	Interrupted() bool
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	sink                Sink
	bus                 *events.Bus
	logger              *zap.Logger
	metrics             *metrics.Metrics
	interrupter         Interrupter
	maxRevisions        int
	confidenceThreshold float64
	maxConcurrency      int
}

func defaultOptions() engineOptions {
	return engineOptions{
		sink:                nopSink{},
		logger:              zap.NewNop(),
		maxRevisions:        DefaultMaxRevisions,
		confidenceThreshold: DefaultConfidenceThreshold,
		maxConcurrency:      DefaultMaxConcurrency,
	}
}

// WithSink sets where pages are written.
func WithSink(s Sink) Option {
	return func(o *engineOptions) { o.sink = s }
}

// WithBus sets the event bus progress is published on.
func WithBus(b *events.Bus) Option {
	return func(o *engineOptions) { o.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithInterrupter sets the cooperative interrupt source.
func WithInterrupter(i Interrupter) Option {
	return func(o *engineOptions) { o.interrupter = i }
}

// WithMaxRevisions sets the revision cap. Negative values are treated as zero.
func WithMaxRevisions(n int) Option {
	return func(o *engineOptions) {
		if n < 0 {
			n = 0
		}
		o.maxRevisions = n
	}
}

// WithConfidenceThreshold sets the validation threshold.
func WithConfidenceThreshold(t float64) Option {
	return func(o *engineOptions) { o.confidenceThreshold = t }
}

// WithMaxConcurrency bounds concurrent provider calls. Values below 1 mean 1.
func WithMaxConcurrency(n int) Option {
	return func(o *engineOptions) {
		if n < 1 {
			n = 1
		}
		o.maxConcurrency = n
	}
}
