// Package events provides the per-session publish/subscribe bus the engine
// uses to report progress to the TUI, the debug log and other subscribers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic names a class of events.
type Topic string

const (
	// TopicLog carries log lines.
	TopicLog Topic = "log"
	// TopicNode carries node discovered/updated notifications.
	TopicNode Topic = "node"
	// TopicWorkflow carries phase changes.
	TopicWorkflow Topic = "workflow"
	// TopicInput carries requests for user input.
	TopicInput Topic = "input"
	// TopicError carries warnings and errors.
	TopicError Topic = "error"
)

// AllTopics lists every topic a Bus dispatches.
var AllTopics = []Topic{TopicLog, TopicNode, TopicWorkflow, TopicInput, TopicError}

// Event is a single published message.
type Event struct {
	// Topic is the event class.
	Topic Topic
	// SessionID identifies the session that produced the event.
	SessionID string
	// Timestamp is when the event was first published.
	Timestamp time.Time
	// Payload is one of the *Payload types in this package.
	Payload any
}

// Handler receives events. Handlers run synchronously on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	topic   Topic // empty means all topics
	handler Handler
}

// Bus dispatches events to subscribers. The zero value is not usable; use New.
type Bus struct {
	sessionID string
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock replaces the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(b *Bus) { b.now = fn }
}

// New creates a bus stamping events with sessionID.
func New(sessionID string, opts ...Option) *Bus {
	b := &Bus{
		sessionID: sessionID,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SessionID returns the id stamped on events published here.
func (b *Bus) SessionID() string {
	return b.sessionID
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	return b.add(topic, h)
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.add("", h)
}

func (b *Bus) add(topic Topic, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish stamps payload with the session id and current time and dispatches it.
func (b *Bus) Publish(topic Topic, payload any) {
	b.Forward(Event{
		Topic:     topic,
		SessionID: b.sessionID,
		Timestamp: b.now(),
		Payload:   payload,
	})
}

// Forward dispatches ev unchanged, keeping its session id and timestamp.
func (b *Bus) Forward(ev Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "" || s.topic == ev.Topic {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(ev.Topic)),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}

// Pipe forwards every event published on b to target. Events keep the
// session id they were published with. The returned function stops forwarding.
func (b *Bus) Pipe(target *Bus) (stop func()) {
	return b.SubscribeAll(target.Forward)
}
