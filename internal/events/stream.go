package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// sendTimeout is how long a full stream waits for its reader before dropping.
const sendTimeout = 100 * time.Millisecond

// Stream adapts a Bus to a buffered channel.
type Stream struct {
	events      chan Event
	dropped     atomic.Uint64
	unsubscribe func()

	mu     sync.RWMutex
	closed bool
}

// Channel subscribes a new Stream with the given buffer to all topics.
// When the buffer is full the publisher waits briefly, then drops the event.
func (b *Bus) Channel(buffer int) *Stream {
	s := &Stream{events: make(chan Event, buffer)}
	s.unsubscribe = b.SubscribeAll(s.send)
	return s
}

func (s *Stream) send(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- ev:
	case <-timer.C:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded because the buffer stayed full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes from the bus and closes the channel. Safe to call twice.
func (s *Stream) Close() {
	s.unsubscribe()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
