// Package analytics buffers execution lifecycle events and drains them in
// the background, never blocking the run that produced them.
package analytics

import (
	"log/slog"
	"sync"
)

// Event is a single analytics datum emitted by the pipeline.
type Event struct {
	Name       string
	ScoutID    string
	Properties map[string]any
}

// Sink is a fire-and-forget event buffer. Nil-safe: Emit is a no-op on a
// nil *Sink, so callers never need to check whether analytics is
// configured before emitting.
type Sink struct {
	events chan Event
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Sink with the given buffer size and starts its background
// drain goroutine. Call Close to stop it.
func New(bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &Sink{
		events: make(chan Event, bufferSize),
		logger: slog.Default().With("component", "analytics"),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit pushes an event onto the buffer. If the buffer is full, the event is
// dropped and counted via a warning log rather than blocking the caller.
func (s *Sink) Emit(event Event) {
	if s == nil {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("analytics buffer full, dropping event", "event", event.Name, "scout_id", event.ScoutID)
	}
}

// Close stops the drain goroutine after flushing any buffered events.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.events)
		<-s.done
	})
}

func (s *Sink) drain() {
	defer close(s.done)
	for event := range s.events {
		s.logger.Info("analytics event", "event", event.Name, "scout_id", event.ScoutID, "properties", event.Properties)
	}
}
