package workflow

import (
	"log"
	"sync"
)

// streamBuffer bounds the per-request event channel. A request emits well
// under a hundred events, so producers never block in practice.
const streamBuffer = 1024

// Stream is the per-request multiplexer: concurrent producers put events,
// one consumer drains them in arrival order. Termination is sentinel-driven:
// End closes the channel only after all producers have settled, and detached
// producers that outlive the request (TTS callbacks) drop silently instead
// of panicking on a closed channel.
type Stream struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
}

// NewStream builds an empty stream; one per request.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, streamBuffer)}
}

// Events is the consumer side; it is closed when the workflow finishes.
func (s *Stream) Events() <-chan Event { return s.ch }

// Put enqueues an event. After End or Abort the event is dropped.
func (s *Stream) Put(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Only reachable if the consumer stalls for over a thousand events.
		log.Printf("stream: buffer full, dropped %s", e.Name)
	}
}

// End closes the stream once. Call only after awaiting all producers.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Abort marks the stream closed without draining; used when the client
// disconnects so late producers stop enqueueing.
func (s *Stream) Abort() {
	s.End()
}
