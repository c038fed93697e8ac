package event

import "sync"

// Stream is the event channel for a single request. Exactly one caller
// receives from C. The producer publishes events until a terminal event
// settles the stream, after which C is closed and further publishes are
// dropped. This replaces a shared status callback: nothing can leak
// events across requests because every request owns its own channel.
type Stream struct {
	C <-chan Event

	ch      chan Event
	mu      sync.Mutex
	settled bool
}

// NewStream returns a Stream buffered for buf pending events.
func NewStream(buf int) *Stream {
	ch := make(chan Event, buf)
	return &Stream{C: ch, ch: ch}
}

// Publish delivers e to the consumer. Publishing a terminal event settles
// the stream and closes the channel. Events published after settlement are
// dropped; Publish reports whether the event was delivered.
func (s *Stream) Publish(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return false
	}
	s.ch <- e
	if e.Kind.Terminal() {
		s.settled = true
		close(s.ch)
	}
	return true
}

// Abort settles the stream without a terminal event and closes the
// channel. Used when a request is cancelled: after cancellation is
// observed, no further events are delivered.
func (s *Stream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return
	}
	s.settled = true
	close(s.ch)
}

// Settled reports whether the stream has seen its terminal event.
func (s *Stream) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}
