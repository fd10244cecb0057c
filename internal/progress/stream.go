package progress

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Next once a closed stream is drained.
var ErrClosed = errors.New("progress: stream closed")

// Stream is an unbounded FIFO of events. Publish never blocks; Next blocks
// until an event is available, the stream is closed and drained, or ctx ends.
// Each event is delivered to exactly one Next call.
type Stream struct {
	mu     sync.Mutex
	buf    *queue.Queue
	ready  chan struct{}
	closed bool
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{buf: queue.New(), ready: make(chan struct{}, 1)}
}

// Publish appends e. Events published after Close are dropped.
func (s *Stream) Publish(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf.Add(e)
	s.mu.Unlock()
	s.signal()
}

func (s *Stream) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest event.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.buf.Length() > 0 {
			e := s.buf.Remove().(Event)
			more := s.buf.Length() > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.ready:
		}
	}
}

// Len returns the number of queued events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Length()
}

// Close stops accepting events. Queued events can still be read.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}
