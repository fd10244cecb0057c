package progress

import (
	"context"
	"sync"
)

// Broadcaster fans events out to any number of subscribers, each with its own
// unbounded stream so a slow reader never blocks the others.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Stream]struct{}
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Stream]struct{})}
}

// Subscribe returns a stream of future events and a function that ends the
// subscription.
func (b *Broadcaster) Subscribe() (*Stream, func()) {
	s := NewStream()
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.Close()
		})
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Handle(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.Publish(e)
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.Close()
		delete(b.subs, s)
	}
}
