// Package retry provides a bounded retry policy and the delay abstraction used
// for every settling pause, so timing-dependent code can be tested without
// real sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRetriesExhausted is returned when every attempt reported not done.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Sleeper pauses for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Clock sleeps on the wall clock.
type Clock struct{}

// Sleep blocks for d. It returns ctx.Err() if ctx ends first.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a Sleeper that returns immediately and remembers every
// requested delay.
type Recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded delays in call order.
func (r *Recorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// Total returns the sum of all recorded delays.
func (r *Recorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay is the pause after a failed attempt.
	Delay time.Duration

	// Multiplier grows the delay after each failed attempt. Values below 1
	// keep the delay fixed.
	Multiplier float64

	// MaxDelay caps a growing delay. Zero means no cap.
	MaxDelay time.Duration
}

// DelayAfter returns the pause that follows the given failed attempt
// (1-based).
func (p Policy) DelayAfter(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it reports done, returns an error, or attempts run out.
// fn receives the 1-based attempt number. There is no delay after the last
// attempt. Do returns the number of attempts made.
func (p Policy) Do(ctx context.Context, s Sleeper, fn func(ctx context.Context, attempt int) (bool, error)) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	for attempt := 1; attempt <= max; attempt++ {
		done, err := fn(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		if attempt == max {
			break
		}
		if err := s.Sleep(ctx, p.DelayAfter(attempt)); err != nil {
			return attempt, fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return max, ErrRetriesExhausted
}
