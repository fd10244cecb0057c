package progress

import (
	"context"
	"errors"
	"log/slog"
)

// Sink consumes events in order.
type Sink interface {
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// Dispatcher drains a Stream into sinks. A failing sink is logged and does
// not stop delivery to the others.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher for the given sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger.With("component", "progress")}
}

// Run forwards events until the stream is closed and drained or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, s *Stream) error {
	for {
		e, err := s.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		d.dispatch(ctx, e)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	for _, sink := range d.sinks {
		if err := sink.Handle(ctx, e); err != nil {
			d.logger.Warn("sink failed", "kind", string(e.Kind), "run_id", e.RunID, "error", err)
		}
	}
}
