package batch

import "sync/atomic"

// RunState is the single "a run is active" flag. It is set by the caller
// that wins TryStart and cleared only by the worker when it exits.
type RunState struct {
	running atomic.Bool
}

// TryStart sets the flag if it was clear and reports whether it did.
func (r *RunState) TryStart() bool {
	return r.running.CompareAndSwap(false, true)
}

// MarkDone clears the flag.
func (r *RunState) MarkDone() {
	r.running.Store(false)
}

// Running reports whether a run is active.
func (r *RunState) Running() bool {
	return r.running.Load()
}
