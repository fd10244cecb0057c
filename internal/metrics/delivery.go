package metrics

import (
	"sync"
	"time"

	"kmsend/internal/delivery"
	"kmsend/internal/progress"
)

// DeliveryMetrics records batch runs and per-recipient outcomes. It
// satisfies batch.Observer and delivery.Observer.
type DeliveryMetrics struct {
	registry *Registry

	runsStarted  *Counter
	runsFinished *Counter
	runActive    *Gauge
	runDuration  *Histogram
	lastTotal    *Gauge
	lastSuccess  *Gauge

	delivered        *Counter
	recipientSeconds *Histogram

	mu          sync.Mutex
	failures    map[delivery.Category]*Counter
	transitions map[delivery.State]*Counter
	stateSince  map[string]time.Time
	now         func() time.Time
}

// NewDeliveryMetrics registers the delivery metric families in r.
func NewDeliveryMetrics(r *Registry) *DeliveryMetrics {
	m := &DeliveryMetrics{
		registry:     r,
		runsStarted:  r.Counter("runs_started_total", "Batch runs started.", nil),
		runsFinished: r.Counter("runs_finished_total", "Batch runs that emitted a completion.", nil),
		runActive:    r.Gauge("run_active", "1 while a batch run is in progress.", nil),
		runDuration:  r.Histogram("run_duration_seconds", "Wall time of a batch run.", nil, RunBuckets),
		lastTotal:    r.Gauge("last_run_targets", "Targets in the most recent run.", nil),
		lastSuccess:  r.Gauge("last_run_delivered", "Confirmed deliveries in the most recent run.", nil),
		delivered:    r.Counter("recipients_delivered_total", "Messages sent after a positive verification.", nil),
		recipientSeconds: r.Histogram("recipient_duration_seconds",
			"Time spent on one recipient, including the reset.", nil, StepBuckets),
		failures:    make(map[delivery.Category]*Counter),
		transitions: make(map[delivery.State]*Counter),
		stateSince:  make(map[string]time.Time),
		now:         time.Now,
	}
	return m
}

// RunStarted implements batch.Observer.
func (m *DeliveryMetrics) RunStarted(runID string) {
	m.runsStarted.Inc()
	m.runActive.Set(1)
}

// RecipientFinished implements batch.Observer.
func (m *DeliveryMetrics) RecipientFinished(o delivery.Outcome, elapsed time.Duration) {
	m.recipientSeconds.ObserveDuration(elapsed)
	if o.Delivered {
		m.delivered.Inc()
		return
	}
	m.failureCounter(o.Category).Inc()
}

// RunFinished implements batch.Observer.
func (m *DeliveryMetrics) RunFinished(s progress.Summary, elapsed time.Duration) {
	m.runsFinished.Inc()
	m.runActive.Set(0)
	m.runDuration.ObserveDuration(elapsed)
	m.lastTotal.Set(int64(s.Total))
	m.lastSuccess.Set(int64(s.Delivered))
}

// Transition implements delivery.Observer. Time spent in each state is
// recorded when the state is left.
func (m *DeliveryMetrics) Transition(name string, from, to delivery.State) {
	m.mu.Lock()
	c, ok := m.transitions[to]
	if !ok {
		c = m.registry.Counter("state_entered_total", "Recipient state machine entries per state.",
			Labels{"state": to.String()})
		m.transitions[to] = c
	}
	now := m.now()
	since, seen := m.stateSince[name]
	if to == delivery.Done {
		delete(m.stateSince, name)
	} else {
		m.stateSince[name] = now
	}
	m.mu.Unlock()

	c.Inc()
	if seen && from != delivery.Idle {
		m.registry.Histogram("state_duration_seconds", "Time spent in a recipient state.",
			Labels{"state": from.String()}, StepBuckets).ObserveDuration(now.Sub(since))
	}
}

// Failures returns the failure count for a category.
func (m *DeliveryMetrics) Failures(c delivery.Category) uint64 {
	return m.failureCounter(c).Value()
}

// Delivered returns the total confirmed deliveries.
func (m *DeliveryMetrics) Delivered() uint64 {
	return m.delivered.Value()
}

func (m *DeliveryMetrics) failureCounter(c delivery.Category) *Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fc, ok := m.failures[c]; ok {
		return fc
	}
	label := string(c)
	if label == "" {
		label = "unknown"
	}
	fc := m.registry.Counter("recipients_failed_total", "Recipients skipped, by failure category.",
		Labels{"category": label})
	m.failures[c] = fc
	return fc
}
