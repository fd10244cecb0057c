// Package metrics provides Prometheus-compatible metrics for kmsend.
//
// Counters, gauges and histograms are kept in a Registry and rendered in the
// Prometheus text exposition format. Metrics sharing a name but not labels
// form one family.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the Prometheus name of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in sorted order, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	return "{" + l.pairs() + "}"
}

func (l Labels) pairs() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, strconv.Quote(l[k])))
	}
	return strings.Join(parts, ",")
}

// with returns l plus one extra pair, rendered.
func (l Labels) with(key, value string) string {
	p := l.pairs()
	extra := fmt.Sprintf("%s=%s", key, strconv.Quote(value))
	if p == "" {
		return "{" + extra + "}"
	}
	return "{" + p + "," + extra + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Value returns the current value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last is +Inf
	sum    float64
	count  uint64
}

// StepBuckets suit UI step and per-recipient durations, in seconds.
var StepBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// RunBuckets suit whole-run durations, in seconds.
var RunBuckets = []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	idx := sort.SearchFloat64s(h.buckets, v)
	h.counts[idx]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

type family struct {
	help string
	typ  MetricType
	keys []string // series keys in registration order
}

// Registry holds all registered metrics.
type Registry struct {
	mu         sync.RWMutex
	namespace  string
	families   map[string]*family
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a Registry whose metric names are prefixed with
// namespace and an underscore.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		families:   make(map[string]*family),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// family must be called with r.mu held.
func (r *Registry) family(name, help string, typ MetricType) *family {
	f, ok := r.families[name]
	if !ok {
		f = &family{help: help, typ: typ}
		r.families[name] = f
	}
	return f
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: full, labels: labels}
	r.counters[key] = c
	f := r.family(full, help, TypeCounter)
	f.keys = append(f.keys, key)
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: full, labels: labels}
	r.gauges[key] = g
	f := r.family(full, help, TypeGauge)
	f.keys = append(f.keys, key)
	return g
}

// Histogram returns the histogram for name and labels, creating it on first
// use. buckets are upper bounds; +Inf is implicit.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	if buckets == nil {
		buckets = StepBuckets
	}
	sorted := slices.Clone(buckets)
	slices.Sort(sorted)
	h := &Histogram{
		name:    full,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
	r.histograms[key] = h
	f := r.family(full, help, TypeHistogram)
	f.keys = append(f.keys, key)
	return h
}

// WritePrometheus writes every family in the text exposition format,
// sorted by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.typ)
		for _, key := range f.keys {
			switch f.typ {
			case TypeCounter:
				c := r.counters[key]
				fmt.Fprintf(&b, "%s%s %d\n", name, c.labels.String(), c.Value())
			case TypeGauge:
				g := r.gauges[key]
				fmt.Fprintf(&b, "%s%s %d\n", name, g.labels.String(), g.Value())
			case TypeHistogram:
				writeHistogram(&b, r.histograms[key])
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHistogram(b *strings.Builder, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		le := strconv.FormatFloat(bound, 'g', -1, 64)
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, h.labels.with("le", le), cumulative)
	}
	cumulative += h.counts[len(h.buckets)]
	fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cumulative)
	fmt.Fprintf(b, "%s_sum%s %s\n", h.name, h.labels.String(), strconv.FormatFloat(h.sum, 'g', -1, 64))
	fmt.Fprintf(b, "%s_count%s %d\n", h.name, h.labels.String(), h.count)
}

// HTTPHandler serves WritePrometheus.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}
