// Prometheus text-format metrics for the tool X endstop host.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels is one label set of a metric family.
type Labels map[string]string

// Key returns a canonical key for the label set.
func (l Labels) Key() string {
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + l[k]
	}
	return strings.Join(parts, ",")
}

// String renders the label set in exposition format, {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.Quote(l[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metric is a named metric family.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

type sample struct {
	labels  Labels
	value   float64
	count   uint64
	buckets []uint64
}

// family holds the samples of one metric, keyed by label set.
type family struct {
	name string
	help string
	kind MetricType

	mu      sync.Mutex
	samples map[string]*sample
}

func newFamily(name, help string, kind MetricType) family {
	return family{name: name, help: help, kind: kind, samples: make(map[string]*sample)}
}

func (f *family) Name() string     { return f.name }
func (f *family) Help() string     { return f.help }
func (f *family) Type() MetricType { return f.kind }

// sample returns the sample for labels, creating it. f.mu must be held.
func (f *family) sample(labels Labels, nbuckets int) *sample {
	key := labels.Key()
	s, ok := f.samples[key]
	if !ok {
		s = &sample{labels: labels.clone()}
		if nbuckets > 0 {
			s.buckets = make([]uint64, nbuckets)
		}
		f.samples[key] = s
	}
	return s
}

// sorted returns the samples ordered by label key. f.mu must be held.
func (f *family) sorted() []*sample {
	keys := make([]string, 0, len(f.samples))
	for k := range f.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*sample, len(keys))
	for i, k := range keys {
		out[i] = f.samples[k]
	}
	return out
}

func (f *family) writeHeader(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
}

// Counter is a monotonically increasing metric.
type Counter struct {
	family
}

func NewCounter(name, help string) *Counter {
	return &Counter{family: newFamily(name, help, TypeCounter)}
}

// Inc increments the counter by 1.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

func (c *Counter) Add(labels Labels, delta uint64) {
	c.mu.Lock()
	c.sample(labels, 0).count += delta
	c.mu.Unlock()
}

// Get returns the current value for labels.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.samples[labels.Key()]; ok {
		return s.count
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHeader(sb)
	for _, s := range c.sorted() {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.count)
	}
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	family
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{family: newFamily(name, help, TypeGauge)}
}

func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	g.sample(labels, 0).value = value
	g.mu.Unlock()
}

func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	g.sample(labels, 0).value += delta
	g.mu.Unlock()
}

func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.samples[labels.Key()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeHeader(sb)
	for _, s := range g.sorted() {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels, formatFloat(s.value))
	}
}

// Histogram tracks the distribution of observations. Each observation is
// stored in the first bucket whose upper bound holds it; the exposition
// output is cumulative.
type Histogram struct {
	family
	bounds []float64
}

func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return &Histogram{family: newFamily(name, help, TypeHistogram), bounds: bounds}
}

// DefaultBuckets returns latency buckets in seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// ExponentialBuckets returns count bounds starting at start, each factor
// times the previous one.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.sample(labels, len(h.bounds))
	s.count++
	s.value += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		s.buckets[i]++
	}
}

// HistogramSnapshot is a point-in-time copy of one histogram sample.
// Buckets are cumulative.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	s, ok := h.samples[labels.Key()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = s.count, s.value
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += s.buckets[i]
		snap.Buckets[bound] = cumulative
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeHeader(sb)
	for _, s := range h.sorted() {
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += s.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", "+Inf"), s.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels, formatFloat(s.value))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, s.count)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Registry holds metric families in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[m.Name()]; exists {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
