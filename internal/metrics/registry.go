// Package metrics provides a small labeled metrics registry with counters,
// gauges, and histograms, exposed in Prometheus text format and as JSON.
//
// The registry is process-scoped but never global: callers construct one at
// startup and pass it explicitly, so tests get a fresh registry each run.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind identifies a metric type.
type Kind string

const (
	// KindCounter is a monotonically non-decreasing value.
	KindCounter Kind = "counter"

	// KindGauge is a value that can go up and down.
	KindGauge Kind = "gauge"

	// KindHistogram is a bucketed distribution with count and sum.
	KindHistogram Kind = "histogram"
)

// Registry holds registered metrics keyed by name. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// metric is the internal interface shared by all metric kinds.
type metric interface {
	name() string
	help() string
	kind() Kind
	samples() []Sample
}

// Sample is one exported time-series value.
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

// NewCounter registers a counter with the given label schema. Registering a
// name twice returns the existing counter when kinds match, so components can
// share metrics without coordination.
func (r *Registry) NewCounter(name, help string, labelNames ...string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if c, ok := existing.(*Counter); ok {
			return c
		}
	}
	c := &Counter{
		meta:   meta{metricName: name, metricHelp: help, labelNames: labelNames},
		values: make(map[string]*labeledValue),
	}
	r.metrics[name] = c
	return c
}

// NewGauge registers a gauge with the given label schema.
func (r *Registry) NewGauge(name, help string, labelNames ...string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if g, ok := existing.(*Gauge); ok {
			return g
		}
	}
	g := &Gauge{
		meta:   meta{metricName: name, metricHelp: help, labelNames: labelNames},
		values: make(map[string]*labeledValue),
	}
	r.metrics[name] = g
	return g
}

// NewHistogram registers a histogram with the given bucket upper bounds.
// Bounds must be sorted ascending; a +Inf bucket is implicit.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labelNames ...string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if h, ok := existing.(*Histogram); ok {
			return h
		}
	}
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)

	h := &Histogram{
		meta:   meta{metricName: name, metricHelp: help, labelNames: labelNames},
		bounds: bounds,
		values: make(map[string]*histogramValue),
	}
	r.metrics[name] = h
	return h
}

// Unregister removes a metric by name. Subsequent Collect calls yield no
// samples for it.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
}

// Collect returns all current samples across registered metrics, sorted by
// metric name for stable output.
func (r *Registry) Collect() []Sample {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	ms := make([]metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		ms = append(ms, r.metrics[name])
	}
	r.mu.RUnlock()

	var out []Sample
	for _, m := range ms {
		out = append(out, m.samples()...)
	}
	return out
}

// meta holds the identity shared by all metric kinds.
type meta struct {
	metricName string
	metricHelp string
	labelNames []string
}

func (m *meta) name() string { return m.metricName }
func (m *meta) help() string { return m.metricHelp }

// labelKey builds the internal map key from label values, in schema order.
// Extra or missing values are an error on the caller's part; we key on what
// we are given to keep the hot path allocation-light.
func labelKey(values []string) string {
	return strings.Join(values, "\x1f")
}

// labelMap reconstructs the name→value map for export.
func (m *meta) labelMap(key string) map[string]string {
	if key == "" && len(m.labelNames) == 0 {
		return nil
	}
	values := strings.Split(key, "\x1f")
	labels := make(map[string]string, len(m.labelNames))
	for i, name := range m.labelNames {
		if i < len(values) {
			labels[name] = values[i]
		}
	}
	return labels
}

// labeledValue is a single float value slot guarded by the metric's lock.
type labeledValue struct {
	value float64
}

// Counter is a monotonically non-decreasing metric.
type Counter struct {
	meta
	mu     sync.Mutex
	values map[string]*labeledValue
}

func (c *Counter) kind() Kind { return KindCounter }

// Inc increments the counter by 1 for the given label values.
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add increments the counter by delta. Negative deltas are ignored so the
// counter stays monotonic.
func (c *Counter) Add(delta float64, labelValues ...string) {
	if delta < 0 {
		return
	}
	key := labelKey(labelValues)
	c.mu.Lock()
	v, ok := c.values[key]
	if !ok {
		v = &labeledValue{}
		c.values[key] = v
	}
	v.value += delta
	c.mu.Unlock()
}

// Value returns the current count for the given label values.
func (c *Counter) Value(labelValues ...string) float64 {
	key := labelKey(labelValues)
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v.value
	}
	return 0
}

func (c *Counter) samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Sample, 0, len(c.values))
	for key, v := range c.values {
		out = append(out, Sample{Name: c.metricName, Labels: c.labelMap(key), Value: v.value})
	}
	sortSamples(out)
	return out
}

// Gauge is a metric that can move in both directions.
type Gauge struct {
	meta
	mu     sync.Mutex
	values map[string]*labeledValue
}

func (g *Gauge) kind() Kind { return KindGauge }

// Set sets the gauge to the given value.
func (g *Gauge) Set(value float64, labelValues ...string) {
	key := labelKey(labelValues)
	g.mu.Lock()
	v, ok := g.values[key]
	if !ok {
		v = &labeledValue{}
		g.values[key] = v
	}
	v.value = value
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc(labelValues ...string) { g.addLocked(1, labelValues) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec(labelValues ...string) { g.addLocked(-1, labelValues) }

func (g *Gauge) addLocked(delta float64, labelValues []string) {
	key := labelKey(labelValues)
	g.mu.Lock()
	v, ok := g.values[key]
	if !ok {
		v = &labeledValue{}
		g.values[key] = v
	}
	v.value += delta
	g.mu.Unlock()
}

// Value returns the current gauge value for the given label values.
func (g *Gauge) Value(labelValues ...string) float64 {
	key := labelKey(labelValues)
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.values[key]; ok {
		return v.value
	}
	return 0
}

func (g *Gauge) samples() []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Sample, 0, len(g.values))
	for key, v := range g.values {
		out = append(out, Sample{Name: g.metricName, Labels: g.labelMap(key), Value: v.value})
	}
	sortSamples(out)
	return out
}

// histogramValue holds the per-label-set distribution state.
type histogramValue struct {
	counts []uint64 // one per bound, non-cumulative
	count  uint64
	sum    float64
}

// Histogram is a bucketed distribution metric.
type Histogram struct {
	meta
	mu     sync.Mutex
	bounds []float64
	values map[string]*histogramValue
}

func (h *Histogram) kind() Kind { return KindHistogram }

// Observe records one observation.
func (h *Histogram) Observe(value float64, labelValues ...string) {
	key := labelKey(labelValues)
	h.mu.Lock()
	v, ok := h.values[key]
	if !ok {
		v = &histogramValue{counts: make([]uint64, len(h.bounds))}
		h.values[key] = v
	}
	for i, bound := range h.bounds {
		if value <= bound {
			v.counts[i]++
			break
		}
	}
	v.count++
	v.sum += value
	h.mu.Unlock()
}

// Count returns the observation count for the given label values.
func (h *Histogram) Count(labelValues ...string) uint64 {
	key := labelKey(labelValues)
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.values[key]; ok {
		return v.count
	}
	return 0
}

// Sum returns the observation sum for the given label values.
func (h *Histogram) Sum(labelValues ...string) float64 {
	key := labelKey(labelValues)
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.values[key]; ok {
		return v.sum
	}
	return 0
}

// samples exports _bucket (cumulative, with an implicit +Inf), _count, and
// _sum series per label set.
func (h *Histogram) samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Sample
	keys := make([]string, 0, len(h.values))
	for key := range h.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := h.values[key]
		labels := h.labelMap(key)

		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += v.counts[i]
			out = append(out, Sample{
				Name:   h.metricName + "_bucket",
				Labels: withLabel(labels, "le", formatBound(bound)),
				Value:  float64(cumulative),
			})
		}
		out = append(out, Sample{
			Name:   h.metricName + "_bucket",
			Labels: withLabel(labels, "le", "+Inf"),
			Value:  float64(v.count),
		})
		out = append(out, Sample{Name: h.metricName + "_count", Labels: labels, Value: float64(v.count)})
		out = append(out, Sample{Name: h.metricName + "_sum", Labels: labels, Value: v.sum})
	}
	return out
}

// withLabel returns a copy of labels with one extra pair.
func withLabel(labels map[string]string, name, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[name] = value
	return out
}

func formatBound(bound float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", bound), "0"), ".")
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return labelString(samples[i].Labels) < labelString(samples[j].Labels)
	})
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(',')
	}
	return sb.String()
}

// DefaultLatencyBuckets are the histogram bounds used for latency metrics,
// in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
