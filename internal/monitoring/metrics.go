package monitoring

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is a point-in-time view of one series.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Help      string            `json:"help"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// Counter is a monotonically increasing value.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  atomic.Uint64
}

func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add ignores negative deltas.
func (c *Counter) Add(delta float64) {
	if delta <= 0 {
		return
	}
	c.value.Add(uint64(delta))
}

func (c *Counter) Get() float64 {
	return float64(c.value.Load())
}

// Gauge holds a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	bits   atomic.Uint64
}

func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// DefaultBuckets are upper bounds in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += v
	i := sort.SearchFloat64s(h.buckets, v)
	h.counts[i]++
}

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Percentile returns the upper bound of the bucket holding the p-th percentile.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return 0
	}
	target := float64(h.count) * p / 100.0
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		if float64(cumulative) >= target {
			return bound
		}
	}
	return math.Inf(1)
}

// cumulative returns bucket bounds with cumulative counts, +Inf last.
func (h *Histogram) cumulative() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]uint64, len(h.counts))
	var running uint64
	for i, c := range h.counts {
		running += c
		out[i] = running
	}
	return h.buckets, out, h.sum, h.count
}

// Collector owns every in-process series and renders them for /metrics.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter creates or returns the counter for name and labels.
func (mc *Collector) Counter(name, help string, labels map[string]string) *Counter {
	key := seriesKey(name, labels)

	mc.mu.RLock()
	c, ok := mc.counters[key]
	mc.mu.RUnlock()
	if ok {
		return c
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if c, ok = mc.counters[key]; !ok {
		c = &Counter{name: name, help: help, labels: copyLabels(labels)}
		mc.counters[key] = c
	}
	return c
}

// Gauge creates or returns the gauge for name and labels.
func (mc *Collector) Gauge(name, help string, labels map[string]string) *Gauge {
	key := seriesKey(name, labels)

	mc.mu.RLock()
	g, ok := mc.gauges[key]
	mc.mu.RUnlock()
	if ok {
		return g
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if g, ok = mc.gauges[key]; !ok {
		g = &Gauge{name: name, help: help, labels: copyLabels(labels)}
		mc.gauges[key] = g
	}
	return g
}

// Histogram creates or returns the histogram for name and labels. A nil
// buckets slice means DefaultBuckets.
func (mc *Collector) Histogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)

	mc.mu.RLock()
	h, ok := mc.histograms[key]
	mc.mu.RUnlock()
	if ok {
		return h
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if h, ok = mc.histograms[key]; !ok {
		if buckets == nil {
			buckets = DefaultBuckets
		}
		sorted := append([]float64(nil), buckets...)
		sort.Float64s(sorted)
		h = &Histogram{
			name:    name,
			help:    help,
			labels:  copyLabels(labels),
			buckets: sorted,
			counts:  make([]uint64, len(sorted)+1),
		}
		mc.histograms[key] = h
	}
	return h
}

// Snapshot returns every counter and gauge plus a count per histogram,
// ordered by series key.
func (mc *Collector) Snapshot() []Metric {
	mc.updateRuntime()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	now := time.Now()
	out := make([]Metric, 0, len(mc.counters)+len(mc.gauges)+len(mc.histograms))
	for _, key := range sortedKeys(mc.counters) {
		c := mc.counters[key]
		out = append(out, Metric{Name: c.name, Type: MetricTypeCounter, Help: c.help, Labels: c.labels, Value: c.Get(), Timestamp: now})
	}
	for _, key := range sortedKeys(mc.gauges) {
		g := mc.gauges[key]
		out = append(out, Metric{Name: g.name, Type: MetricTypeGauge, Help: g.help, Labels: g.labels, Value: g.Get(), Timestamp: now})
	}
	for _, key := range sortedKeys(mc.histograms) {
		h := mc.histograms[key]
		out = append(out, Metric{Name: h.name, Type: MetricTypeHistogram, Help: h.help, Labels: h.labels, Value: float64(h.Count()), Timestamp: now})
	}
	return out
}

// WritePrometheus renders all series in the Prometheus text format.
func (mc *Collector) WritePrometheus(w io.Writer) error {
	mc.updateRuntime()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var b strings.Builder
	described := make(map[string]bool)
	describe := func(name, help string, typ MetricType) {
		if described[name] {
			return
		}
		described[name] = true
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	}

	for _, key := range sortedKeys(mc.counters) {
		c := mc.counters[key]
		describe(c.name, c.help, MetricTypeCounter)
		fmt.Fprintf(&b, "%s%s %g\n", c.name, formatLabels(c.labels, "", ""), c.Get())
	}
	for _, key := range sortedKeys(mc.gauges) {
		g := mc.gauges[key]
		describe(g.name, g.help, MetricTypeGauge)
		fmt.Fprintf(&b, "%s%s %g\n", g.name, formatLabels(g.labels, "", ""), g.Get())
	}
	for _, key := range sortedKeys(mc.histograms) {
		h := mc.histograms[key]
		describe(h.name, h.help, MetricTypeHistogram)
		bounds, counts, sum, count := h.cumulative()
		for i, bound := range bounds {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, formatLabels(h.labels, "le", fmt.Sprintf("%g", bound)), counts[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, formatLabels(h.labels, "le", "+Inf"), counts[len(counts)-1])
		fmt.Fprintf(&b, "%s_sum%s %g\n", h.name, formatLabels(h.labels, "", ""), sum)
		fmt.Fprintf(&b, "%s_count%s %d\n", h.name, formatLabels(h.labels, "", ""), count)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// PrometheusHandler serves WritePrometheus.
func (mc *Collector) PrometheusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.Status(http.StatusOK)
		_ = mc.WritePrometheus(c.Writer)
	}
}

// JSONHandler serves Snapshot with uptime.
func (mc *Collector) JSONHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := mc.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"timestamp":     time.Now(),
			"uptime":        time.Since(mc.startTime).String(),
			"total_metrics": len(metrics),
			"metrics":       metrics,
		})
	}
}

func (mc *Collector) updateRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	mc.Gauge("go_memstats_alloc_bytes", "Number of bytes allocated and still in use", nil).Set(float64(memStats.Alloc))
	mc.Gauge("go_goroutines", "Number of goroutines that currently exist", nil).Set(float64(runtime.NumGoroutine()))
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	if len(labels) == 0 && extraKey == "" {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	if extraKey != "" {
		pairs = append(pairs, fmt.Sprintf("%s=%q", extraKey, extraValue))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
