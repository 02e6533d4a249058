// Package metrics keeps in-process counters, gauges and histograms for order construction and
// persistence.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// histogramWindow caps how many samples a histogram keeps.
const histogramWindow = 1000

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Collector manages metrics collection. It is safe for concurrent use.
type Collector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	c := &Collector{}
	c.Reset()
	return c
}

// IncrementCounter increments a counter metric
func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	c.AddCounter(name, 1, labels)
}

// AddCounter adds delta to a counter metric
func (c *Collector) AddCounter(name string, delta int64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.counters[key] += delta
	c.update(key, name, Counter, float64(c.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.gauges[key] = value
	c.update(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (c *Collector) RecordHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	values := append(c.histograms[key], value)
	if len(values) > histogramWindow {
		values = values[len(values)-histogramWindow:]
	}
	c.histograms[key] = values
	c.update(key, name, Histogram, value, labels)
}

// Metric retrieves a metric by name and labels, or nil.
func (c *Collector) Metric(name string, labels map[string]string) *Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// All returns a snapshot of every metric.
func (c *Collector) All() []*Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Metric, 0, len(c.metrics))
	for _, m := range c.metrics {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary returns counters, gauges and histogram statistics keyed by metric key.
func (c *Collector) Summary() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}

	histograms := make(map[string]map[string]float64)
	for key, values := range c.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
		}
		var sum float64
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			sum += v
		}
		h["sum"] = sum
		h["avg"] = sum / h["count"]
		histograms[key] = h
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// Reset resets all metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make(map[string]*Metric)
	c.counters = make(map[string]int64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// makeKey joins the name with the labels sorted by label name.
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("_")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (c *Collector) update(key, name string, t MetricType, value float64, labels map[string]string) {
	c.metrics[key] = &Metric{
		Name:      name,
		Type:      t,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricOrdersBuilt        = "orders_built"
	MetricOrderBuildTime     = "order_build_time"
	MetricOrderErrors        = "order_errors"
	MetricNotesSpent         = "notes_spent"
	MetricAvailableBalance   = "available_balance"
	MetricPersistTasks       = "persist_tasks"
	MetricPersistRetries     = "persist_retries"
	MetricPersistDeadLetters = "persist_dead_letters"
	MetricPersistQueueDepth  = "persist_queue_depth"
	MetricExchangeRequests   = "exchange_requests"
	MetricNotesRecovered     = "notes_recovered"
)

// RecordOrder counts a built order of kind and how long it took.
func (c *Collector) RecordOrder(kind string, notesSpent int, d time.Duration) {
	c.IncrementCounter(MetricOrdersBuilt, map[string]string{"kind": kind})
	c.AddCounter(MetricNotesSpent, int64(notesSpent), nil)
	c.RecordHistogram(MetricOrderBuildTime, d.Seconds(), map[string]string{"kind": kind})
}

// RecordOrderError counts a failed order build of kind.
func (c *Collector) RecordOrderError(kind string) {
	c.IncrementCounter(MetricOrderErrors, map[string]string{"kind": kind})
}

// RecordPersist counts a persistence task outcome: "ok", "retry" or "dead".
func (c *Collector) RecordPersist(task, outcome string) {
	switch outcome {
	case "retry":
		c.IncrementCounter(MetricPersistRetries, map[string]string{"task": task})
	case "dead":
		c.IncrementCounter(MetricPersistDeadLetters, map[string]string{"task": task})
	default:
		c.IncrementCounter(MetricPersistTasks, map[string]string{"task": task})
	}
}
