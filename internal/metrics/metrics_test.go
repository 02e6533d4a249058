package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterKeyIgnoresLabelOrder(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("x", map[string]string{"a": "1", "b": "2"})
	c.IncrementCounter("x", map[string]string{"b": "2", "a": "1"})

	m := c.Metric("x", map[string]string{"a": "1", "b": "2"})
	require.NotNil(t, m)
	assert.Equal(t, float64(2), m.Value)
	assert.Equal(t, Counter, m.Type)
}

func TestHistogramSummary(t *testing.T) {
	c := NewCollector()
	for _, v := range []float64{1, 2, 3, 6} {
		c.RecordHistogram("latency", v, nil)
	}
	h := c.Summary()["histograms"].(map[string]map[string]float64)["latency"]
	assert.Equal(t, float64(4), h["count"])
	assert.Equal(t, float64(1), h["min"])
	assert.Equal(t, float64(6), h["max"])
	assert.Equal(t, float64(3), h["avg"])
}

func TestHistogramWindow(t *testing.T) {
	c := NewCollector()
	for i := 0; i < histogramWindow+10; i++ {
		c.RecordHistogram("h", float64(i), nil)
	}
	h := c.Summary()["histograms"].(map[string]map[string]float64)["h"]
	assert.Equal(t, float64(histogramWindow), h["count"])
	assert.Equal(t, float64(10), h["min"])
}

func TestRecordOrder(t *testing.T) {
	c := NewCollector()
	c.RecordOrder("limit", 2, time.Millisecond)
	c.RecordOrder("limit", 1, time.Millisecond)
	c.RecordPersist("store_priv_key", "dead")

	assert.Equal(t, float64(2), c.Metric(MetricOrdersBuilt, map[string]string{"kind": "limit"}).Value)
	assert.Equal(t, float64(3), c.Metric(MetricNotesSpent, nil).Value)
	assert.Equal(t, float64(1), c.Metric(MetricPersistDeadLetters, map[string]string{"task": "store_priv_key"}).Value)

	c.Reset()
	assert.Empty(t, c.All())
}
