package relayer

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names exported by a relayer.
const (
	MetricSettled     = "transactions_settled"
	MetricRejected    = "transactions_rejected"
	MetricFees        = "fees_collected"
	MetricLeaves      = "leaves"
	MetricSettleTime  = "settle_seconds"
	maxHistogramItems = 1000
)

// Metrics collects relayer counters, gauges and settle latencies.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	started    time.Time
}

// MetricsSummary is served by GET /metrics.
type MetricsSummary struct {
	Uptime     float64                       `json:"uptimeSeconds"`
	Counters   map[string]int64              `json:"counters"`
	Gauges     map[string]float64            `json:"gauges"`
	Histograms map[string]map[string]float64 `json:"histograms"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		started:    time.Now(),
	}
}

func (m *Metrics) IncrementCounter(name string, by int64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, labels)] += by
}

func (m *Metrics) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, labels)] = value
}

// RecordHistogram keeps the last maxHistogramItems values per key.
func (m *Metrics) RecordHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, labels)
	values := append(m.histograms[key], value)
	if len(values) > maxHistogramItems {
		values = values[len(values)-maxHistogramItems:]
	}
	m.histograms[key] = values
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, labels)]
}

func (m *Metrics) Summary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSummary{
		Uptime:     time.Since(m.started).Seconds(),
		Counters:   make(map[string]int64, len(m.counters)),
		Gauges:     make(map[string]float64, len(m.gauges)),
		Histograms: make(map[string]map[string]float64, len(m.histograms)),
	}
	for k, v := range m.counters {
		s.Counters[k] = v
	}
	for k, v := range m.gauges {
		s.Gauges[k] = v
	}
	for k, values := range m.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{"count": float64(len(values)), "min": values[0], "max": values[0]}
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			h["sum"] += v
		}
		h["avg"] = h["sum"] / h["count"]
		s.Histograms[k] = h
	}
	return s
}

// metricKey is name{k=v,...} with labels sorted by key.
func metricKey(name string, labels map[string]string) string {
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
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (m *Metrics) recordSettled(action string, fee uint64, leaves int, took time.Duration) {
	m.IncrementCounter(MetricSettled, 1, map[string]string{"action": action})
	m.IncrementCounter(MetricFees, int64(fee), nil)
	m.SetGauge(MetricLeaves, float64(leaves), nil)
	m.RecordHistogram(MetricSettleTime, took.Seconds(), nil)
}

func (m *Metrics) recordRejected(reason string) {
	m.IncrementCounter(MetricRejected, 1, map[string]string{"reason": reason})
}
