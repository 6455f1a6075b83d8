// Package metrics ships an in-memory MetricsSink: counters, gauges, and
// histograms kept in plain maps behind a mutex, sufficient to drive the
// engine and its tests without a real Prometheus registry.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Sink is a lock-protected in-memory implementation of ports.MetricsSink.
type Sink struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func labelKey(name string, labels map[string]string) string {
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
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}

// IncCounter adds delta to the named counter.
func (s *Sink) IncCounter(name string, labels map[string]string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[labelKey(name, labels)] += delta
}

// SetGauge sets the named gauge to value.
func (s *Sink) SetGauge(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[labelKey(name, labels)] = value
}

// ObserveHistogram appends value to the named histogram's sample set.
func (s *Sink) ObserveHistogram(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := labelKey(name, labels)
	s.histograms[k] = append(s.histograms[k], value)
}

// Counter returns the current value of a counter, for tests and the
// backtest report.
func (s *Sink) Counter(name string, labels map[string]string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[labelKey(name, labels)]
}

// Gauge returns the current value of a gauge.
func (s *Sink) Gauge(name string, labels map[string]string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[labelKey(name, labels)]
}

// HistogramCount returns how many samples were observed for name.
func (s *Sink) HistogramCount(name string, labels map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histograms[labelKey(name, labels)])
}

// Snapshot returns a point-in-time copy of every counter and gauge, keyed
// by their label-expanded name, for reporting.
func (s *Sink) Snapshot() (counters, gauges map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters = make(map[string]float64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	gauges = make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		gauges[k] = v
	}
	return counters, gauges
}
