package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metric names recorded by the sync pipeline.
const (
	MessagesMerged      = "messages_merged_total"
	DuplicatesDiscarded = "duplicates_discarded_total"
	AcksResolved        = "acks_resolved_total"
	DeletesApplied      = "deletes_applied_total"
	DeletesDeferred     = "deletes_deferred_total"
	SendsTotal          = "sends_total"
	SendFailures        = "send_failures_total"
	ChannelReconnects   = "channel_reconnects_total"
	HistoryLoads        = "history_loads_total"
	HistoryLoadFailures = "history_load_failures_total"
)

// Metric is a counter or gauge snapshot entry.
type Metric struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	LastUpdate time.Time `json:"last_update"`
}

// TimerMetric aggregates operation durations.
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}

// Registry keeps in-memory metrics for one process.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	timers    map[string]*TimerMetric
	startTime time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		gauges:    make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		startTime: time.Now(),
	}
}

// IncrementCounter adds one to the named counter.
func (r *Registry) IncrementCounter(name string) {
	r.AddToCounter(name, 1)
}

// AddToCounter adds value to the named counter.
func (r *Registry) AddToCounter(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.counters[name]
	if !ok {
		m = &Metric{Name: name}
		r.counters[name] = m
	}
	m.Value += value
	m.LastUpdate = time.Now()
}

// SetGauge records the current value of the named gauge.
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.gauges[name]
	if !ok {
		m = &Metric{Name: name}
		r.gauges[name] = m
	}
	m.Value = value
	m.LastUpdate = time.Now()
}

// RecordTimer folds one operation duration into the named timer.
func (r *Registry) RecordTimer(name string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := float64(duration.Milliseconds())
	t, ok := r.timers[name]
	if !ok {
		t = &TimerMetric{Min: ms, Max: ms}
		r.timers[name] = t
	}
	t.Count++
	t.Sum += ms
	if ms < t.Min {
		t.Min = ms
	}
	if ms > t.Max {
		t.Max = ms
	}
	t.Average = t.Sum / float64(t.Count)
}

// CounterValue returns the current value of a counter, zero if unset.
func (r *Registry) CounterValue(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.counters[name]; ok {
		return m.Value
	}
	return 0
}

// Snapshot returns a JSON-serializable view of all metrics.
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]float64, len(r.counters))
	for name, m := range r.counters {
		counters[name] = m.Value
	}
	gauges := make(map[string]float64, len(r.gauges))
	for name, m := range r.gauges {
		gauges[name] = m.Value
	}
	timers := make(map[string]TimerMetric, len(r.timers))
	for name, t := range r.timers {
		timers[name] = *t
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(r.startTime).Seconds(),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}

// Names returns the sorted counter names currently registered, mostly
// for tests and debugging.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
