package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(MessagesMerged)
	r.IncrementCounter(MessagesMerged)
	r.AddToCounter(MessagesMerged, 3)

	assert.Equal(t, float64(5), r.CounterValue(MessagesMerged))
	assert.Equal(t, float64(0), r.CounterValue(SendFailures))
}

func TestGaugesAndTimers(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("pending_deletes", 2)
	r.SetGauge("pending_deletes", 1)
	r.RecordTimer("history_load", 120*time.Millisecond)
	r.RecordTimer("history_load", 80*time.Millisecond)

	snap := r.Snapshot()
	gauges := snap["gauges"].(map[string]float64)
	assert.Equal(t, float64(1), gauges["pending_deletes"])

	timers := snap["timers"].(map[string]TimerMetric)
	require.Contains(t, timers, "history_load")
	assert.Equal(t, int64(2), timers["history_load"].Count)
}

func TestSnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter(SendsTotal)

	snap := r.Snapshot()
	counters := snap["counters"].(map[string]float64)
	counters[SendsTotal] = 999

	assert.Equal(t, float64(1), r.CounterValue(SendsTotal))
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter(DeletesApplied)
	r.IncrementCounter(AcksResolved)

	assert.Equal(t, []string{AcksResolved, DeletesApplied}, r.Names())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.IncrementCounter(MessagesMerged)
				r.SetGauge("depth", float64(j))
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(1000), r.CounterValue(MessagesMerged))
}
