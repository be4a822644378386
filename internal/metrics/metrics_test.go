package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreConcurrencySafe(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.IncrementCounter(CounterRedemptionAttempts)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1000), m.Counter(CounterRedemptionAttempts))
}

func TestTimerTracksMinMax(t *testing.T) {
	m := NewMetrics()
	m.RecordTimer(TimerAllocation, 5*time.Millisecond)
	m.RecordTimer(TimerAllocation, 15*time.Millisecond)

	timer := m.GetTimers()[TimerAllocation]
	assert.Equal(t, int64(2), timer.Count)
	assert.Equal(t, int64(5), timer.MinTimeMs)
	assert.Equal(t, int64(15), timer.MaxTimeMs)
	assert.InDelta(t, 10.0, timer.AverageTimeMs, 0.001)
}

func TestErrorRateAndHealth(t *testing.T) {
	m := NewMetrics()
	m.RecordResult("award_delivery", false)
	m.RecordResult("award_delivery", true)
	m.SetHealth("database", true)
	m.SetHealth("redis", false)

	rate := m.GetErrorRates()["award_delivery"]
	assert.Equal(t, int64(2), rate.Total)
	assert.InDelta(t, 50.0, rate.ErrorRate, 0.001)
	assert.Equal(t, map[string]bool{"database": true, "redis": false}, m.GetHealthChecks())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementCounter(CounterAllocations)
	m.RecordTimer(TimerAllocation, time.Millisecond)
	m.SetHealth("database", true)
}
