package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter names
const (
	CounterRedemptionAttempts = "redemption_attempts_total"
	CounterAllocations        = "allocations_total"
	CounterAllocationRaces    = "allocation_races_total"
	CounterInvariantHalts     = "invariant_halts_total"
	CounterAwardsDelivered    = "awards_delivered_total"
	CounterActivityDelivered  = "activity_delivered_total"
	CounterDeliveryFailures   = "delivery_failures_total"
	CounterDBQueries          = "db_queries_total"
	CounterDBQueryErrors      = "db_query_errors_total"
)

// Timer names
const (
	TimerRedemption = "redemption_ms"
	TimerAllocation = "allocation_ms"
	TimerDBQuery    = "db_query_ms"
)

// Gauge names
const (
	GaugePendingNotifications = "pending_notifications"
	GaugeGoroutines           = "goroutines"
)

// OutcomeCounter returns the counter name for a redemption outcome
func OutcomeCounter(outcome string) string {
	return "redemption_outcome_" + outcome + "_total"
}

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timerState struct {
	count   atomic.Int64
	totalMs atomic.Int64
	minMs   atomic.Int64
	maxMs   atomic.Int64
}

type rateState struct {
	total  atomic.Int64
	errors atomic.Int64
}

// Metrics is an in-process metrics collector. It is safe for concurrent use.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]*atomic.Int64
	gauges     map[string]*atomic.Int64
	timers     map[string]*timerState
	errorRates map[string]*rateState
	health     map[string]*atomic.Bool
	startTime  time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]*atomic.Int64),
		gauges:     make(map[string]*atomic.Int64),
		timers:     make(map[string]*timerState),
		errorRates: make(map[string]*rateState),
		health:     make(map[string]*atomic.Bool),
		startTime:  time.Now(),
	}
}

// lookup returns the entry for name, creating it under the write lock if needed
func lookup[T any](mu *sync.RWMutex, entries map[string]*T, name string, create func() *T) *T {
	mu.RLock()
	entry, ok := entries[name]
	mu.RUnlock()
	if ok {
		return entry
	}

	mu.Lock()
	defer mu.Unlock()
	if entry, ok = entries[name]; !ok {
		entry = create()
		entries[name] = entry
	}
	return entry
}

func newInt64() *atomic.Int64 { return new(atomic.Int64) }

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	if m == nil {
		return
	}
	lookup(&m.mu, m.counters, name, newInt64).Add(value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	if m == nil {
		return
	}
	lookup(&m.mu, m.gauges, name, newInt64).Store(value)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	if m == nil {
		return
	}
	ms := d.Milliseconds()
	timer := lookup(&m.mu, m.timers, name, func() *timerState {
		t := &timerState{}
		t.minMs.Store(math.MaxInt64)
		return t
	})

	timer.count.Add(1)
	timer.totalMs.Add(ms)

	for {
		current := timer.minMs.Load()
		if ms >= current || timer.minMs.CompareAndSwap(current, ms) {
			break
		}
	}
	for {
		current := timer.maxMs.Load()
		if ms <= current || timer.maxMs.CompareAndSwap(current, ms) {
			break
		}
	}
}

// RecordResult records one operation for error rate tracking
func (m *Metrics) RecordResult(name string, failed bool) {
	if m == nil {
		return
	}
	rate := lookup(&m.mu, m.errorRates, name, func() *rateState { return &rateState{} })
	rate.total.Add(1)
	if failed {
		rate.errors.Add(1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	lookup(&m.mu, m.health, component, func() *atomic.Bool { return new(atomic.Bool) }).Store(healthy)
}

// Counter returns the current value of a counter
func (m *Metrics) Counter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		out[name] = c.Load()
	}
	return out
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		out[name] = g.Load()
	}
	return out
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		count := t.count.Load()
		total := t.totalMs.Load()

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		out[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     t.minMs.Load(),
			MaxTimeMs:     t.maxMs.Load(),
		}
	}
	return out
}

// GetErrorRates returns all error rates
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ErrorRateMetric, len(m.errorRates))
	for name, r := range m.errorRates {
		total := r.total.Load()
		errs := r.errors.Load()

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}
		out[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
	}
	return out
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, h := range m.health {
		out[name] = h.Load()
	}
	return out
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}
