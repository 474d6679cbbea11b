package beacon

import (
	"sync"
	"time"

	"github.com/observelite/beacon/internal/metricdata"
)

// TimerID correlates a Start call with its matching StopAndAccumulate or
// Cancel. Ids are unique per metric instance and never reused.
type TimerID uint64

// DistributionData is the introspection snapshot of a timing distribution.
// Buckets are keyed by exponential bucket index over nanosecond samples;
// Sum is expressed in the metric's declared unit.
type DistributionData struct {
	Buckets map[int64]int64
	Sum     int64
	Count   int64
}

// TimingDistributionMetric measures durations into an exponential-bucket
// histogram. Pending timers live only in memory: a process restart drops
// in-flight timers instead of recording bogus cross-restart durations.
type TimingDistributionMetric struct {
	metricBase
	unit TimeUnit

	mu      sync.Mutex
	nextID  TimerID
	pending map[TimerID]time.Time

	nowFn func() time.Time
}

// NewTimingDistribution registers a timing distribution with the given
// sample unit.
func (e *Engine) NewTimingDistribution(opts MetricOptions, unit TimeUnit) *TimingDistributionMetric {
	m := &TimingDistributionMetric{
		metricBase: metricBase{engine: e, opts: opts},
		unit:       unit,
		pending:    make(map[TimerID]time.Time),
		nowFn:      time.Now,
	}
	m.register(m)
	return m
}

// Start begins a timer and returns its id. It always succeeds, even while
// recording is disabled, because whether to accumulate is decided at stop
// time. Safe to call from many goroutines; each timer is independent.
func (m *TimingDistributionMetric) Start() TimerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.pending[id] = m.nowFn()
	return id
}

// StopAndAccumulate ends a timer and feeds its elapsed time into the
// histogram. Stopping an unknown or already-consumed id records one
// invalid-state error and accumulates nothing, which covers both
// double-stop and stop-without-start.
func (m *TimingDistributionMetric) StopAndAccumulate(id TimerID) {
	m.mu.Lock()
	start, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	if !ok {
		m.engine.recordError(m.opts, metricdata.ErrorInvalidState)
		return
	}
	if !m.engine.recordingEnabled() {
		return
	}

	elapsed := m.nowFn().Sub(start)
	sample, recErr := metricdata.SampleFromDuration(elapsed, m.unit)
	if recErr != nil {
		m.engine.recordError(m.opts, recErr.Kind)
		return
	}
	m.accumulateSample(sample)
}

// Cancel discards a pending timer without recording. Unknown ids are
// ignored.
func (m *TimingDistributionMetric) Cancel(id TimerID) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// AccumulateSamples records pre-measured samples, each in the metric's
// declared unit. Non-positive samples are rejected per sample with an
// invalid-value error; over-range samples clamp with an overflow error but
// still accumulate.
func (m *TimingDistributionMetric) AccumulateSamples(samples []int64) {
	if !m.engine.recordingEnabled() {
		return
	}
	for _, s := range samples {
		if s <= 0 {
			m.engine.recordError(m.opts, metricdata.ErrorInvalidValue)
			continue
		}
		m.accumulateSample(s)
	}
}

// accumulateSample validates one declared-unit sample and merges it in.
func (m *TimingDistributionMetric) accumulateSample(sample int64) {
	ns, recErr := metricdata.ClampSample(sample, m.unit)
	if recErr != nil {
		m.engine.recordError(m.opts, recErr.Kind)
		if recErr.Kind != metricdata.ErrorInvalidOverflow {
			return
		}
		// Overflow clamps but still accumulates.
	}
	h := metricdata.NewHistogram()
	h.Accumulate(ns)
	m.accumulateInPings(metricdata.TimingValue(h))
}

// TestGetValue returns the accumulated distribution, or ErrMissingValue.
// Sum is converted from nanoseconds to the declared unit so tests read it
// in the metric's own terms.
func (m *TimingDistributionMetric) TestGetValue(pingName ...string) (DistributionData, error) {
	v, ok := m.testValue(pingName)
	if !ok || v.Timing == nil {
		return DistributionData{}, ErrMissingValue
	}
	sum := metricdata.NanosToUnit(v.Timing.Sum, m.unit)
	buckets := make(map[int64]int64, len(v.Timing.Buckets))
	for idx, n := range v.Timing.Buckets {
		buckets[idx] = n
	}
	return DistributionData{Buckets: buckets, Sum: sum, Count: v.Timing.Count}, nil
}
