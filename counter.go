package beacon

import "github.com/observelite/beacon/internal/metricdata"

// CounterMetric counts occurrences. Additions merge by saturating sum.
type CounterMetric struct {
	metricBase
}

// NewCounter registers a counter metric on the engine.
func (e *Engine) NewCounter(opts MetricOptions) *CounterMetric {
	m := &CounterMetric{metricBase{engine: e, opts: opts}}
	m.register(m)
	return m
}

// Add increments the counter. Negative amounts are rejected with an
// invalid-value error and nothing is written; zero is a no-op.
func (m *CounterMetric) Add(amount int64) {
	if !m.engine.recordingEnabled() {
		return
	}
	if amount < 0 {
		m.engine.recordError(m.opts, metricdata.ErrorInvalidValue)
		return
	}
	if amount == 0 {
		return
	}
	m.accumulateInPings(metricdata.CounterValue(amount))
}

// TestGetValue returns the current count, or ErrMissingValue.
func (m *CounterMetric) TestGetValue(pingName ...string) (int64, error) {
	v, ok := m.testValue(pingName)
	if !ok {
		return 0, ErrMissingValue
	}
	return v.Counter, nil
}
