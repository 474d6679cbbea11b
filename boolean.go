package beacon

import "github.com/observelite/beacon/internal/metricdata"

// BooleanMetric records a single true/false flag; the last write wins.
type BooleanMetric struct {
	metricBase
}

// NewBoolean registers a boolean metric on the engine.
func (e *Engine) NewBoolean(opts MetricOptions) *BooleanMetric {
	m := &BooleanMetric{metricBase{engine: e, opts: opts}}
	m.register(m)
	return m
}

// Set overwrites the flag.
func (m *BooleanMetric) Set(value bool) {
	m.setInPings(metricdata.BooleanValue(value))
}

// TestGetValue returns the stored flag, or ErrMissingValue.
func (m *BooleanMetric) TestGetValue(pingName ...string) (bool, error) {
	v, ok := m.testValue(pingName)
	if !ok {
		return false, ErrMissingValue
	}
	return v.Boolean, nil
}
