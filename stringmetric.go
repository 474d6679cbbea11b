package beacon

import "github.com/observelite/beacon/internal/metricdata"

// StringMetric records a short free-form string; the last write wins.
// Values longer than the cap are truncated, stored anyway, and counted as
// an overflow.
type StringMetric struct {
	metricBase
}

// NewString registers a string metric on the engine.
func (e *Engine) NewString(opts MetricOptions) *StringMetric {
	m := &StringMetric{metricBase{engine: e, opts: opts}}
	m.register(m)
	return m
}

// Set overwrites the value, truncating past the length cap.
func (m *StringMetric) Set(value string) {
	if !m.engine.recordingEnabled() {
		return
	}
	truncated, recErr := metricdata.TruncateString(value)
	if recErr != nil {
		m.engine.recordError(m.opts, recErr.Kind)
	}
	m.setInPings(metricdata.StringValue(truncated))
}

// TestGetValue returns the stored string, or ErrMissingValue.
func (m *StringMetric) TestGetValue(pingName ...string) (string, error) {
	v, ok := m.testValue(pingName)
	if !ok {
		return "", ErrMissingValue
	}
	return v.String, nil
}
