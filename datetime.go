package beacon

import (
	"time"

	"github.com/observelite/beacon/internal/metricdata"
)

// TimeUnit is the declared resolution of a time-based metric.
type TimeUnit = metricdata.TimeUnit

// Time units, re-exported for metric declarations.
const (
	UnitNanosecond  = metricdata.UnitNanosecond
	UnitMicrosecond = metricdata.UnitMicrosecond
	UnitMillisecond = metricdata.UnitMillisecond
	UnitSecond      = metricdata.UnitSecond
	UnitMinute      = metricdata.UnitMinute
	UnitHour        = metricdata.UnitHour
	UnitDay         = metricdata.UnitDay
)

// DatetimeMetric records an instant with its zone offset, truncated to the
// declared unit; the last write wins.
type DatetimeMetric struct {
	metricBase
	unit TimeUnit
}

// NewDatetime registers a datetime metric with the given resolution.
func (e *Engine) NewDatetime(opts MetricOptions, unit TimeUnit) *DatetimeMetric {
	m := &DatetimeMetric{metricBase: metricBase{engine: e, opts: opts}, unit: unit}
	m.register(m)
	return m
}

// Set overwrites the value. The zone offset of t is preserved.
func (m *DatetimeMetric) Set(t time.Time) {
	m.setInPings(metricdata.DatetimeValue(t, m.unit))
}

// SetNow records the current instant.
func (m *DatetimeMetric) SetNow() {
	m.Set(time.Now())
}

// TestGetValue returns the stored instant, or ErrMissingValue.
func (m *DatetimeMetric) TestGetValue(pingName ...string) (time.Time, error) {
	v, ok := m.testValue(pingName)
	if !ok || v.Datetime == nil {
		return time.Time{}, ErrMissingValue
	}
	return v.Datetime.Time, nil
}
