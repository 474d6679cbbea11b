package metricdata

import (
	"math"
	"time"
)

// TimeUnit is the resolution a time-based metric was declared with. Timing
// samples arrive in the declared unit and are converted to nanoseconds for
// bucketing; datetimes are truncated to the declared resolution when
// serialized.
type TimeUnit string

const (
	UnitNanosecond  TimeUnit = "nanosecond"
	UnitMicrosecond TimeUnit = "microsecond"
	UnitMillisecond TimeUnit = "millisecond"
	UnitSecond      TimeUnit = "second"
	UnitMinute      TimeUnit = "minute"
	UnitHour        TimeUnit = "hour"
	UnitDay         TimeUnit = "day"
)

// MaxSampleValue is the largest timing sample accepted, expressed in the
// metric's declared unit. The cap is unit-relative on purpose: it works out
// to 10 minutes for nanosecond metrics, about 6.94 days for microsecond
// metrics, and about 19 years for millisecond metrics. Samples above it are
// clamped and counted as an overflow.
const MaxSampleValue int64 = 600_000_000_000

// nanosPerUnit returns the nanoseconds in one tick of the unit. Units
// coarser than second are not valid timing-sample units and return 0.
func nanosPerUnit(u TimeUnit) int64 {
	switch u {
	case UnitNanosecond:
		return 1
	case UnitMicrosecond:
		return int64(time.Microsecond)
	case UnitMillisecond:
		return int64(time.Millisecond)
	case UnitSecond:
		return int64(time.Second)
	default:
		return 0
	}
}

// ClampSample validates a raw timing sample in the declared unit and returns
// the nanosecond value to accumulate. Non-positive samples are rejected with
// ErrorInvalidValue. Samples above the cap (MaxSampleValue, or lower where
// the nanosecond conversion would overflow int64) are clamped and flagged
// with ErrorInvalidOverflow; the clamped value is still accumulated.
// Samples below one unit never occur on the integer path, but a zero elapsed
// duration from a very fast timer is rounded up to one unit silently.
func ClampSample(sample int64, unit TimeUnit) (int64, *RecordingError) {
	per := nanosPerUnit(unit)
	if per == 0 {
		return 0, NewError(ErrorInvalidValue, "unit %q cannot carry timing samples", unit)
	}
	if sample < 0 {
		return 0, NewError(ErrorInvalidValue, "timing sample %d is negative", sample)
	}
	if sample == 0 {
		sample = 1
	}
	// The effective cap is the smaller of MaxSampleValue and the largest
	// sample whose nanosecond product still fits int64; for second-unit
	// metrics the int64 bound is the tighter one.
	limit := MaxSampleValue
	if fit := math.MaxInt64 / per; fit < limit {
		limit = fit
	}
	var overflow *RecordingError
	if sample > limit {
		overflow = NewError(ErrorInvalidOverflow, "timing sample %d exceeds cap %d %ss", sample, limit, unit)
		sample = limit
	}
	return sample * per, overflow
}

// SampleFromDuration converts an elapsed wall duration into a sample in the
// declared unit, rounding sub-unit elapses up to one unit.
func SampleFromDuration(d time.Duration, unit TimeUnit) (int64, *RecordingError) {
	if d < 0 {
		return 0, NewError(ErrorInvalidValue, "elapsed duration %v is negative", d)
	}
	per := nanosPerUnit(unit)
	if per == 0 {
		return 0, NewError(ErrorInvalidValue, "unit %q cannot carry timing samples", unit)
	}
	sample := int64(d) / per
	if sample == 0 {
		sample = 1
	}
	return sample, nil
}

// NanosToUnit converts a nanosecond total into the declared unit by integer
// division, used when introspection reports sums in the metric's own terms.
// Units coarser than second return the nanosecond value unchanged.
func NanosToUnit(ns int64, unit TimeUnit) int64 {
	per := nanosPerUnit(unit)
	if per == 0 {
		return ns
	}
	return ns / per
}

// TruncateToUnit drops sub-unit precision from a datetime, preserving its
// zone offset.
func TruncateToUnit(t time.Time, u TimeUnit) time.Time {
	switch u {
	case UnitNanosecond:
		return t
	case UnitMicrosecond:
		return t.Truncate(time.Microsecond)
	case UnitMillisecond:
		return t.Truncate(time.Millisecond)
	case UnitSecond:
		return t.Truncate(time.Second)
	case UnitMinute:
		return t.Truncate(time.Minute)
	case UnitHour:
		return t.Truncate(time.Hour)
	case UnitDay:
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}
