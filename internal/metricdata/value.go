// Package metricdata defines the typed values the engine records, their
// validation and merge rules, and the JSON codec used to persist them.
// Values come in two families: overwrite types (boolean, string, uuid,
// datetime) where the last write wins, and accumulating types (counter,
// timing distribution, event list) where concurrent writes merge.
package metricdata

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Kind tags a serialized value with its variant.
type Kind string

const (
	KindCounter  Kind = "counter"
	KindBoolean  Kind = "boolean"
	KindString   Kind = "string"
	KindUUID     Kind = "uuid"
	KindDatetime Kind = "datetime"
	KindTiming   Kind = "timing_distribution"
	KindEvents   Kind = "events"
)

// MaxStringLength is the byte cap on string metric values. Longer inputs are
// truncated, stored anyway, and counted as an overflow.
const MaxStringLength = 100

// Value is one recorded metric value. Exactly one variant field is non-zero,
// selected by Kind. The flat struct (rather than an interface) keeps the
// storage codec a single json.Marshal/Unmarshal round trip.
type Value struct {
	Kind Kind `json:"kind"`

	Counter  int64      `json:"counter,omitempty"`
	Boolean  bool       `json:"boolean,omitempty"`
	String   string     `json:"string,omitempty"`
	Datetime *Datetime  `json:"datetime,omitempty"`
	Timing   *Histogram `json:"timing,omitempty"`
	Events   []Event    `json:"events,omitempty"`
}

// Datetime carries an instant with its original zone offset and declared
// resolution, so serialization can reproduce the wall-clock value the
// application recorded rather than a normalized UTC instant.
type Datetime struct {
	Time time.Time `json:"time"`
	Unit TimeUnit  `json:"unit"`
}

// Event is one occurrence recorded by an event metric. Timestamp is
// milliseconds since engine start, giving a stable ordering within a
// session without depending on wall-clock sanity.
type Event struct {
	Timestamp int64             `json:"timestamp"`
	Category  string            `json:"category"`
	Name      string            `json:"name"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// CounterValue builds a counter value holding n.
func CounterValue(n int64) Value { return Value{Kind: KindCounter, Counter: n} }

// BooleanValue builds a boolean value.
func BooleanValue(b bool) Value { return Value{Kind: KindBoolean, Boolean: b} }

// StringValue builds a string value without applying the length cap; callers
// validate first via TruncateString.
func StringValue(s string) Value { return Value{Kind: KindString, String: s} }

// UUIDValue builds a uuid-kinded string value.
func UUIDValue(s string) Value { return Value{Kind: KindUUID, String: s} }

// DatetimeValue builds a datetime value truncated to the declared unit.
func DatetimeValue(t time.Time, unit TimeUnit) Value {
	return Value{Kind: KindDatetime, Datetime: &Datetime{Time: TruncateToUnit(t, unit), Unit: unit}}
}

// TimingValue wraps a histogram.
func TimingValue(h *Histogram) Value { return Value{Kind: KindTiming, Timing: h} }

// EventsValue wraps a list of events.
func EventsValue(evs []Event) Value { return Value{Kind: KindEvents, Events: evs} }

// TruncateString applies the string length cap. The truncated value must
// still be stored; the returned error, when non-nil, only feeds the
// side-channel error counter.
func TruncateString(s string) (string, *RecordingError) {
	if len(s) <= MaxStringLength {
		return s, nil
	}
	return s[:MaxStringLength], NewError(ErrorInvalidOverflow, "string length %d exceeds cap %d", len(s), MaxStringLength)
}

// Merge folds delta into base according to the base kind's merge rule and
// returns the result. Counters saturate at MaxInt64 instead of wrapping.
// Overwrite kinds replace base entirely, so Merge is total over all kinds;
// a kind mismatch means the stored value is stale or corrupt and the delta
// wins.
func Merge(base, delta Value) Value {
	if base.Kind != delta.Kind {
		return delta
	}
	switch base.Kind {
	case KindCounter:
		return CounterValue(saturatingAdd(base.Counter, delta.Counter))
	case KindTiming:
		merged := NewHistogram()
		merged.MergeFrom(base.Timing)
		merged.MergeFrom(delta.Timing)
		return TimingValue(merged)
	case KindEvents:
		joined := make([]Event, 0, len(base.Events)+len(delta.Events))
		joined = append(joined, base.Events...)
		joined = append(joined, delta.Events...)
		return EventsValue(joined)
	default:
		return delta
	}
}

func saturatingAdd(a, b int64) int64 {
	if a > 0 && b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Payload returns the JSON-ready representation used inside an assembled
// ping document, which is flatter than the storage encoding: counters are
// bare numbers, datetimes are formatted strings, histograms keep their
// bucket map and sum.
func (v Value) Payload() any {
	switch v.Kind {
	case KindCounter:
		return v.Counter
	case KindBoolean:
		return v.Boolean
	case KindString, KindUUID:
		return v.String
	case KindDatetime:
		if v.Datetime == nil {
			return nil
		}
		return formatDatetime(*v.Datetime)
	case KindTiming:
		return v.Timing
	case KindEvents:
		return v.Events
	default:
		return nil
	}
}

func formatDatetime(d Datetime) string {
	switch d.Unit {
	case UnitDay:
		return d.Time.Format("2006-01-02-07:00")
	case UnitHour:
		return d.Time.Format("2006-01-02T15-07:00")
	case UnitMinute:
		return d.Time.Format("2006-01-02T15:04-07:00")
	case UnitSecond:
		return d.Time.Format("2006-01-02T15:04:05-07:00")
	default:
		return d.Time.Format("2006-01-02T15:04:05.999999999-07:00")
	}
}

// Encode serializes a value for storage.
func Encode(v Value) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.Kind, err)
	}
	return raw, nil
}

// Decode deserializes a stored value. A payload that does not parse, or that
// carries no recognizable kind, is reported as an error; the storage layer
// treats that as "no prior value" rather than failing the read.
func Decode(raw []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, fmt.Errorf("decode stored value: %w", err)
	}
	switch v.Kind {
	case KindCounter, KindBoolean, KindString, KindUUID, KindDatetime, KindTiming, KindEvents:
		return v, nil
	default:
		return Value{}, fmt.Errorf("decode stored value: unknown kind %q", v.Kind)
	}
}
