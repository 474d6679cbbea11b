package metricdata

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterMergeSaturates(t *testing.T) {
	merged := Merge(CounterValue(math.MaxInt64-1), CounterValue(10))
	assert.Equal(t, int64(math.MaxInt64), merged.Counter)

	merged = Merge(CounterValue(3), CounterValue(4))
	assert.Equal(t, int64(7), merged.Counter)
}

func TestOverwriteKindsLastWriteWins(t *testing.T) {
	merged := Merge(StringValue("first"), StringValue("second"))
	assert.Equal(t, "second", merged.String)

	merged = Merge(BooleanValue(true), BooleanValue(false))
	assert.False(t, merged.Boolean)
}

func TestMergeKindMismatchDeltaWins(t *testing.T) {
	merged := Merge(CounterValue(9), StringValue("replacement"))
	assert.Equal(t, KindString, merged.Kind)
	assert.Equal(t, "replacement", merged.String)
}

func TestEventsMergeAppends(t *testing.T) {
	base := EventsValue([]Event{{Timestamp: 1, Category: "ui", Name: "open"}})
	delta := EventsValue([]Event{{Timestamp: 2, Category: "ui", Name: "close"}})
	merged := Merge(base, delta)
	require.Len(t, merged.Events, 2)
	assert.Equal(t, "open", merged.Events[0].Name)
	assert.Equal(t, "close", merged.Events[1].Name)
}

func TestTruncateString(t *testing.T) {
	short, recErr := TruncateString("ok")
	require.Nil(t, recErr)
	assert.Equal(t, "ok", short)

	long := strings.Repeat("x", MaxStringLength+20)
	truncated, recErr := TruncateString(long)
	require.NotNil(t, recErr)
	assert.Equal(t, ErrorInvalidOverflow, recErr.Kind)
	assert.Len(t, truncated, MaxStringLength)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHistogram()
	h.Accumulate(5_000_000)
	h.Accumulate(6_000_000)

	for _, v := range []Value{
		CounterValue(42),
		BooleanValue(true),
		StringValue("hello"),
		UUIDValue("9a2c3b44-1111-4e5f-8899-aabbccddeeff"),
		DatetimeValue(time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("", 3600)), UnitMinute),
		TimingValue(h),
		EventsValue([]Event{{Timestamp: 7, Category: "net", Name: "retry", Extra: map[string]string{"cause": "timeout"}}}),
	} {
		raw, err := Encode(v)
		require.NoError(t, err)
		got, err := Decode(raw)
		require.NoError(t, err, "kind %s", v.Kind)
		assert.Equal(t, v.Kind, got.Kind)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"kind":"mystery"}`))
	assert.Error(t, err)
}

func TestDatetimeTruncation(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 123456789, time.UTC)
	v := DatetimeValue(ts, UnitHour)
	assert.Equal(t, 0, v.Datetime.Time.Minute())
	assert.Equal(t, "2026-03-14T09+00:00", v.Payload())
}
