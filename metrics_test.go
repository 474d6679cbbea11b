package beacon

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAddAndMerge(t *testing.T) {
	e := newTestEngine(t)
	counter := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	})

	assert.False(t, counter.TestHasValue())
	_, err := counter.TestGetValue()
	assert.ErrorIs(t, err, ErrMissingValue)

	counter.Add(2)
	counter.Add(3)
	n, err := counter.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCounterRejectsNegative(t *testing.T) {
	e := newTestEngine(t)
	counter := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	})

	counter.Add(-1)
	assert.False(t, counter.TestHasValue())
	assert.Equal(t, int64(1), counter.TestGetNumRecordedErrors(ErrorInvalidValue))
}

func TestCounterRecordsIntoAllPings(t *testing.T) {
	e := newTestEngine(t)
	counter := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimePing, SendInPings: []string{"metrics", "baseline"},
	})

	counter.Add(1)
	assert.True(t, counter.TestHasValue("metrics"))
	assert.True(t, counter.TestHasValue("baseline"))
}

func TestStringTruncation(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewString(MetricOptions{
		Category: "app", Name: "channel", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	})

	s.Set("release")
	v, err := s.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, "release", v)

	s.Set(strings.Repeat("y", 300))
	v, err = s.TestGetValue()
	require.NoError(t, err)
	assert.Len(t, v, 100)
	assert.Equal(t, int64(1), s.TestGetNumRecordedErrors(ErrorInvalidOverflow))
}

func TestBooleanLastWriteWins(t *testing.T) {
	e := newTestEngine(t)
	b := e.NewBoolean(MetricOptions{
		Category: "app", Name: "debug", Lifetime: LifetimeApplication, SendInPings: []string{"metrics"},
	})

	b.Set(true)
	b.Set(false)
	v, err := b.TestGetValue()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestUUIDGenerateAndSet(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewUUID(MetricOptions{
		Category: "session", Name: "id", Lifetime: LifetimeApplication, SendInPings: []string{"metrics"},
	})

	generated := m.GenerateAndSet()
	stored, err := m.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, generated, stored)

	fixed := uuid.MustParse("2f8f9a34-6b1e-4b2f-9c57-0123456789ab")
	m.Set(fixed)
	stored, err = m.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, fixed, stored)
}

func TestDatetimeTruncatesToUnit(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewDatetime(MetricOptions{
		Category: "app", Name: "started", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	}, UnitMinute)

	m.Set(time.Date(2026, 2, 3, 10, 30, 45, 999, time.UTC))
	v, err := m.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Second())
	assert.Equal(t, 30, v.Minute())
}

func TestEventRecordWithExtras(t *testing.T) {
	e := newTestEngine(t)
	ev := e.NewEvent(MetricOptions{
		Category: "ui", Name: "click", Lifetime: LifetimePing, SendInPings: []string{"events"},
	}, []string{"target", "modifier"})

	ev.Record(map[int]string{0: "save-button", 1: "ctrl"})
	ev.Record(nil)

	got, err := ev.TestGetValue()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ui", got[0].Category)
	assert.Equal(t, "click", got[0].Name)
	assert.Equal(t, "save-button", got[0].Extra["target"])
	assert.Equal(t, "ctrl", got[0].Extra["modifier"])
	assert.Nil(t, got[1].Extra)
	assert.GreaterOrEqual(t, got[1].Timestamp, got[0].Timestamp)
}

func TestEventRejectsUnknownExtraIndex(t *testing.T) {
	e := newTestEngine(t)
	ev := e.NewEvent(MetricOptions{
		Category: "ui", Name: "click", Lifetime: LifetimePing, SendInPings: []string{"events"},
	}, []string{"target"})

	ev.Record(map[int]string{5: "nonsense"})

	got, err := ev.TestGetValue()
	require.NoError(t, err)
	require.Len(t, got, 1, "event still records, only the bad extra is dropped")
	assert.Nil(t, got[0].Extra)
	assert.Equal(t, int64(1), ev.TestGetNumRecordedErrors(ErrorInvalidValue))
}

func TestEventCapDropsAndCountsOverflow(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MaxEvents = 3 })
	ev := e.NewEvent(MetricOptions{
		Category: "ui", Name: "scroll", Lifetime: LifetimePing, SendInPings: []string{"events"},
	}, nil)

	for i := 0; i < 5; i++ {
		ev.Record(nil)
	}

	got, err := ev.TestGetValue()
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, int64(2), ev.TestGetNumRecordedErrors(ErrorInvalidOverflow))
}

func TestErrorCountersClearWithPingLifetime(t *testing.T) {
	e := newTestEngine(t)
	e.NewPing(PingConfig{Name: "metrics"})
	counter := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	})

	counter.Add(-1)
	counter.Add(1)
	require.Equal(t, int64(1), counter.TestGetNumRecordedErrors(ErrorInvalidValue))

	require.NoError(t, e.SubmitPing("metrics", ""))
	e.BlockOnRecordingQueue()
	assert.Equal(t, int64(0), counter.TestGetNumRecordedErrors(ErrorInvalidValue))
}

func TestLifetimesNamespacesIndependent(t *testing.T) {
	e := newTestEngine(t)
	pingScoped := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimePing, SendInPings: []string{"metrics"},
	})
	userScoped := e.NewCounter(MetricOptions{
		Category: "app", Name: "opens", Lifetime: LifetimeUser, SendInPings: []string{"metrics"},
	})

	pingScoped.Add(1)
	userScoped.Add(10)

	n, err := pingScoped.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = userScoped.TestGetValue()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}
