package beacon

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/observelite/beacon/internal/metricdata"
	"github.com/observelite/beacon/internal/storage"
)

// ErrMissingValue is returned by TestGetValue when nothing was recorded.
var ErrMissingValue = errors.New("beacon: no value recorded")

// ErrorKind mirrors the recording error categories for the introspection
// API.
type ErrorKind = metricdata.ErrorKind

// Recording error kinds, re-exported for TestGetNumRecordedErrors callers.
const (
	ErrorInvalidValue    = metricdata.ErrorInvalidValue
	ErrorInvalidState    = metricdata.ErrorInvalidState
	ErrorInvalidOverflow = metricdata.ErrorInvalidOverflow
)

// MetricOptions is the pre-registered identity shared by every metric type:
// dotted category.name, a lifetime, and the pings the value is recorded
// into. The schema compiler guarantees these are structurally valid; the
// engine only validates values.
type MetricOptions struct {
	Category    string
	Name        string
	Lifetime    Lifetime
	SendInPings []string
}

func (o MetricOptions) identifier() string {
	if o.Category == "" {
		return o.Name
	}
	return o.Category + "." + o.Name
}

func (o MetricOptions) lifetime() storage.Lifetime {
	switch o.Lifetime {
	case LifetimeApplication:
		return storage.LifetimeApplication
	case LifetimeUser:
		return storage.LifetimeUser
	default:
		return storage.LifetimePing
	}
}

// defaultPing picks the ping a test API reads from when none is named.
func (o MetricOptions) defaultPing(pingName []string) (string, bool) {
	if len(pingName) > 0 {
		return pingName[0], true
	}
	if len(o.SendInPings) > 0 {
		return o.SendInPings[0], true
	}
	return "", false
}

// metricBase carries the engine binding and handle every metric type
// shares.
type metricBase struct {
	engine *Engine
	opts   MetricOptions
	handle uint64
}

func (m *metricBase) register(self any) {
	m.handle = m.engine.metricHandles.Register(self)
}

// Handle returns the opaque handle binding layers hold for this metric.
func (m *metricBase) Handle() uint64 { return m.handle }

// setInPings overwrites the value in every destination ping.
func (m *metricBase) setInPings(v metricdata.Value) {
	if !m.engine.recordingEnabled() {
		return
	}
	m.engine.disp.Launch(func() {
		for _, ping := range m.opts.SendInPings {
			if err := m.engine.store.Set(m.opts.lifetime(), ping, m.opts.identifier(), v); err != nil {
				log.Warn().Err(err).Str("metric", m.opts.identifier()).Str("ping", ping).Msg("Failed to store metric value")
			}
		}
	})
}

// accumulateInPings merges a delta into every destination ping.
func (m *metricBase) accumulateInPings(delta metricdata.Value) {
	if !m.engine.recordingEnabled() {
		return
	}
	m.engine.disp.Launch(func() {
		for _, ping := range m.opts.SendInPings {
			if err := m.engine.store.Accumulate(m.opts.lifetime(), ping, m.opts.identifier(), delta); err != nil {
				log.Warn().Err(err).Str("metric", m.opts.identifier()).Str("ping", ping).Msg("Failed to accumulate metric value")
			}
		}
	})
}

// testValue drains the recording queue and reads the stored value.
func (m *metricBase) testValue(pingName []string) (metricdata.Value, bool) {
	m.engine.disp.BlockOn()
	ping, ok := m.opts.defaultPing(pingName)
	if !ok {
		return metricdata.Value{}, false
	}
	return m.engine.store.Get(m.opts.lifetime(), ping, m.opts.identifier())
}

// TestHasValue reports whether a value is stored for this metric in the
// named ping (default: the metric's first ping). It waits for outstanding
// recording work first, so results are deterministic.
func (m *metricBase) TestHasValue(pingName ...string) bool {
	_, ok := m.testValue(pingName)
	return ok
}

// TestGetNumRecordedErrors returns how many recording errors of one kind
// this metric has produced, as counted on its side-channel counter.
func (m *metricBase) TestGetNumRecordedErrors(kind ErrorKind, pingName ...string) int64 {
	m.engine.disp.BlockOn()
	ping, ok := m.opts.defaultPing(pingName)
	if !ok {
		return 0
	}
	id := m.opts.identifier() + "#" + string(kind)
	v, ok := m.engine.store.Get(storage.LifetimePing, ping, id)
	if !ok {
		return 0
	}
	return v.Counter
}
