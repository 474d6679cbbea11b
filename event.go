package beacon

import (
	"github.com/rs/zerolog/log"

	"github.com/observelite/beacon/internal/metricdata"
	"github.com/observelite/beacon/internal/storage"
)

// Event is one recorded occurrence: a timestamp in milliseconds since
// engine start, the metric's category and name, and validated extras.
type Event = metricdata.Event

// EventMetric records a stream of occurrences with optional extra
// key/value pairs. Events append per ping up to the engine's MaxEvents cap;
// once full, further events are dropped and counted as overflow.
type EventMetric struct {
	metricBase

	// allowedExtras maps the small integer indices binding layers pass to
	// their registered key names. Unknown indices are rejected at record
	// time.
	allowedExtras []string
}

// NewEvent registers an event metric with its extra-key allow-list.
func (e *Engine) NewEvent(opts MetricOptions, allowedExtras []string) *EventMetric {
	m := &EventMetric{metricBase: metricBase{engine: e, opts: opts}, allowedExtras: allowedExtras}
	m.register(m)
	return m
}

// Record appends one event. Extras are keyed by index into the registered
// allow-list; an out-of-range index drops that pair with an invalid-value
// error, and over-long values are truncated with an overflow error. The
// event itself is still recorded.
func (m *EventMetric) Record(extras map[int]string) {
	e := m.engine
	if !e.recordingEnabled() {
		return
	}

	var extra map[string]string
	for idx, val := range extras {
		if idx < 0 || idx >= len(m.allowedExtras) {
			e.recordError(m.opts, metricdata.ErrorInvalidValue)
			continue
		}
		truncated, recErr := metricdata.TruncateString(val)
		if recErr != nil {
			e.recordError(m.opts, recErr.Kind)
		}
		if extra == nil {
			extra = make(map[string]string, len(extras))
		}
		extra[m.allowedExtras[idx]] = truncated
	}

	ev := metricdata.Event{
		Timestamp: e.eventTimestamp(),
		Category:  m.opts.Category,
		Name:      m.opts.Name,
		Extra:     extra,
	}

	// The cap check needs the current stored length, so the whole
	// read-modify-write runs as one dispatcher task instead of a blind
	// accumulate.
	e.disp.Launch(func() {
		for _, ping := range m.opts.SendInPings {
			lt := m.opts.lifetime()
			id := m.opts.identifier()
			if cur, ok := e.store.Get(lt, ping, id); ok && len(cur.Events) >= e.cfg.MaxEvents {
				m.recordOverflowLocked(ping)
				continue
			}
			if err := e.store.Accumulate(lt, ping, id, metricdata.EventsValue([]metricdata.Event{ev})); err != nil {
				log.Warn().Err(err).Str("metric", id).Str("ping", ping).Msg("Failed to store event")
			}
		}
	})
}

// recordOverflowLocked increments the overflow counter from inside a
// dispatcher task, so it writes directly rather than re-dispatching.
func (m *EventMetric) recordOverflowLocked(ping string) {
	id := m.opts.identifier() + "#" + string(metricdata.ErrorInvalidOverflow)
	if err := m.engine.store.Accumulate(storage.LifetimePing, ping, id, metricdata.CounterValue(1)); err != nil {
		log.Warn().Err(err).Str("metric", id).Msg("Failed to record overflow counter")
	}
}

// TestGetValue returns the recorded events in order, or ErrMissingValue.
func (m *EventMetric) TestGetValue(pingName ...string) ([]Event, error) {
	v, ok := m.testValue(pingName)
	if !ok {
		return nil, ErrMissingValue
	}
	return v.Events, nil
}
