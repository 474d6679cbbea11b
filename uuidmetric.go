package beacon

import (
	"github.com/google/uuid"

	"github.com/observelite/beacon/internal/metricdata"
)

// UUIDMetric records a UUID, typically an identity; the last write wins.
type UUIDMetric struct {
	metricBase
}

// NewUUID registers a uuid metric on the engine.
func (e *Engine) NewUUID(opts MetricOptions) *UUIDMetric {
	m := &UUIDMetric{metricBase{engine: e, opts: opts}}
	m.register(m)
	return m
}

// Set overwrites the value.
func (m *UUIDMetric) Set(value uuid.UUID) {
	m.setInPings(metricdata.UUIDValue(value.String()))
}

// GenerateAndSet stores a fresh random UUID and returns it.
func (m *UUIDMetric) GenerateAndSet() uuid.UUID {
	id := uuid.New()
	m.Set(id)
	return id
}

// TestGetValue returns the stored UUID, or ErrMissingValue.
func (m *UUIDMetric) TestGetValue(pingName ...string) (uuid.UUID, error) {
	v, ok := m.testValue(pingName)
	if !ok {
		return uuid.Nil, ErrMissingValue
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return uuid.Nil, ErrMissingValue
	}
	return id, nil
}
