package metricdata

import "fmt"

// ErrorKind categorizes recording errors. Errors of any kind are non-fatal:
// the offending operation clamps, truncates, or no-ops, and the kind is
// recorded on a side-channel counter so tests can observe it.
type ErrorKind string

const (
	// ErrorInvalidValue means the input was out of the metric's domain
	// (negative counter delta, non-positive timing sample, ...).
	ErrorInvalidValue ErrorKind = "invalid_value"

	// ErrorInvalidState means the operation made no sense in the current
	// state, e.g. stopping a timer that was never started.
	ErrorInvalidState ErrorKind = "invalid_state"

	// ErrorInvalidOverflow means a hard limit was exceeded and the value was
	// clamped or truncated before being stored anyway.
	ErrorInvalidOverflow ErrorKind = "invalid_overflow"
)

// RecordingError pairs an error kind with a human-readable cause. It is
// returned to the metric layer, which converts it into a side-channel
// counter increment rather than surfacing it to the application.
type RecordingError struct {
	Kind ErrorKind
	Msg  string
}

func (e *RecordingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds a RecordingError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *RecordingError {
	return &RecordingError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
