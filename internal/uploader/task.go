package uploader

import (
	"encoding/json"
	"time"
)

// Document is one assembled ping awaiting delivery. Once enqueued it never
// changes; retry bookkeeping lives on the queue entry, not the document.
type Document struct {
	ID      string            `json:"document_id"`
	Ping    string            `json:"ping"`
	Path    string            `json:"path"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// TaskKind discriminates what a poll of the upload queue produced.
type TaskKind int

const (
	// TaskUpload carries a document the caller must attempt to deliver and
	// then report an outcome for.
	TaskUpload TaskKind = iota
	// TaskWait means nothing is eligible yet; the caller should pause at
	// least Wait before polling again.
	TaskWait
	// TaskDone means the queue is empty and polling can stop until new
	// pings are submitted.
	TaskDone
)

// Task is the result of one GetUploadTask poll.
type Task struct {
	Kind     TaskKind
	Document Document
	Wait     time.Duration
}

// Outcome is the caller's classification of a delivery attempt. The core
// trusts it; it never inspects transport status itself.
type Outcome int

const (
	// Success: the collector accepted the document (2xx).
	Success Outcome = iota
	// RecoverableFailure: a retry may succeed (5xx, timeout, no network).
	RecoverableFailure
	// UnrecoverableFailure: the payload can never be accepted (4xx); the
	// document is dropped and counted, not retried.
	UnrecoverableFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RecoverableFailure:
		return "recoverable_failure"
	case UnrecoverableFailure:
		return "unrecoverable_failure"
	default:
		return "unknown"
	}
}
