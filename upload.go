package beacon

import (
	"time"

	"github.com/observelite/beacon/internal/uploader"
)

// UploadTaskKind discriminates what polling the upload queue produced.
type UploadTaskKind int

const (
	// UploadTaskUpload carries a request to deliver; the caller must report
	// an outcome for it.
	UploadTaskUpload UploadTaskKind = iota
	// UploadTaskWait asks the caller to pause at least Wait before polling
	// again.
	UploadTaskWait
	// UploadTaskDone means the queue is empty until new pings are
	// submitted.
	UploadTaskDone
)

// UploadRequest is one ping document to deliver: POST Body to Path on the
// collector host, with Headers.
type UploadRequest struct {
	DocumentID string
	Path       string
	Body       []byte
	Headers    map[string]string
}

// UploadTask is the result of one GetUploadTask poll.
type UploadTask struct {
	Kind    UploadTaskKind
	Request UploadRequest
	Wait    time.Duration
}

// UploadOutcome is the caller's classification of a delivery attempt.
type UploadOutcome int

const (
	// UploadSuccess: the collector accepted the document (2xx).
	UploadSuccess UploadOutcome = iota
	// UploadRecoverableFailure: worth retrying (5xx, timeout, no network).
	UploadRecoverableFailure
	// UploadUnrecoverableFailure: never retry (4xx); the document is
	// dropped and counted.
	UploadUnrecoverableFailure
)

// GetUploadTask returns the next action for an upload-capable caller. The
// core decides what and when to send; performing the HTTP call and judging
// its outcome is the caller's job.
func (e *Engine) GetUploadTask() UploadTask {
	task := e.queue.GetUploadTask()
	switch task.Kind {
	case uploader.TaskUpload:
		return UploadTask{
			Kind: UploadTaskUpload,
			Request: UploadRequest{
				DocumentID: task.Document.ID,
				Path:       task.Document.Path,
				Body:       task.Document.Body,
				Headers:    task.Document.Headers,
			},
		}
	case uploader.TaskWait:
		return UploadTask{Kind: UploadTaskWait, Wait: task.Wait}
	default:
		return UploadTask{Kind: UploadTaskDone}
	}
}

// ReportUploadResult reports the outcome of delivering one document,
// advancing the retry state machine.
func (e *Engine) ReportUploadResult(documentID string, outcome UploadOutcome) {
	switch outcome {
	case UploadSuccess:
		e.queue.ReportResult(documentID, uploader.Success)
	case UploadRecoverableFailure:
		e.queue.ReportResult(documentID, uploader.RecoverableFailure)
	case UploadUnrecoverableFailure:
		e.queue.ReportResult(documentID, uploader.UnrecoverableFailure)
	}
}

// PendingUploads reports how many documents await delivery.
func (e *Engine) PendingUploads() int {
	return e.queue.Pending()
}
