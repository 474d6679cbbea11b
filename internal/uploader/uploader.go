// Package uploader queues assembled pings for delivery through a pull
// protocol: the network-capable caller polls for a task, performs the HTTP
// call itself, and reports the outcome back. The queue is durable — each
// pending document is one JSON file whose ULID filename preserves FIFO
// order across restarts — and retry is bounded by a capped exponential
// backoff and an attempt ceiling.
package uploader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Policy holds the retry and rate-limit constants. The exact numbers are
// deliberate but not sacred: retry stops after MaxAttempts so a permanently
// broken collector cannot grow the queue forever, and backoff doubles from
// InitialBackoff up to MaxBackoff.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RatePerWindow tasks may be issued per Window; beyond that the queue
	// answers Wait with the remaining window time.
	RatePerWindow int
	Window        time.Duration
}

// DefaultPolicy returns the shipped constants: 10 attempts, 30s doubling to
// 8m, 15 uploads per minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    10,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     8 * time.Minute,
		RatePerWindow:  15,
		Window:         time.Minute,
	}
}

// Stats counts terminal queue outcomes for diagnostics.
type Stats struct {
	Enqueued         int
	Succeeded        int
	Unrecoverable    int
	RetriesExhausted int
	Discarded        int
}

type entry struct {
	doc        Document
	file       string
	attempts   int
	eligibleAt time.Time
}

// Manager is the upload queue. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	dir      string
	policy   Policy
	queue    []*entry
	inFlight map[string]*entry
	limiter  *rate.Limiter
	stats    Stats

	// OnPermanentFailure, when set, is invoked (outside the lock) whenever a
	// document is dropped without being delivered: unrecoverable outcome or
	// retry exhaustion. The engine uses it to feed a diagnostics counter.
	OnPermanentFailure func(ping, reason string)

	nowFn func() time.Time
}

// New opens the pending-ping directory, re-queueing any documents a previous
// session left behind in their original FIFO order.
func New(dir string, policy Policy) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create pending ping directory: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if policy.RatePerWindow > 0 && policy.Window > 0 {
		limiter = rate.NewLimiter(rate.Every(policy.Window/time.Duration(policy.RatePerWindow)), policy.RatePerWindow)
	}
	m := &Manager{
		dir:      dir,
		policy:   policy,
		inFlight: make(map[string]*entry),
		limiter:  limiter,
		nowFn:    time.Now,
	}
	if err := m.rescan(); err != nil {
		return nil, err
	}
	return m, nil
}

// rescan rebuilds the in-memory queue from the pending directory.
func (m *Manager) rescan() error {
	names, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("scan pending ping directory: %w", err)
	}
	files := make([]string, 0, len(names))
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		files = append(files, de.Name())
	}
	// ULID filenames sort into enqueue order.
	sort.Strings(files)

	for _, name := range files {
		path := filepath.Join(m.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Unreadable pending ping dropped")
			os.Remove(path)
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil || doc.ID == "" {
			log.Warn().Err(err).Str("file", name).Msg("Corrupt pending ping dropped")
			os.Remove(path)
			continue
		}
		m.queue = append(m.queue, &entry{doc: doc, file: path})
	}
	if len(m.queue) > 0 {
		log.Info().Int("count", len(m.queue)).Msg("Re-queued pending pings from previous session")
	}
	return nil
}

// Enqueue persists a document and appends it to the queue tail.
func (m *Manager) Enqueue(doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ulid.Make().String() + ".json"
	path := filepath.Join(m.dir, name)
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize pending ping: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("persist pending ping: %w", err)
	}

	m.queue = append(m.queue, &entry{doc: doc, file: path})
	m.stats.Enqueued++
	log.Debug().Str("ping", doc.Ping).Str("document", doc.ID).Msg("Ping queued for upload")
	return nil
}

// GetUploadTask returns the next action for an upload-capable caller: a
// document to deliver, a wait instruction, or done.
func (m *Manager) GetUploadTask() Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return Task{Kind: TaskDone}
	}

	head := m.queue[0]
	now := m.nowFn()
	if wait := head.eligibleAt.Sub(now); wait > 0 {
		return Task{Kind: TaskWait, Wait: wait}
	}

	res := m.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return Task{Kind: TaskWait, Wait: delay}
	}

	m.queue = m.queue[1:]
	m.inFlight[head.doc.ID] = head
	return Task{Kind: TaskUpload, Document: head.doc}
}

// ReportResult advances the retry state machine for one in-flight document.
// Unknown ids are ignored; a caller reporting twice, or reporting for a
// queue that was discarded meanwhile, is harmless.
func (m *Manager) ReportResult(documentID string, outcome Outcome) {
	m.mu.Lock()
	e, ok := m.inFlight[documentID]
	if !ok {
		m.mu.Unlock()
		log.Warn().Str("document", documentID).Str("outcome", outcome.String()).Msg("Result reported for unknown document")
		return
	}
	delete(m.inFlight, documentID)

	var dropped string
	switch outcome {
	case Success:
		m.removeFileLocked(e)
		m.stats.Succeeded++
		log.Debug().Str("document", documentID).Msg("Ping delivered")
	case UnrecoverableFailure:
		m.removeFileLocked(e)
		m.stats.Unrecoverable++
		dropped = "unrecoverable"
	case RecoverableFailure:
		e.attempts++
		if e.attempts >= m.policy.MaxAttempts {
			m.removeFileLocked(e)
			m.stats.RetriesExhausted++
			dropped = "retries_exhausted"
		} else {
			e.eligibleAt = m.nowFn().Add(m.backoff(e.attempts))
			m.queue = append(m.queue, e)
			log.Debug().
				Str("document", documentID).
				Int("attempts", e.attempts).
				Time("eligibleAt", e.eligibleAt).
				Msg("Ping re-queued with backoff")
		}
	}
	cb := m.OnPermanentFailure
	ping := e.doc.Ping
	m.mu.Unlock()

	if dropped != "" {
		log.Warn().Str("document", documentID).Str("reason", dropped).Msg("Ping dropped without delivery")
		if cb != nil {
			cb(ping, dropped)
		}
	}
}

// backoff doubles per attempt from InitialBackoff up to MaxBackoff.
func (m *Manager) backoff(attempts int) time.Duration {
	d := m.policy.InitialBackoff << (attempts - 1)
	if d > m.policy.MaxBackoff || d <= 0 {
		d = m.policy.MaxBackoff
	}
	return d
}

// DiscardAll drops every queued and in-flight document and its backing file.
// Used when upload is disabled: pending pings are never sent once consent is
// withdrawn.
func (m *Manager) DiscardAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.queue {
		m.removeFileLocked(e)
		m.stats.Discarded++
	}
	for _, e := range m.inFlight {
		m.removeFileLocked(e)
		m.stats.Discarded++
	}
	m.queue = nil
	m.inFlight = make(map[string]*entry)
	log.Info().Msg("Pending upload queue discarded")
}

// Pending reports how many documents are queued or in flight.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) + len(m.inFlight)
}

// StatsSnapshot returns a copy of the terminal-outcome counters.
func (m *Manager) StatsSnapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) removeFileLocked(e *entry) {
	if err := os.Remove(e.file); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", e.file).Msg("Failed to remove pending ping file")
	}
}
