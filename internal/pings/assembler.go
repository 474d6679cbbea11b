// Package pings assembles stored metric values into immutable ping
// documents and hands them to the upload queue. Assembly snapshots every
// lifetime namespace for one ping name, builds the document, then clears
// only the ping-lifetime namespace; application and user data survive for
// future pings.
package pings

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/observelite/beacon/internal/metricdata"
	"github.com/observelite/beacon/internal/storage"
	"github.com/observelite/beacon/internal/uploader"
)

// SDKVersion is stamped into every document's client_info block.
const SDKVersion = "0.4.0"

// Ping describes one registered ping type.
type Ping struct {
	Name string

	// SendIfEmpty lets the ping go out even when no metric data was
	// recorded for it. When false, assembly with an empty store aborts
	// without producing a document.
	SendIfEmpty bool

	// Reasons is the allow-list of reason codes. An unlisted reason is
	// dropped from the document with a warning; the ping still goes out.
	Reasons []string
}

func (p Ping) reasonAllowed(reason string) bool {
	for _, r := range p.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ClientInfo is the identity block stamped into each document.
type ClientInfo struct {
	ClientID     string `json:"client_id,omitempty"`
	FirstRunDate string `json:"first_run_date,omitempty"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	SDKVersion   string `json:"telemetry_sdk_version"`
}

// DefaultClientInfo fills the static runtime fields.
func DefaultClientInfo() ClientInfo {
	return ClientInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, SDKVersion: SDKVersion}
}

type pingInfo struct {
	PingType  string `json:"ping_type"`
	Reason    string `json:"reason,omitempty"`
	Seq       int64  `json:"seq"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time"`
}

type documentBody struct {
	PingInfo   pingInfo                  `json:"ping_info"`
	ClientInfo ClientInfo                `json:"client_info"`
	Metrics    map[string]map[string]any `json:"metrics,omitempty"`
	Events     []metricdata.Event        `json:"events,omitempty"`
}

// Assembler builds documents from the store and enqueues them. It holds no
// locks of its own: the engine runs Collect on its single-consumer
// dispatcher, which is what makes snapshot-then-clear atomic with respect
// to concurrent recorders.
type Assembler struct {
	store *storage.Store
	queue *uploader.Manager
	appID string

	// ClientInfoFn supplies the identity block at collect time; the client
	// id can change across upload-enabled flips, so it is not captured at
	// construction.
	ClientInfoFn func() ClientInfo

	nowFn func() time.Time
}

// NewAssembler wires an assembler to its store and upload queue.
func NewAssembler(store *storage.Store, queue *uploader.Manager, appID string) *Assembler {
	return &Assembler{
		store:        store,
		queue:        queue,
		appID:        appID,
		ClientInfoFn: DefaultClientInfo,
		nowFn:        time.Now,
	}
}

// Collect assembles one ping. It returns the enqueued document id, or ""
// when the send-if-empty gate suppressed the ping. The caller must already
// hold the engine's write serialization (the dispatcher).
func (a *Assembler) Collect(p Ping, reason string) (string, error) {
	if !p.SendIfEmpty &&
		!a.store.HasEntries(storage.LifetimePing, p.Name) &&
		!a.store.HasEntries(storage.LifetimeApplication, p.Name) {
		log.Debug().Str("ping", p.Name).Msg("Ping has no data and send_if_empty is off, skipping")
		return "", nil
	}

	if reason != "" && !p.reasonAllowed(reason) {
		log.Warn().Str("ping", p.Name).Str("reason", reason).Msg("Unknown reason code dropped")
		reason = ""
	}

	metrics := make(map[string]map[string]any)
	var events []metricdata.Event
	for _, lt := range storage.Lifetimes {
		entries, err := a.store.Snapshot(lt, p.Name)
		if err != nil {
			return "", fmt.Errorf("assemble %s: %w", p.Name, err)
		}
		for _, e := range entries {
			if e.Value.Kind == metricdata.KindEvents {
				events = append(events, e.Value.Events...)
				continue
			}
			section := metrics[string(e.Value.Kind)]
			if section == nil {
				section = make(map[string]any)
				metrics[string(e.Value.Kind)] = section
			}
			section[e.ID] = e.Value.Payload()
		}
	}

	now := a.nowFn()
	body := documentBody{
		PingInfo: pingInfo{
			PingType:  p.Name,
			Reason:    reason,
			Seq:       a.nextSeq(p.Name),
			StartTime: a.swapStartTime(p.Name, now),
			EndTime:   now.Format(time.RFC3339),
		},
		ClientInfo: a.ClientInfoFn(),
		Metrics:    metrics,
		Events:     events,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("assemble %s: %w", p.Name, err)
	}

	docID := uuid.NewString()
	doc := uploader.Document{
		ID:   docID,
		Ping: p.Name,
		Path: fmt.Sprintf("/submit/%s/%s/%s", a.appID, p.Name, docID),
		Body: raw,
		Headers: map[string]string{
			"Content-Type":      "application/json; charset=utf-8",
			"X-Telemetry-Agent": "beacon/" + SDKVersion,
			"Date":              now.UTC().Format(time.RFC1123),
		},
	}

	// Clear before enqueueing: a value recorded after this point starts a
	// fresh ping-lifetime entry for the next ping.
	if err := a.store.Clear(storage.LifetimePing, p.Name); err != nil {
		log.Warn().Err(err).Str("ping", p.Name).Msg("Failed to clear ping-lifetime data after assembly")
	}

	if err := a.queue.Enqueue(doc); err != nil {
		return "", fmt.Errorf("assemble %s: %w", p.Name, err)
	}
	log.Info().Str("ping", p.Name).Str("document", docID).Str("reason", reason).Msg("Ping assembled")
	return docID, nil
}

// nextSeq increments the per-ping sequence number, persisted so it survives
// restarts.
func (a *Assembler) nextSeq(ping string) int64 {
	key := "seq#" + ping
	var seq int64
	if v, ok := a.store.GetMeta(key); ok {
		seq, _ = strconv.ParseInt(v, 10, 64)
	}
	seq++
	if err := a.store.SetMeta(key, strconv.FormatInt(seq, 10)); err != nil {
		log.Warn().Err(err).Str("ping", ping).Msg("Failed to persist ping sequence number")
	}
	return seq
}

// swapStartTime returns the previous collection time for this ping and
// records now as the next one, so consecutive documents tile the timeline.
func (a *Assembler) swapStartTime(ping string, now time.Time) string {
	key := "last_collected#" + ping
	prev, _ := a.store.GetMeta(key)
	if err := a.store.SetMeta(key, now.Format(time.RFC3339)); err != nil {
		log.Warn().Err(err).Str("ping", ping).Msg("Failed to persist ping collection time")
	}
	return prev
}
