package pings

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observelite/beacon/internal/metricdata"
	"github.com/observelite/beacon/internal/storage"
	"github.com/observelite/beacon/internal/uploader"
)

func testAssembler(t *testing.T) (*Assembler, *storage.Store, *uploader.Manager) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(filepath.Join(dir, "beacon.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	policy := uploader.DefaultPolicy()
	policy.RatePerWindow = 0
	queue, err := uploader.New(filepath.Join(dir, "pending"), policy)
	require.NoError(t, err)

	return NewAssembler(st, queue, "test-app"), st, queue
}

func TestSendIfEmptyGate(t *testing.T) {
	a, st, queue := testAssembler(t)
	p := Ping{Name: "metrics", SendIfEmpty: false}

	// No data recorded: no document.
	docID, err := a.Collect(p, "")
	require.NoError(t, err)
	assert.Empty(t, docID)
	assert.Equal(t, 0, queue.Pending())

	// One counter increment: exactly one document containing it.
	require.NoError(t, st.Accumulate(storage.LifetimePing, "metrics", "app.opens", metricdata.CounterValue(1)))
	docID, err = a.Collect(p, "")
	require.NoError(t, err)
	require.NotEmpty(t, docID)
	require.Equal(t, 1, queue.Pending())

	task := queue.GetUploadTask()
	require.Equal(t, uploader.TaskUpload, task.Kind)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(task.Document.Body, &body))
	var metrics map[string]map[string]any
	require.NoError(t, json.Unmarshal(body["metrics"], &metrics))
	assert.Equal(t, float64(1), metrics["counter"]["app.opens"])

	// The counter was cleared, so the next assembly is empty again.
	queue.ReportResult(task.Document.ID, uploader.Success)
	docID, err = a.Collect(p, "")
	require.NoError(t, err)
	assert.Empty(t, docID)
}

func TestSendIfEmptyProducesEmptyPing(t *testing.T) {
	a, _, queue := testAssembler(t)
	docID, err := a.Collect(Ping{Name: "baseline", SendIfEmpty: true}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, docID)
	assert.Equal(t, 1, queue.Pending())
}

func TestClearScopedToPingLifetime(t *testing.T) {
	a, st, _ := testAssembler(t)

	st.Set(storage.LifetimePing, "metrics", "session.flag", metricdata.BooleanValue(true))
	st.Set(storage.LifetimeApplication, "metrics", "app.version", metricdata.StringValue("1.2.3"))
	st.Set(storage.LifetimeUser, "metrics", "client.cohort", metricdata.StringValue("beta"))

	_, err := a.Collect(Ping{Name: "metrics", SendIfEmpty: false}, "")
	require.NoError(t, err)

	_, ok := st.Get(storage.LifetimePing, "metrics", "session.flag")
	assert.False(t, ok, "ping-lifetime value must be cleared")
	_, ok = st.Get(storage.LifetimeApplication, "metrics", "app.version")
	assert.True(t, ok, "application-lifetime value must survive")
	_, ok = st.Get(storage.LifetimeUser, "metrics", "client.cohort")
	assert.True(t, ok, "user-lifetime value must survive")
}

func TestDocumentShape(t *testing.T) {
	a, st, queue := testAssembler(t)
	a.nowFn = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	a.ClientInfoFn = func() ClientInfo {
		ci := DefaultClientInfo()
		ci.ClientID = "client-1"
		return ci
	}

	st.Set(storage.LifetimePing, "metrics", "app.name", metricdata.StringValue("demo"))
	st.Accumulate(storage.LifetimePing, "metrics", "ui.events", metricdata.EventsValue([]metricdata.Event{
		{Timestamp: 12, Category: "ui", Name: "click"},
	}))

	docID, err := a.Collect(Ping{Name: "metrics", Reasons: []string{"background"}}, "background")
	require.NoError(t, err)

	task := queue.GetUploadTask()
	require.Equal(t, uploader.TaskUpload, task.Kind)
	assert.Equal(t, "/submit/test-app/metrics/"+docID, task.Document.Path)
	assert.Equal(t, "application/json; charset=utf-8", task.Document.Headers["Content-Type"])

	var body documentBody
	require.NoError(t, json.Unmarshal(task.Document.Body, &body))
	assert.Equal(t, "metrics", body.PingInfo.PingType)
	assert.Equal(t, "background", body.PingInfo.Reason)
	assert.Equal(t, int64(1), body.PingInfo.Seq)
	assert.Equal(t, "2026-05-01T12:00:00Z", body.PingInfo.EndTime)
	assert.Equal(t, "client-1", body.ClientInfo.ClientID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "click", body.Events[0].Name)
}

func TestSequenceNumbersAdvancePerPing(t *testing.T) {
	a, _, queue := testAssembler(t)
	p := Ping{Name: "baseline", SendIfEmpty: true}

	for want := int64(1); want <= 3; want++ {
		_, err := a.Collect(p, "")
		require.NoError(t, err)
		task := queue.GetUploadTask()
		require.Equal(t, uploader.TaskUpload, task.Kind)
		var body documentBody
		require.NoError(t, json.Unmarshal(task.Document.Body, &body))
		assert.Equal(t, want, body.PingInfo.Seq)
		queue.ReportResult(task.Document.ID, uploader.Success)
	}

	// A different ping keeps its own sequence.
	_, err := a.Collect(Ping{Name: "other", SendIfEmpty: true}, "")
	require.NoError(t, err)
	task := queue.GetUploadTask()
	var body documentBody
	require.NoError(t, json.Unmarshal(task.Document.Body, &body))
	assert.Equal(t, int64(1), body.PingInfo.Seq)
}

func TestUnknownReasonDropped(t *testing.T) {
	a, _, queue := testAssembler(t)
	_, err := a.Collect(Ping{Name: "baseline", SendIfEmpty: true, Reasons: []string{"shutdown"}}, "bogus")
	require.NoError(t, err)

	task := queue.GetUploadTask()
	var body documentBody
	require.NoError(t, json.Unmarshal(task.Document.Body, &body))
	assert.Empty(t, body.PingInfo.Reason)
}

func TestStartTimeTilesAcrossDocuments(t *testing.T) {
	a, _, queue := testAssembler(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a.nowFn = func() time.Time { return now }

	p := Ping{Name: "baseline", SendIfEmpty: true}
	_, err := a.Collect(p, "")
	require.NoError(t, err)
	task := queue.GetUploadTask()
	var first documentBody
	require.NoError(t, json.Unmarshal(task.Document.Body, &first))
	assert.Empty(t, first.PingInfo.StartTime)
	queue.ReportResult(task.Document.ID, uploader.Success)

	now = now.Add(time.Hour)
	_, err = a.Collect(p, "")
	require.NoError(t, err)
	task = queue.GetUploadTask()
	var second documentBody
	require.NoError(t, json.Unmarshal(task.Document.Body, &second))
	assert.Equal(t, first.PingInfo.EndTime, second.PingInfo.StartTime)
}
