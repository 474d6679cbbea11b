// Package beacon is an embeddable telemetry engine: applications record
// typed metrics through it, the engine persists them durably, assembles
// them into pings on demand, and queues the pings for an upload-capable
// caller to deliver. The engine never performs network I/O itself.
//
// One engine serves a whole process; all recording APIs are safe for
// concurrent use and non-blocking, with writes draining through a single
// background worker. Multiple engines over distinct data directories can
// coexist, which is how the tests run.
package beacon

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/observelite/beacon/internal/dispatch"
	"github.com/observelite/beacon/internal/handles"
	"github.com/observelite/beacon/internal/metricdata"
	"github.com/observelite/beacon/internal/pings"
	"github.com/observelite/beacon/internal/storage"
	"github.com/observelite/beacon/internal/uploader"
)

// Lifetime controls how long a recorded value survives. See the storage
// documentation for the exact semantics of each.
type Lifetime string

const (
	// LifetimePing values clear every time their owning ping is assembled.
	LifetimePing Lifetime = "ping"
	// LifetimeApplication values survive ping submission and last for the
	// session.
	LifetimeApplication Lifetime = "application"
	// LifetimeUser values persist across restarts until the profile resets.
	LifetimeUser Lifetime = "user"
)

const (
	metaDirtyFlag    = "dirty_flag"
	metaFirstRunDone = "first_run_done"
	metaFirstRunDate = "first_run_date"
	metaClientID     = "client_id"
)

// Engine is the telemetry engine instance. Construct with New, release with
// Shutdown.
type Engine struct {
	cfg   Config
	store *storage.Store
	disp  *dispatch.Dispatcher
	queue *uploader.Manager
	asm   *pings.Assembler

	metricHandles *handles.Registry[any]
	pingHandles   *handles.Registry[*Ping]

	mu        sync.Mutex
	pingsByID map[string]pings.Ping
	clientID  string

	uploadEnabled atomic.Bool
	startTime     time.Time
	wasDirty      bool
	firstRun      bool
}

// New opens the engine over cfg.DataDir. The previous session's dirty flag
// is captured (see WasDirty) and the flag is re-set before any recording
// can happen, so an unclean exit is detectable on the next start.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.dbPath(), cfg.DelayPingLifetimeWrites)
	if err != nil {
		return nil, err
	}

	queue, err := uploader.New(cfg.pendingDir(), uploader.DefaultPolicy())
	if err != nil {
		store.Close()
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		store:         store,
		disp:          dispatch.New(),
		queue:         queue,
		asm:           pings.NewAssembler(store, queue, cfg.ApplicationID),
		metricHandles: handles.NewRegistry[any](),
		pingHandles:   handles.NewRegistry[*Ping](),
		pingsByID:     make(map[string]pings.Ping),
		startTime:     time.Now(),
	}
	e.asm.ClientInfoFn = e.clientInfo
	e.queue.OnPermanentFailure = e.onUploadDropped
	e.uploadEnabled.Store(cfg.UploadEnabled)

	e.initLifecycleState()

	log.Info().
		Str("dataDir", cfg.DataDir).
		Str("application", cfg.ApplicationID).
		Bool("uploadEnabled", cfg.UploadEnabled).
		Msg("Telemetry engine initialized")
	return e, nil
}

func (e *Engine) initLifecycleState() {
	if v, ok := e.store.GetMeta(metaDirtyFlag); ok && v == "true" {
		e.wasDirty = true
	}
	if err := e.store.SetMeta(metaDirtyFlag, "true"); err != nil {
		log.Warn().Err(err).Msg("Failed to set dirty flag")
	}

	if _, ok := e.store.GetMeta(metaFirstRunDone); !ok {
		e.firstRun = true
		e.store.SetMeta(metaFirstRunDone, "true")
		e.store.SetMeta(metaFirstRunDate, time.Now().Format("2006-01-02"))
	}

	if !e.cfg.UploadEnabled {
		// Consent is off: nothing queued may ever be sent.
		e.queue.DiscardAll()
		e.store.DeleteMeta(metaClientID)
		return
	}
	if id, ok := e.store.GetMeta(metaClientID); ok {
		e.clientID = id
		return
	}
	e.regenerateClientID()
}

func (e *Engine) regenerateClientID() {
	id := uuid.NewString()
	if err := e.store.SetMeta(metaClientID, id); err != nil {
		log.Warn().Err(err).Msg("Failed to persist client id")
	}
	e.mu.Lock()
	e.clientID = id
	e.mu.Unlock()
}

func (e *Engine) clientInfo() pings.ClientInfo {
	ci := pings.DefaultClientInfo()
	e.mu.Lock()
	ci.ClientID = e.clientID
	e.mu.Unlock()
	if d, ok := e.store.GetMeta(metaFirstRunDate); ok {
		ci.FirstRunDate = d
	}
	return ci
}

// WasDirty reports whether the previous session ended without a clean
// Shutdown. Hosts typically submit a crash-indicating ping when this is
// true.
func (e *Engine) WasDirty() bool { return e.wasDirty }

// FirstRun reports whether this is the first session ever over this data
// directory.
func (e *Engine) FirstRun() bool { return e.firstRun }

// ClientID returns the current client identifier, empty while upload is
// disabled.
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

// UploadEnabled reports the current consent state.
func (e *Engine) UploadEnabled() bool { return e.uploadEnabled.Load() }

// SetUploadEnabled flips the consent state. Disabling purges all stored
// metric data and every queued ping; recording calls become no-ops until
// re-enabled. Re-enabling regenerates the client id and starts from an
// empty store. The purge serializes with in-flight recording work.
func (e *Engine) SetUploadEnabled(enabled bool) {
	was := e.uploadEnabled.Swap(enabled)
	if was == enabled {
		return
	}
	if !enabled {
		e.disp.Launch(func() {
			if err := e.store.ClearAll(); err != nil {
				log.Warn().Err(err).Msg("Failed to purge metric store on upload disable")
			}
			e.store.DeleteMeta(metaClientID)
			e.mu.Lock()
			e.clientID = ""
			e.mu.Unlock()
			e.queue.DiscardAll()
			log.Info().Msg("Upload disabled, stored telemetry purged")
		})
		return
	}
	e.disp.Launch(func() {
		e.regenerateClientID()
		e.store.SetMeta(metaDirtyFlag, "false")
		log.Info().Msg("Upload re-enabled")
	})
}

// recordingEnabled gates every metric write.
func (e *Engine) recordingEnabled() bool { return e.uploadEnabled.Load() }

// eventTimestamp is milliseconds since engine start, the clock event
// metrics record with.
func (e *Engine) eventTimestamp() int64 {
	return time.Since(e.startTime).Milliseconds()
}

// recordError increments the side-channel error counter for a metric. The
// counter lives under `<metric id>#<kind>` in each of the metric's pings,
// ping lifetime, and is written directly so it can never trigger further
// error accounting. Error counters are telemetry too, so they obey the
// consent gate like every other write.
func (e *Engine) recordError(opts MetricOptions, kind metricdata.ErrorKind) {
	if !e.recordingEnabled() {
		return
	}
	id := opts.identifier() + "#" + string(kind)
	e.disp.Launch(func() {
		for _, ping := range opts.SendInPings {
			if err := e.store.Accumulate(storage.LifetimePing, ping, id, metricdata.CounterValue(1)); err != nil {
				log.Warn().Err(err).Str("metric", id).Msg("Failed to record error counter")
			}
		}
	})
}

// NewPing registers a ping type. Pings must be registered before they can
// be submitted.
func (e *Engine) NewPing(cfg PingConfig) *Ping {
	spec := pings.Ping{Name: cfg.Name, SendIfEmpty: cfg.SendIfEmpty, Reasons: cfg.Reasons}
	e.mu.Lock()
	e.pingsByID[cfg.Name] = spec
	e.mu.Unlock()

	p := &Ping{engine: e, spec: spec}
	p.handle = e.pingHandles.Register(p)
	return p
}

// SubmitPing assembles and queues the named ping. Unknown names are
// rejected synchronously; assembly itself happens on the worker so it is
// atomic with respect to concurrent recording.
func (e *Engine) SubmitPing(name, reason string) error {
	e.mu.Lock()
	spec, ok := e.pingsByID[name]
	e.mu.Unlock()
	if !ok {
		return &UnknownPingError{Name: name}
	}
	if !e.uploadEnabled.Load() {
		log.Debug().Str("ping", name).Msg("Upload disabled, ping not submitted")
		return nil
	}
	e.disp.Launch(func() {
		if _, err := e.asm.Collect(spec, reason); err != nil {
			log.Warn().Err(err).Str("ping", name).Msg("Ping assembly failed")
		}
	})
	return nil
}

// onUploadDropped feeds permanently failed deliveries back into a
// diagnostics counter, application lifetime so it survives the pings it
// describes.
func (e *Engine) onUploadDropped(ping, reason string) {
	e.disp.Launch(func() {
		id := "beacon.uploads.dropped#" + reason
		if err := e.store.Accumulate(storage.LifetimeApplication, ping, id, metricdata.CounterValue(1)); err != nil {
			log.Warn().Err(err).Str("ping", ping).Msg("Failed to record dropped-upload counter")
		}
	})
}

// LookupMetric resolves a metric handle for binding layers.
func (e *Engine) LookupMetric(handle uint64) (any, bool) {
	return e.metricHandles.Get(handle)
}

// LookupPing resolves a ping handle for binding layers.
func (e *Engine) LookupPing(handle uint64) (*Ping, bool) {
	return e.pingHandles.Get(handle)
}

// BlockOnRecordingQueue waits for every recording task enqueued so far to
// complete. Test APIs call this internally; hosts can use it to checkpoint.
func (e *Engine) BlockOnRecordingQueue() {
	e.disp.BlockOn()
}

// Shutdown flushes pending recording work, clears the dirty flag, and
// closes the store. The drain is bounded by ctx; on timeout the engine
// gives up rather than hanging the host, and the dirty flag stays set so
// the next session knows state may be incomplete.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.disp.Launch(func() {
		if err := e.store.Persist(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush delayed writes at shutdown")
		}
		if err := e.store.SetMeta(metaDirtyFlag, "false"); err != nil {
			log.Warn().Err(err).Msg("Failed to clear dirty flag at shutdown")
		}
	})
	err := e.disp.Shutdown(ctx)
	if closeErr := e.store.Close(); err == nil {
		err = closeErr
	}
	log.Info().Msg("Telemetry engine shut down")
	return err
}

// UnknownPingError is returned by SubmitPing for unregistered ping names.
type UnknownPingError struct{ Name string }

func (e *UnknownPingError) Error() string {
	return "beacon: unknown ping " + strconv.Quote(e.Name)
}

// PingConfig describes a ping type to register.
type PingConfig struct {
	Name        string
	SendIfEmpty bool
	Reasons     []string
}

// Ping is a registered ping type bound to its engine.
type Ping struct {
	engine *Engine
	spec   pings.Ping
	handle uint64
}

// Submit assembles and queues this ping, like Engine.SubmitPing.
func (p *Ping) Submit(reason string) error {
	return p.engine.SubmitPing(p.spec.Name, reason)
}

// Name returns the registered ping name.
func (p *Ping) Name() string { return p.spec.Name }

// Handle returns the opaque handle binding layers hold.
func (p *Ping) Handle() uint64 { return p.handle }
