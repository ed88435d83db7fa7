package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/engine/router"
	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/cancellation"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/eventcache"
	"github.com/relaywatch/relaywatch/module/filter"
	"github.com/relaywatch/relaywatch/module/health"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/subscriptions"
	"github.com/relaywatch/relaywatch/module/util"
	"github.com/relaywatch/relaywatch/network/relay"
	"github.com/relaywatch/relaywatch/storage"
)

// Metrics is everything the engine and its components report.
type Metrics interface {
	module.RelayMetrics
	module.SubscriptionMetrics
	module.HealthMetrics
	module.CacheMetrics
	module.PersistenceMetrics
}

// Engine follows a set of subscription configs across their relays. It keeps one connection per
// relay and one subscription per (config, relay) pair, forwards every new matching event to the
// notification sink exactly once, and persists cursors, seen events and cancelled subscriptions
// so that a restart resumes where the previous run stopped.
//
// The engine is a component: it is started with a signaler context and stops when that context
// is cancelled. The configs of the provider are applied once the engine is ready; Sync applies a
// new set at any time.
type Engine struct {
	*component.ComponentManager
	log      zerolog.Logger
	config   Config
	provider module.ConfigProvider

	supervisor   *relay.Supervisor
	ledger       *subscriptions.Ledger
	cache        *eventcache.Cache
	tracker      *cancellation.Tracker
	router       *router.Router
	orchestrator *health.Orchestrator
	persister    *Persister

	mu  sync.Mutex
	ctx context.Context // set once the engine is started

	// serializes Sync, so concurrent reloads apply in order
	syncMu sync.Mutex
}

var _ component.Component = (*Engine)(nil)
var _ relay.Handler = (*Engine)(nil)

// New creates an engine and restores its persisted state from store. A nil dialer connects
// over websockets.
func New(
	log zerolog.Logger,
	config Config,
	store storage.KeyValueStore,
	provider module.ConfigProvider,
	sink module.NotificationSink,
	policy module.PowerStatePolicy,
	collector Metrics,
	dialer relay.Dialer,
) (*Engine, error) {
	if dialer == nil {
		dialer = relay.NewWebsocketDialer(config.Relay.DialTimeout, config.UserAgent)
	}

	e := &Engine{
		log:      log.With().Str("engine", "watcher").Logger(),
		config:   config,
		provider: provider,
		ctx:      context.Background(),
	}

	var err error
	e.supervisor, err = relay.NewSupervisor(log, config.Relay, dialer, policy, collector)
	if err != nil {
		return nil, fmt.Errorf("could not create relay supervisor: %w", err)
	}
	e.ledger = subscriptions.NewLedger(log, config.Subscriptions, e.supervisor, collector)
	e.cache, err = eventcache.New(config.EventCacheCapacity, collector)
	if err != nil {
		return nil, err
	}
	e.tracker, err = cancellation.New(log, config.Cancellation, collector)
	if err != nil {
		return nil, fmt.Errorf("could not create cancellation tracker: %w", err)
	}
	e.router, err = router.New(
		log,
		config.Router,
		e.ledger,
		e.cache,
		e.tracker,
		filter.DefaultPipeline(),
		sink,
		e.supervisor,
		collector,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create message router: %w", err)
	}
	e.orchestrator = health.NewOrchestrator(log, config.Health, e.supervisor, e.ledger, policy, collector)

	e.persister, err = NewPersister(log, config.Persister, store, collector)
	if err != nil {
		return nil, fmt.Errorf("could not create persister: %w", err)
	}
	e.persister.Track(storage.KeyCursors, e.ledger)
	e.persister.Track(storage.KeyEventCache, e.cache)
	e.persister.Track(storage.KeyCancelledSubscriptions, e.tracker)
	e.persister.FlushAfter(e.router, e.supervisor)
	// unreadable snapshots are logged by the persister, the engine starts without them
	_ = e.persister.Restore()

	e.supervisor.RegisterHandler(e)

	e.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(e.serve).
		AddWorker(runComponent(e.supervisor)).
		AddWorker(runComponent(e.router)).
		AddWorker(runComponent(e.tracker)).
		AddWorker(runComponent(e.orchestrator)).
		AddWorker(runComponent(e.persister)).
		AddWorker(e.initialSync).
		Build()
	return e, nil
}

// runComponent returns a worker that runs c for the lifetime of the engine.
func runComponent(c component.Component) component.ComponentWorker {
	return func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
		c.Start(ctx)
		if err := util.WaitClosed(ctx, c.Ready()); err == nil {
			ready()
		}
		<-c.Done()
	}
}

func (e *Engine) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	ready()
	<-ctx.Done()
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

func (e *Engine) initialSync(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	err := util.WaitClosed(ctx, util.AllReady(e.supervisor, e.router))
	if err != nil {
		return
	}
	ready()

	if e.provider == nil {
		return
	}
	if err := e.SyncFrom(ctx); err != nil {
		e.log.Error().Err(err).Msg("initial sync failed")
	}
}

// OnConnected requests every subscription of a relay that just connected, starting at its
// cursor.
func (e *Engine) OnConnected(relayURL string) {
	n := e.ledger.Resubscribe(e.runContext(), relayURL)
	e.log.Debug().Str("relay", relayURL).Int("subscriptions", n).Msg("subscriptions requested")
}

// OnFrame hands an inbound frame to the router.
func (e *Engine) OnFrame(relayURL string, frame []byte) {
	e.router.OnFrame(relayURL, frame)
}

// Sync applies a complete set of subscription configs: subscriptions are opened for new configs
// and relays, closed for removed or disabled ones, and requested again when a filter changed.
// Relays no config references anymore are disconnected.
//
// Invalid configs are skipped and reported as InvalidConfigError, aggregated in the returned
// error; the valid configs are applied regardless. Relays that cannot be reached are not an
// error, they are retried in the background.
func (e *Engine) Sync(ctx context.Context, configs []nostr.SubscriptionConfig) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	var errs *multierror.Error
	valid := make([]nostr.SubscriptionConfig, 0, len(configs))
	ids := make(map[string]struct{}, len(configs))
	for _, config := range configs {
		if err := config.Validate(); err != nil {
			errs = multierror.Append(errs, NewInvalidConfigError(config.ID, err))
			continue
		}
		if _, duplicate := ids[config.ID]; duplicate {
			errs = multierror.Append(errs, NewInvalidConfigError(config.ID, fmt.Errorf("duplicate config id")))
			continue
		}
		ids[config.ID] = struct{}{}
		valid = append(valid, config)
	}
	if errs != nil {
		for _, err := range errs.Errors {
			e.log.Warn().Err(err).Msg("skipping invalid config")
		}
	}

	relays, err := e.ledger.Resync(ctx, valid)
	if err != nil {
		return multierror.Append(errs, fmt.Errorf("could not resync subscriptions: %w", err))
	}

	previous := e.supervisor.URLs()
	err = e.supervisor.Retain(ctx, relays)
	if err != nil {
		e.log.Warn().Err(err).Msg("some relays could not be connected, retrying in the background")
	}

	retained := make(map[string]struct{}, len(relays))
	for _, url := range relays {
		retained[url] = struct{}{}
	}
	for _, url := range previous {
		if _, ok := retained[url]; !ok {
			e.router.Forget(url)
		}
	}

	e.log.Info().
		Int("configs", len(valid)).
		Int("relays", len(relays)).
		Int("subscriptions", e.ledger.ActiveCount()).
		Msg("subscription configs applied")
	return errs.ErrorOrNil()
}

// SyncFrom applies the configs currently enabled by the config provider.
func (e *Engine) SyncFrom(ctx context.Context) error {
	if e.provider == nil {
		return fmt.Errorf("no config provider")
	}
	configs, err := e.provider.EnabledConfigs()
	if err != nil {
		return fmt.Errorf("could not read subscription configs: %w", err)
	}
	return e.Sync(ctx, configs)
}

// RefreshConnections runs a health check immediately, reconnecting stale and dead relays and
// requesting pending subscriptions on healthy ones.
func (e *Engine) RefreshConnections() health.Report {
	return e.orchestrator.RunCheck(e.runContext())
}

// Flush writes the changed snapshots to the store now.
func (e *Engine) Flush() error {
	return e.persister.Flush()
}

// RelayDiagnostics describes the connection and subscriptions of one relay.
type RelayDiagnostics struct {
	URL          string    `json:"url"`
	State        string    `json:"state"`
	Attempts     int       `json:"attempts"`
	FailingSince time.Time `json:"failing_since"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	LastPong     time.Time `json:"last_pong"`
	AwaitingPong bool      `json:"awaiting_pong"`
	LastError    string    `json:"last_error,omitempty"`

	Subscriptions     int `json:"subscriptions"`
	LiveSubscriptions int `json:"live_subscriptions"`

	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	EventsMatched  uint64 `json:"events_matched"`
	FramesQueued   int    `json:"frames_queued"`
}

// Diagnostics is a point in time view of the engine.
type Diagnostics struct {
	Relays                 []RelayDiagnostics `json:"relays"`
	Subscriptions          int                `json:"subscriptions"`
	CachedEvents           int                `json:"cached_events"`
	CancelledSubscriptions int                `json:"cancelled_subscriptions"`
}

// Diagnostics returns the current state of every relay, ordered by url.
func (e *Engine) Diagnostics() Diagnostics {
	type counts struct{ total, live int }
	perRelay := make(map[string]counts)
	subs := e.ledger.Subscriptions()
	for _, sub := range subs {
		c := perRelay[sub.Relay]
		c.total++
		if sub.State == subscriptions.Live {
			c.live++
		}
		perRelay[sub.Relay] = c
	}

	statuses := e.supervisor.Statuses()
	diag := Diagnostics{
		Relays:                 make([]RelayDiagnostics, 0, len(statuses)),
		Subscriptions:          len(subs),
		CachedEvents:           e.cache.Len(),
		CancelledSubscriptions: e.tracker.Len(),
	}
	for _, status := range statuses {
		stats := e.router.Stats(status.URL)
		c := perRelay[status.URL]
		diag.Relays = append(diag.Relays, RelayDiagnostics{
			URL:               status.URL,
			State:             status.State.String(),
			Attempts:          status.Attempts,
			FailingSince:      status.FailingSince,
			ConnectedAt:       status.ConnectedAt,
			LastActivity:      status.LastActivity,
			LastPong:          status.LastPong,
			AwaitingPong:      status.AwaitingPong(),
			LastError:         status.LastError,
			Subscriptions:     c.total,
			LiveSubscriptions: c.live,
			FramesReceived:    stats.Received,
			FramesDropped:     stats.Dropped,
			EventsMatched:     stats.Matched,
			FramesQueued:      stats.Queued,
		})
	}
	return diag
}

// Subscriptions returns every subscription held, ordered by config id and relay.
func (e *Engine) Subscriptions() []subscriptions.Subscription {
	return e.ledger.Subscriptions()
}

// Status returns the connection status of a relay.
func (e *Engine) Status(relayURL string) (relay.EndpointStatus, bool) {
	return e.supervisor.Status(relayURL)
}
