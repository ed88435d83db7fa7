package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/network/relay"
)

type Config struct {
	// PongTimeout is how long a keepalive ping may stay unanswered.
	PongTimeout time.Duration
	// DeadAfter is the length of a failure streak after which a relay is reported dead.
	DeadAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		PongTimeout: 20 * time.Second,
		DeadAfter:   10 * time.Minute,
	}
}

// Connections is the view of the relay connections the orchestrator inspects and repairs.
type Connections interface {
	Statuses() []relay.EndpointStatus
	ResetAttempts(url string)
	Reconnect(ctx context.Context, url string) error
}

// PendingRequester re-sends subscription requests that have not reached a relay yet.
type PendingRequester interface {
	RequestPending(ctx context.Context, relay string) int
}

// modeNotifier is implemented by power policies that announce mode changes.
type modeNotifier interface {
	Changes() <-chan struct{}
}

// RelayReport is the outcome of a health check for one relay.
type RelayReport struct {
	URL     string
	State   relay.State
	Verdict Verdict
	// Recovering is set when the check started a reconnect.
	Recovering bool
	// Requested is the number of pending subscriptions requested again.
	Requested int
}

// Report is the outcome of a health check over all relays.
type Report struct {
	CheckedAt time.Time
	Relays    []RelayReport
}

// Orchestrator periodically evaluates every relay and repairs the unhealthy ones. A stale or dead
// relay gets its backoff reset and is reconnected; reconnecting re-requests its subscriptions.
// Checks only read cached connection state, reconnects run in the background.
type Orchestrator struct {
	*component.ComponentManager
	log         zerolog.Logger
	config      Config
	connections Connections
	pending     PendingRequester
	policy      module.PowerStatePolicy
	metrics     module.HealthMetrics
	now         func() time.Time

	mu         sync.Mutex
	stopped    bool
	recovering map[string]struct{}
	inFlight   sync.WaitGroup
}

var _ component.Component = (*Orchestrator)(nil)

func NewOrchestrator(
	log zerolog.Logger,
	config Config,
	connections Connections,
	pending PendingRequester,
	policy module.PowerStatePolicy,
	collector module.HealthMetrics,
) *Orchestrator {
	o := &Orchestrator{
		log:         log.With().Str("component", "health_orchestrator").Logger(),
		config:      config,
		connections: connections,
		pending:     pending,
		policy:      policy,
		metrics:     collector,
		now:         time.Now,
		recovering:  make(map[string]struct{}),
	}
	o.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(o.checkLoop).
		Build()
	return o
}

func (o *Orchestrator) thresholds() Thresholds {
	return Thresholds{
		Stale:       o.policy.HealthThreshold(),
		PongTimeout: o.config.PongTimeout,
		Dead:        o.config.DeadAfter,
	}
}

// RunCheck evaluates every relay once. Reconnects it starts are bound to ctx.
func (o *Orchestrator) RunCheck(ctx context.Context) Report {
	start := o.now()
	thresholds := o.thresholds()
	statuses := o.connections.Statuses()

	report := Report{
		CheckedAt: start,
		Relays:    make([]RelayReport, 0, len(statuses)),
	}
	for _, status := range statuses {
		verdict := Evaluate(status, thresholds, start)
		o.metrics.RelayVerdict(status.URL, verdict.String())
		entry := RelayReport{URL: status.URL, State: status.State, Verdict: verdict}

		switch verdict {
		case Stale:
			o.log.Warn().
				Str("relay", status.URL).
				Time("last_activity", status.LastActivity).
				Time("last_pong", status.LastPong).
				Msg("relay is stale, reconnecting")
			entry.Recovering = o.recover(ctx, status.URL)
		case Dead:
			o.log.Error().
				Str("relay", status.URL).
				Int("attempts", status.Attempts).
				Time("failing_since", status.FailingSince).
				Str("last_error", status.LastError).
				Msg("relay is dead, reconnecting")
			entry.Recovering = o.recover(ctx, status.URL)
		case Healthy:
			if status.State == relay.Connected {
				entry.Requested = o.pending.RequestPending(ctx, status.URL)
			}
		}
		report.Relays = append(report.Relays, entry)
	}

	o.metrics.HealthCheckCompleted(o.now().Sub(start))
	return report
}

// recover starts a reconnect of the relay unless one is already running.
func (o *Orchestrator) recover(ctx context.Context, url string) bool {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return false
	}
	if _, ok := o.recovering[url]; ok {
		o.mu.Unlock()
		return false
	}
	o.recovering[url] = struct{}{}
	o.inFlight.Add(1)
	o.mu.Unlock()

	o.connections.ResetAttempts(url)
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.recovering, url)
			o.mu.Unlock()
			o.inFlight.Done()
		}()
		// failures are retried by the supervisor and logged there
		if err := o.connections.Reconnect(ctx, url); err != nil {
			o.log.Debug().Err(err).Str("relay", url).Msg("reconnect failed")
		}
	}()
	return true
}

func (o *Orchestrator) checkLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	var changes <-chan struct{}
	if notifier, ok := o.policy.(modeNotifier); ok {
		changes = notifier.Changes()
	}

	timer := time.NewTimer(o.policy.HealthCheckInterval())
	defer timer.Stop()
	ready()

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.stopped = true
			o.mu.Unlock()
			o.inFlight.Wait()
			return
		case <-changes:
			if !timer.Stop() {
				<-timer.C
			}
			interval := o.policy.HealthCheckInterval()
			o.log.Debug().Dur("interval", interval).Msg("power state changed, rescheduling health check")
			timer.Reset(interval)
		case <-timer.C:
			o.RunCheck(ctx)
			timer.Reset(o.policy.HealthCheckInterval())
		}
	}
}
