package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/relaywatch/relaywatch/engine/common/fifoqueue"
	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/filter"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/metrics"
)

type Config struct {
	// Workers is the number of goroutines processing frames, shared by all relays.
	Workers int
	// QueueCapacity bounds the frames buffered per relay; frames beyond it are dropped.
	QueueCapacity int
}

func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueCapacity: 10_000,
	}
}

// Ledger resolves and updates subscriptions.
type Ledger interface {
	Lookup(relay string, subscriptionID string) (nostr.SubscriptionConfig, bool)
	AdvanceCursor(configID string, relay string, createdAt int64) bool
	MarkLive(relay string, subscriptionID string) bool
	MarkClosedByRelay(relay string, subscriptionID string, reason string) bool
}

// Deduplicator reports whether an event id was seen before, recording it if not.
type Deduplicator interface {
	Seen(eventID string) bool
}

// Canceller remembers subscriptions cancelled because of stray frames.
type Canceller interface {
	RecordCancellation(relay string, subscriptionID string) bool
}

// Sender writes frames to relays.
type Sender interface {
	Send(ctx context.Context, relay string, frame []byte) error
}

// RelayStats are the frame counters of one relay.
type RelayStats struct {
	Received uint64
	Dropped  uint64
	Matched  uint64
	Queued   int
}

type relayQueue struct {
	queue *fifoqueue.FifoQueue[[]byte]

	mu      sync.Mutex
	running bool // a drain task is submitted or running

	received *atomic.Uint64
	dropped  *atomic.Uint64
	matched  *atomic.Uint64
}

// Router processes inbound frames. Frames are queued per relay and drained on a shared worker
// pool: frames of one relay are processed in arrival order, one at a time, while relays are
// processed in parallel. A slow sink or filter never blocks a relay's read loop.
//
// Events are forwarded to the sink if they cite a held subscription, are structurally valid,
// pass the subscription's filter pipeline and were not seen before. Events citing an unknown
// subscription cause one CLOSE per retention period and are never forwarded.
type Router struct {
	*component.ComponentManager
	log      zerolog.Logger
	config   Config
	ledger   Ledger
	cache    Deduplicator
	tracker  Canceller
	pipeline *filter.Pipeline
	sink     module.NotificationSink
	sender   Sender
	metrics  module.SubscriptionMetrics
	pool     *workerpool.WorkerPool

	ctx    context.Context
	mu     sync.Mutex
	queues map[string]*relayQueue

	// guards submissions against the pool being stopped
	poolMu  sync.RWMutex
	stopped bool
}

var _ component.Component = (*Router)(nil)

func New(
	log zerolog.Logger,
	config Config,
	ledger Ledger,
	cache Deduplicator,
	tracker Canceller,
	pipeline *filter.Pipeline,
	sink module.NotificationSink,
	sender Sender,
	collector module.SubscriptionMetrics,
) (*Router, error) {
	if config.Workers < 1 {
		return nil, fmt.Errorf("router needs at least one worker, got %d", config.Workers)
	}
	if config.QueueCapacity < 1 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", config.QueueCapacity)
	}

	r := &Router{
		log:      log.With().Str("component", "message_router").Logger(),
		config:   config,
		ledger:   ledger,
		cache:    cache,
		tracker:  tracker,
		pipeline: pipeline,
		sink:     sink,
		sender:   sender,
		metrics:  collector,
		pool:     workerpool.New(config.Workers),
		ctx:      context.Background(),
		queues:   make(map[string]*relayQueue),
	}
	r.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(r.run).
		Build()
	return r, nil
}

func (r *Router) run(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	ready()
	<-ctx.Done()

	r.poolMu.Lock()
	r.stopped = true
	r.poolMu.Unlock()
	r.pool.StopWait()
}

func (r *Router) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Router) queueFor(relay string) (*relayQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[relay]; ok {
		return q, nil
	}
	queue, err := fifoqueue.NewFifoQueue[[]byte](
		fifoqueue.WithCapacity(r.config.QueueCapacity),
		fifoqueue.WithLengthObserver(func(length int) { r.metrics.FrameQueueLength(relay, length) }),
	)
	if err != nil {
		return nil, err
	}
	q := &relayQueue{
		queue:    queue,
		received: atomic.NewUint64(0),
		dropped:  atomic.NewUint64(0),
		matched:  atomic.NewUint64(0),
	}
	r.queues[relay] = q
	return q, nil
}

// OnFrame queues a frame for processing. It never blocks; frames are dropped when the relay's
// queue is full.
func (r *Router) OnFrame(relay string, frame []byte) {
	q, err := r.queueFor(relay)
	if err != nil {
		r.log.Error().Err(err).Str("relay", relay).Msg("could not create frame queue")
		return
	}
	q.received.Inc()

	q.mu.Lock()
	if !q.queue.Push(frame) {
		q.mu.Unlock()
		q.dropped.Inc()
		r.metrics.EventDropped(metrics.DropReasonQueueOverloaded)
		r.log.Warn().Str("relay", relay).Int("capacity", r.config.QueueCapacity).Msg("frame queue full, dropping frame")
		return
	}
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	r.poolMu.RLock()
	defer r.poolMu.RUnlock()
	if r.stopped {
		return
	}
	r.pool.Submit(func() {
		r.drain(relay, q)
	})
}

// drain processes the relay's queued frames until the queue is empty.
func (r *Router) drain(relay string, q *relayQueue) {
	for {
		q.mu.Lock()
		frame, ok := q.queue.Pop()
		if !ok {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		r.process(relay, q, frame)
	}
}

func (r *Router) process(relay string, q *relayQueue, frame []byte) {
	matched, err := r.HandleFrame(r.context(), relay, frame)
	if matched {
		q.matched.Inc()
	}
	if err == nil {
		return
	}

	log := r.log.With().Str("relay", relay).Logger()
	switch {
	case nostr.IsProtocolError(err), nostr.IsValidationError(err):
		q.dropped.Inc()
		log.Debug().Err(err).Msg("frame discarded")
	case IsUnknownSubscriptionError(err):
		q.dropped.Inc()
		log.Debug().Err(err).Msg("frame for unknown subscription discarded")
	default:
		q.dropped.Inc()
		log.Error().Err(err).Msg("could not process frame")
	}
}

// HandleFrame decodes and processes one frame synchronously. It returns whether an event was
// forwarded to the sink.
//
// Expected errors during normal operations:
//   - nostr.ProtocolError if the frame is malformed
//   - nostr.ValidationError if the event is structurally invalid
//   - UnknownSubscriptionError if the frame cites a subscription not held on the relay
func (r *Router) HandleFrame(ctx context.Context, relay string, frame []byte) (bool, error) {
	envelope, err := nostr.ParseEnvelope(frame)
	if err != nil {
		r.metrics.EventDropped(metrics.DropReasonMalformedFrame)
		return false, err
	}

	switch env := envelope.(type) {
	case nostr.EventEnvelope:
		return r.handleEvent(ctx, relay, env)

	case nostr.EOSEEnvelope:
		if r.ledger.MarkLive(relay, env.SubscriptionID) {
			r.log.Debug().Str("relay", relay).Str("subscription_id", env.SubscriptionID).Msg("subscription is live")
		}
		return false, nil

	case nostr.ClosedEnvelope:
		if r.ledger.MarkClosedByRelay(relay, env.SubscriptionID, env.Reason) {
			r.log.Warn().
				Str("relay", relay).
				Str("subscription_id", env.SubscriptionID).
				Str("reason", env.Reason).
				Msg("relay closed subscription")
		}
		return false, nil

	case nostr.NoticeEnvelope:
		r.log.Info().Str("relay", relay).Str("notice", env.Message).Msg("relay notice")
		return false, nil

	case nostr.OKEnvelope:
		r.log.Debug().
			Str("relay", relay).
			Str("event_id", env.EventID).
			Bool("accepted", env.Accepted).
			Str("message", env.Message).
			Msg("relay acknowledged event")
		return false, nil

	default:
		return false, nostr.NewProtocolErrorf("unhandled frame label %q", envelope.Label())
	}
}

func (r *Router) handleEvent(ctx context.Context, relay string, env nostr.EventEnvelope) (bool, error) {
	config, ok := r.ledger.Lookup(relay, env.SubscriptionID)
	if !ok {
		r.metrics.EventDropped(metrics.DropReasonUnknownSub)
		cancelled := r.cancel(ctx, relay, env.SubscriptionID)
		return false, UnknownSubscriptionError{Relay: relay, SubscriptionID: env.SubscriptionID, Cancelled: cancelled}
	}

	ev, err := env.DecodeEvent()
	if err != nil {
		r.metrics.EventDropped(metrics.DropReasonMalformedFrame)
		return false, err
	}
	if err := ev.Validate(); err != nil {
		r.metrics.EventDropped(metrics.DropReasonInvalid)
		return false, err
	}

	// the relay delivered it, whether or not it matches
	r.ledger.AdvanceCursor(config.ID, relay, ev.CreatedAt)

	result := r.pipeline.Match(&config, &ev)
	if !result.Matched {
		r.metrics.EventDropped(metrics.DropReasonNoMatch)
		r.log.Trace().
			Str("relay", relay).
			Str("config_id", config.ID).
			Str("event_id", ev.ID).
			Str("stage", result.RejectedBy).
			Msg("event filtered out")
		return false, nil
	}

	if r.cache.Seen(ev.ID) {
		r.metrics.EventDropped(metrics.DropReasonDuplicate)
		return false, nil
	}

	r.sink.OnMatchedEvent(config, ev)
	r.metrics.EventMatched(config.ID)
	return true, nil
}

// cancel sends CLOSE for a stray subscription unless one was sent within the retention period.
func (r *Router) cancel(ctx context.Context, relay string, subscriptionID string) bool {
	if !r.tracker.RecordCancellation(relay, subscriptionID) {
		return false
	}

	log := r.log.With().Str("relay", relay).Str("subscription_id", subscriptionID).Logger()
	frame, err := nostr.EncodeClose(subscriptionID)
	if err != nil {
		log.Error().Err(err).Msg("could not encode CLOSE")
		return false
	}
	if err := r.sender.Send(ctx, relay, frame); err != nil {
		// the relay drops its subscriptions with the connection
		log.Debug().Err(err).Msg("could not cancel stray subscription")
		return true
	}
	r.metrics.SubscriptionCancelled(relay)
	log.Info().Msg("cancelled stray subscription")
	return true
}

// Forget drops the queue and counters of a relay that is no longer used.
func (r *Router) Forget(relay string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, relay)
	r.metrics.FrameQueueRemoved(relay)
}

// Stats returns the frame counters of the relay.
func (r *Router) Stats(relay string) RelayStats {
	r.mu.Lock()
	q, ok := r.queues[relay]
	r.mu.Unlock()
	if !ok {
		return RelayStats{}
	}
	return RelayStats{
		Received: q.received.Load(),
		Dropped:  q.dropped.Load(),
		Matched:  q.matched.Load(),
		Queued:   q.queue.Len(),
	}
}

// Relays returns the relays with frame counters, sorted.
func (r *Router) Relays() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	relays := make([]string, 0, len(r.queues))
	for relay := range r.queues {
		relays = append(relays, relay)
	}
	sort.Strings(relays)
	return relays
}
