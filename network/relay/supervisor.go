package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
)

// Handler receives what the supervisor reads from relays.
type Handler interface {
	// OnConnected is called after a connection to the relay was established, before any frame
	// of that connection is delivered to OnFrame. It may Send but must not Disconnect.
	OnConnected(relay string)
	// OnFrame is called on the relay's read loop for every inbound text frame, in arrival
	// order. It must not block.
	OnFrame(relay string, frame []byte)
}

type noopHandler struct{}

func (noopHandler) OnConnected(string)     {}
func (noopHandler) OnFrame(string, []byte) {}

// Supervisor owns one connection per relay url. Connections are opened on request and, once
// requested, kept open until Disconnect: failed attempts and lost connections are retried
// forever with capped exponential backoff.
//
// Each connection runs its own read loop and keepalive, so a slow or failing relay never
// affects another.
type Supervisor struct {
	*component.ComponentManager
	log     zerolog.Logger
	config  Config
	dialer  Dialer
	policy  module.PowerStatePolicy
	metrics module.RelayMetrics
	handler Handler

	mu        sync.Mutex
	ctx       context.Context // set once the supervisor is started
	endpoints map[string]*endpoint
}

var _ component.Component = (*Supervisor)(nil)

func NewSupervisor(
	log zerolog.Logger,
	config Config,
	dialer Dialer,
	policy module.PowerStatePolicy,
	collector module.RelayMetrics,
) (*Supervisor, error) {
	// fail early on an invalid backoff configuration
	if _, err := newBackoff(config); err != nil {
		return nil, err
	}
	if config.DialTimeout <= 0 || config.WriteTimeout <= 0 {
		return nil, NewInvalidConfigErrorf("dial and write timeouts must be positive")
	}

	s := &Supervisor{
		log:       log.With().Str("component", "relay_supervisor").Logger(),
		config:    config,
		dialer:    dialer,
		policy:    policy,
		metrics:   collector,
		handler:   noopHandler{},
		endpoints: make(map[string]*endpoint),
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s, nil
}

// RegisterHandler sets the receiver of connection events and inbound frames.
// Must be called before the supervisor is started.
func (s *Supervisor) RegisterHandler(handler Handler) {
	s.handler = handler
}

func (s *Supervisor) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ready()
	<-ctx.Done()

	for _, url := range s.URLs() {
		s.Disconnect(url)
	}
	s.log.Debug().Msg("all relays disconnected")
}

func (s *Supervisor) runContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil, ErrNotStarted
	}
	if s.ctx.Err() != nil {
		return nil, component.ErrComponentShutdown
	}
	return s.ctx, nil
}

func (s *Supervisor) lookup(url string) *endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[url]
}

func (s *Supervisor) endpointFor(url string) (*endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep, ok := s.endpoints[url]; ok {
		return ep, nil
	}
	backoff, err := newBackoff(s.config)
	if err != nil {
		return nil, err
	}
	ep := newEndpoint(url, s.config, backoff)
	s.endpoints[url] = ep
	return ep, nil
}

// setStateLocked transitions the endpoint. Caller must hold ep.mu.
func (s *Supervisor) setStateLocked(ep *endpoint, state State) {
	if ep.state == state {
		return
	}
	ep.state = state
	s.metrics.ConnectionState(ep.url, state.String())
}

// Connect opens the connection to the relay and blocks until the handshake succeeded or failed.
// It is a no-op if the relay is connected or a connection attempt is in progress. A failed
// attempt schedules a retry.
//
// Expected errors during normal operations:
//   - TransportError if the connection could not be established, or the attempt was aborted
//     by a concurrent Disconnect (wrapping ErrConnectAborted)
//   - ErrNotStarted, component.ErrComponentShutdown outside the supervisor's lifetime
func (s *Supervisor) Connect(ctx context.Context, url string) error {
	return s.connect(ctx, url, nil)
}

// connect runs one connection attempt. A retry timer passes the generation it was scheduled
// for; the attempt is skipped if the endpoint moved on since.
func (s *Supervisor) connect(ctx context.Context, url string, timerGen *uint64) error {
	runCtx, err := s.runContext()
	if err != nil {
		return err
	}
	ep, err := s.endpointFor(url)
	if err != nil {
		return err
	}
	log := s.log.With().Str("relay", url).Logger()

	ep.mu.Lock()
	if timerGen != nil && (*timerGen != ep.gen || ep.state != Reconnecting) {
		ep.mu.Unlock()
		return nil
	}
	if ep.state == Connected || ep.state == Connecting {
		ep.mu.Unlock()
		return nil
	}
	ep.stopTimerLocked()
	ep.gen++
	gen := ep.gen
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	ep.cancelAttempt = cancel
	s.setStateLocked(ep, Connecting)
	ep.mu.Unlock()

	conn, dialErr := s.dialer.Dial(attemptCtx, url)
	cancel()

	ep.mu.Lock()
	if ep.gen != gen || ep.state != Connecting {
		ep.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		log.Debug().Msg("connection attempt aborted by disconnect")
		return NewTransportError(url, "connect", ErrConnectAborted)
	}
	ep.cancelAttempt = nil
	now := time.Now()

	if dialErr != nil {
		ep.attempts++
		ep.recordFailureLocked(dialErr, now)
		attempts := ep.attempts
		delay := s.scheduleRetryLocked(ep)
		ep.mu.Unlock()

		s.metrics.ConnectAttempt(url, false)
		log.Warn().Err(dialErr).
			Int("attempts", attempts).
			Dur("retry_in", delay).
			Msg("could not connect to relay")
		return NewTransportError(url, "connect", dialErr)
	}

	ep.conn = conn
	ep.attempts = 0
	ep.failingSince = time.Time{}
	ep.lastError = ""
	ep.connectedAt = now
	ep.backoff, _ = newBackoff(s.config)
	ep.lastActivity.Store(now)
	ep.lastPingSent.Store(time.Time{})
	ep.lastPong.Store(time.Time{})
	sessionCtx, cancelSession := context.WithCancel(runCtx)
	ep.cancelSession = cancelSession
	done := make(chan struct{})
	ep.sessionDone = done
	s.setStateLocked(ep, Connected)
	ep.mu.Unlock()

	s.metrics.ConnectAttempt(url, true)
	log.Info().Msg("connected to relay")

	// the handler sees the connection before its first frame
	s.handler.OnConnected(url)
	go s.runSession(sessionCtx, ep, gen, conn, done)
	return nil
}

// scheduleRetryLocked moves the endpoint to Reconnecting and arms the retry timer.
// Caller must hold ep.mu.
func (s *Supervisor) scheduleRetryLocked(ep *endpoint) time.Duration {
	s.setStateLocked(ep, Reconnecting)
	ep.stopTimerLocked()
	delay := nextDelay(ep.backoff, s.config.BackoffCap)
	gen := ep.gen
	url := ep.url
	ep.timer = time.AfterFunc(delay, func() {
		ctx, err := s.runContext()
		if err != nil {
			return
		}
		_ = s.connect(ctx, url, &gen)
	})
	return delay
}

// Disconnect closes the connection to the relay and cancels a pending retry or an in-progress
// connection attempt. It returns once the connection's read loop has exited. Disconnecting a
// relay that is not connected is a no-op.
func (s *Supervisor) Disconnect(url string) {
	ep := s.lookup(url)
	if ep == nil {
		return
	}

	ep.mu.Lock()
	if ep.state == Disconnected {
		ep.mu.Unlock()
		return
	}
	ep.gen++
	ep.stopTimerLocked()
	if ep.cancelAttempt != nil {
		ep.cancelAttempt()
		ep.cancelAttempt = nil
	}
	conn := ep.conn
	cancelSession := ep.cancelSession
	done := ep.sessionDone
	ep.conn = nil
	ep.cancelSession = nil
	ep.sessionDone = nil
	s.setStateLocked(ep, Disconnected)
	ep.mu.Unlock()

	if conn != nil {
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if cancelSession != nil {
		cancelSession()
	}
	if done != nil {
		<-done
	}
	s.log.Info().Str("relay", url).Msg("disconnected from relay")
}

// Reconnect drops the current connection, if any, and connects again immediately.
func (s *Supervisor) Reconnect(ctx context.Context, url string) error {
	s.Disconnect(url)
	return s.Connect(ctx, url)
}

// ResetAttempts clears the failed attempt counter and restarts the backoff from its base delay.
// The start of the current failure streak is kept.
func (s *Supervisor) ResetAttempts(url string) {
	ep := s.lookup(url)
	if ep == nil {
		return
	}
	backoff, err := newBackoff(s.config)
	if err != nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.attempts = 0
	ep.backoff = backoff
}

// Remove disconnects the relay and forgets it.
func (s *Supervisor) Remove(url string) {
	s.Disconnect(url)
	s.mu.Lock()
	delete(s.endpoints, url)
	s.mu.Unlock()
	s.metrics.RelayRemoved(url)
}

// Retain makes the supervisor hold exactly the given relays: relays not listed are removed,
// listed relays are connected in parallel. It returns once every attempt has completed; the
// returned error aggregates the attempts that failed, each of which is retried in the background.
func (s *Supervisor) Retain(ctx context.Context, urls []string) error {
	desired := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		desired[url] = struct{}{}
	}
	for _, url := range s.URLs() {
		if _, ok := desired[url]; !ok {
			s.Remove(url)
		}
	}

	var group multierror.Group
	for url := range desired {
		url := url
		group.Go(func() error {
			return s.Connect(ctx, url)
		})
	}
	return group.Wait().ErrorOrNil()
}

// Send writes a frame to the relay, waiting for the relay's outbound rate limit. A failed write
// drops the connection, which is then retried.
//
// Expected errors during normal operations:
//   - TransportError if the relay is not connected (wrapping ErrNotConnected) or the write failed
func (s *Supervisor) Send(ctx context.Context, url string, frame []byte) error {
	ep := s.lookup(url)
	if ep == nil {
		return NewTransportError(url, "send to", ErrUnknownRelay)
	}

	ep.mu.Lock()
	if ep.state != Connected {
		ep.mu.Unlock()
		return NewTransportError(url, "send to", ErrNotConnected)
	}
	conn := ep.conn
	cancelSession := ep.cancelSession
	ep.mu.Unlock()

	if err := ep.limiter.Wait(ctx); err != nil {
		return NewTransportError(url, "send to", err)
	}

	ep.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, frame)
	ep.writeMu.Unlock()
	if err != nil {
		cancelSession()
		return NewTransportError(url, "send to", err)
	}

	s.metrics.FrameSent(url, frameLabel(frame))
	return nil
}

// Status returns the current status of the relay.
func (s *Supervisor) Status(url string) (EndpointStatus, bool) {
	ep := s.lookup(url)
	if ep == nil {
		return EndpointStatus{}, false
	}
	return ep.status(), true
}

// Statuses returns the status of every relay, ordered by url.
func (s *Supervisor) Statuses() []EndpointStatus {
	s.mu.Lock()
	endpoints := make([]*endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		endpoints = append(endpoints, ep)
	}
	s.mu.Unlock()

	statuses := make([]EndpointStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		statuses = append(statuses, ep.status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].URL < statuses[j].URL
	})
	return statuses
}

// URLs returns the urls of every relay held by the supervisor, in no particular order.
func (s *Supervisor) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.endpoints))
	for url := range s.endpoints {
		urls = append(urls, url)
	}
	return urls
}

// runSession runs the read loop and keepalive of a connection until either fails or the session
// is cancelled.
func (s *Supervisor) runSession(ctx context.Context, ep *endpoint, gen uint64, conn Connection, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(s.config.ReadLimit)
	conn.SetPongHandler(func(string) error {
		now := time.Now()
		ep.lastPong.Store(now)
		ep.lastActivity.Store(now)
		if sent := ep.lastPingSent.Load(); !sent.IsZero() {
			s.metrics.PongReceived(ep.url, now.Sub(sent))
		}
		return nil
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		// unblocks the read loop
		_ = conn.Close()
		return nil
	})
	group.Go(func() error {
		return s.readLoop(ep, conn)
	})
	group.Go(func() error {
		return s.keepalive(groupCtx, ep, conn)
	})
	err := group.Wait()

	s.sessionEnded(ep, gen, err)
}

func (s *Supervisor) readLoop(ep *endpoint, conn Connection) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		ep.lastActivity.Store(time.Now())
		if messageType != websocket.TextMessage {
			continue
		}
		s.metrics.FrameReceived(ep.url, frameLabel(data))
		s.handler.OnFrame(ep.url, data)
	}
}

func (s *Supervisor) keepalive(ctx context.Context, ep *endpoint, conn Connection) error {
	timer := time.NewTimer(s.policy.PingInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		now := time.Now()
		// keep the oldest unanswered ping, the pong timeout runs from there
		if !ep.awaitingPong() {
			ep.lastPingSent.Store(now)
		}
		err := conn.WriteControl(websocket.PingMessage, nil, now.Add(s.config.WriteTimeout))
		if err != nil {
			return fmt.Errorf("could not send ping: %w", err)
		}
		// the interval may change with the power state
		timer.Reset(s.policy.PingInterval())
	}
}

// sessionEnded schedules a reconnect unless the session was ended by Disconnect.
func (s *Supervisor) sessionEnded(ep *endpoint, gen uint64, err error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.gen != gen || ep.state != Connected {
		return
	}
	ep.conn = nil
	ep.cancelSession = nil
	ep.sessionDone = nil

	if _, runErr := s.runContext(); runErr != nil {
		s.setStateLocked(ep, Disconnected)
		return
	}

	ep.recordFailureLocked(err, time.Now())
	delay := s.scheduleRetryLocked(ep)
	s.log.Warn().Err(err).
		Str("relay", ep.url).
		Dur("retry_in", delay).
		Msg("relay connection lost")
}

// frameLabel returns the label of a frame without decoding the rest of it.
func frameLabel(frame []byte) string {
	dec := json.NewDecoder(bytes.NewReader(frame))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return "malformed"
	}
	tok, err := dec.Token()
	if err != nil {
		return "malformed"
	}
	label, ok := tok.(string)
	if !ok {
		return "malformed"
	}
	return label
}
