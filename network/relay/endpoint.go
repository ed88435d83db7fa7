package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// endpoint is the connection to a single relay. Its state transitions happen under mu; distinct
// endpoints never share a lock.
type endpoint struct {
	url     string
	limiter *rate.Limiter

	mu sync.Mutex
	// gen changes on every connection attempt and on every disconnect. Attempts, sessions and
	// timers remember the generation they belong to and give up once it moved on.
	gen           uint64
	state         State
	conn          Connection
	cancelAttempt context.CancelFunc
	cancelSession context.CancelFunc
	sessionDone   chan struct{}
	timer         *time.Timer
	backoff       retry.Backoff
	attempts      int
	failingSince  time.Time
	connectedAt   time.Time
	lastError     string

	// written by the session goroutines, read by health checks
	lastActivity *atomic.Time
	lastPingSent *atomic.Time
	lastPong     *atomic.Time

	// serializes frame writes, gorilla connections support a single concurrent writer
	writeMu sync.Mutex
}

func newEndpoint(url string, config Config, backoff retry.Backoff) *endpoint {
	limit := rate.Inf
	if config.MaxFramesPerSecond > 0 {
		limit = rate.Limit(config.MaxFramesPerSecond)
	}
	burst := config.FrameBurst
	if burst < 1 {
		burst = 1
	}
	return &endpoint{
		url:          url,
		limiter:      rate.NewLimiter(limit, burst),
		state:        Disconnected,
		backoff:      backoff,
		lastActivity: atomic.NewTime(time.Time{}),
		lastPingSent: atomic.NewTime(time.Time{}),
		lastPong:     atomic.NewTime(time.Time{}),
	}
}

// stopTimerLocked cancels a pending reconnect. Caller must hold mu.
func (e *endpoint) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// recordFailureLocked books a failed attempt or a lost connection. Caller must hold mu.
func (e *endpoint) recordFailureLocked(err error, now time.Time) {
	if e.failingSince.IsZero() {
		e.failingSince = now
	}
	if err != nil {
		e.lastError = err.Error()
	}
}

func (e *endpoint) awaitingPong() bool {
	sent := e.lastPingSent.Load()
	return !sent.IsZero() && e.lastPong.Load().Before(sent)
}

func (e *endpoint) status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		URL:          e.url,
		State:        e.state,
		Attempts:     e.attempts,
		FailingSince: e.failingSince,
		ConnectedAt:  e.connectedAt,
		LastActivity: e.lastActivity.Load(),
		LastPingSent: e.lastPingSent.Load(),
		LastPong:     e.lastPong.Load(),
		LastError:    e.lastError,
	}
}
