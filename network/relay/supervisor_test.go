package relay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/power"
	"github.com/relaywatch/relaywatch/network/relay"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

// recordingHandler records connection events and frames per relay.
type recordingHandler struct {
	mu        sync.Mutex
	connected map[string]int
	frames    map[string][]string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected: make(map[string]int),
		frames:    make(map[string][]string),
	}
}

func (h *recordingHandler) OnConnected(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected[url]++
}

func (h *recordingHandler) OnFrame(url string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames[url] = append(h.frames[url], string(frame))
}

func (h *recordingHandler) Connected(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected[url]
}

func (h *recordingHandler) Frames(url string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames[url]...)
}

func testConfig() relay.Config {
	config := relay.DefaultConfig()
	config.DialTimeout = time.Second
	config.WriteTimeout = time.Second
	config.BackoffBase = 20 * time.Millisecond
	config.BackoffCap = 100 * time.Millisecond
	config.MaxFramesPerSecond = 0
	return config
}

func testPolicy(pingInterval time.Duration) *power.Policy {
	return power.NewPolicy(power.Foreground, map[power.Mode]power.Timings{
		power.Foreground: {
			PingInterval:        pingInterval,
			HealthThreshold:     3 * pingInterval,
			HealthCheckInterval: pingInterval,
		},
	})
}

// startSupervisor starts a supervisor which is stopped when the test ends.
func startSupervisor(t *testing.T, dialer relay.Dialer, pingInterval time.Duration) (*relay.Supervisor, *recordingHandler) {
	supervisor, err := relay.NewSupervisor(
		unittest.Logger(),
		testConfig(),
		dialer,
		testPolicy(pingInterval),
		metrics.NewNoopCollector(),
	)
	require.NoError(t, err)
	handler := newRecordingHandler()
	supervisor.RegisterHandler(handler)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	supervisor.Start(ctx)
	unittest.RequireCloseBefore(t, supervisor.Ready(), unittest.DefaultTimeout, "supervisor not ready")
	t.Cleanup(func() {
		cancel()
		unittest.RequireCloseBefore(t, supervisor.Done(), unittest.DefaultTimeout, "supervisor did not stop")
	})
	return supervisor, handler
}

func websocketDialer() relay.Dialer {
	return relay.NewWebsocketDialer(time.Second, "relaywatch-test")
}

func requireState(t *testing.T, supervisor *relay.Supervisor, url string, state relay.State) {
	require.Eventually(t, func() bool {
		status, ok := supervisor.Status(url)
		return ok && status.State == state
	}, unittest.DefaultTimeout, 5*time.Millisecond, "relay %s never reached state %s", url, state)
}

func TestConnectAndSend(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, handler := startSupervisor(t, websocketDialer(), time.Minute)

	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))

	status, ok := supervisor.Status(fake.URL)
	require.True(t, ok)
	assert.Equal(t, relay.Connected, status.State)
	assert.Equal(t, 0, status.Attempts)
	assert.False(t, status.ConnectedAt.IsZero())
	assert.Equal(t, 1, handler.Connected(fake.URL))

	frame, err := nostr.EncodeReq("sub", nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	require.NoError(t, supervisor.Send(context.Background(), fake.URL, frame))

	req := fake.RequireReq("sub", unittest.DefaultTimeout)
	require.Len(t, req.Filters, 1)
	assert.Equal(t, []int{1}, req.Filters[0].Kinds)
}

func TestConnectIsIdempotent(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, handler := startSupervisor(t, websocketDialer(), time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, supervisor.Connect(context.Background(), fake.URL))
	}

	assert.Equal(t, int64(1), fake.Accepted())
	assert.Equal(t, 1, handler.Connected(fake.URL))
}

func TestSendRequiresConnection(t *testing.T) {
	supervisor, _ := startSupervisor(t, websocketDialer(), time.Minute)

	t.Run("unknown relay", func(t *testing.T) {
		err := supervisor.Send(context.Background(), "ws://unknown.example", []byte(`["CLOSE","x"]`))
		require.Error(t, err)
		assert.True(t, relay.IsTransportError(err))
		assert.ErrorIs(t, err, relay.ErrUnknownRelay)
	})

	t.Run("disconnected relay", func(t *testing.T) {
		fake := unittest.NewFakeRelay(t)
		require.NoError(t, supervisor.Connect(context.Background(), fake.URL))
		supervisor.Disconnect(fake.URL)

		err := supervisor.Send(context.Background(), fake.URL, []byte(`["CLOSE","x"]`))
		require.Error(t, err)
		assert.True(t, relay.IsTransportError(err))
		assert.ErrorIs(t, err, relay.ErrNotConnected)
	})
}

func TestFailedConnectIsRetried(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	fake.SetRejecting(true)
	supervisor, handler := startSupervisor(t, websocketDialer(), time.Minute)

	err := supervisor.Connect(context.Background(), fake.URL)
	require.Error(t, err)
	assert.True(t, relay.IsTransportError(err))

	status, ok := supervisor.Status(fake.URL)
	require.True(t, ok)
	assert.Equal(t, relay.Reconnecting, status.State)
	assert.GreaterOrEqual(t, status.Attempts, 1)
	assert.False(t, status.FailingSince.IsZero())
	assert.NotEmpty(t, status.LastError)

	// the retry timer keeps trying until the relay accepts
	require.Eventually(t, func() bool {
		status, _ := supervisor.Status(fake.URL)
		return status.Attempts >= 2
	}, unittest.DefaultTimeout, 5*time.Millisecond)
	fake.SetRejecting(false)

	requireState(t, supervisor, fake.URL, relay.Connected)
	status, _ = supervisor.Status(fake.URL)
	assert.Equal(t, 0, status.Attempts)
	assert.True(t, status.FailingSince.IsZero())
	assert.Empty(t, status.LastError)
	assert.Equal(t, 1, handler.Connected(fake.URL))
}

func TestLostConnectionIsReestablished(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, handler := startSupervisor(t, websocketDialer(), time.Minute)
	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))

	fake.DropConnections()

	require.Eventually(t, func() bool {
		return handler.Connected(fake.URL) == 2
	}, unittest.DefaultTimeout, 5*time.Millisecond)
	requireState(t, supervisor, fake.URL, relay.Connected)
	assert.Equal(t, int64(2), fake.Accepted())
}

func TestDisconnect(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, _ := startSupervisor(t, websocketDialer(), time.Minute)
	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))
	require.Eventually(t, func() bool {
		return fake.Connections() == 1
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	supervisor.Disconnect(fake.URL)

	status, ok := supervisor.Status(fake.URL)
	require.True(t, ok)
	assert.Equal(t, relay.Disconnected, status.State)
	require.Eventually(t, func() bool {
		return fake.Connections() == 0
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	// idempotent, and a disconnected relay is not reconnected
	supervisor.Disconnect(fake.URL)
	supervisor.Disconnect("ws://never-connected.example")
	require.Never(t, func() bool {
		return fake.Accepted() > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	fake.SetRejecting(true)
	supervisor, _ := startSupervisor(t, websocketDialer(), time.Minute)

	require.Error(t, supervisor.Connect(context.Background(), fake.URL))
	supervisor.Disconnect(fake.URL)
	fake.SetRejecting(false)

	require.Never(t, func() bool {
		return fake.Accepted() > 0
	}, 300*time.Millisecond, 10*time.Millisecond)
	status, _ := supervisor.Status(fake.URL)
	assert.Equal(t, relay.Disconnected, status.State)
}

// blockingDialer never completes a handshake before the attempt is cancelled.
type blockingDialer struct {
	dialing chan struct{}
	once    sync.Once
}

func (d *blockingDialer) Dial(ctx context.Context, _ string) (relay.Connection, error) {
	d.once.Do(func() { close(d.dialing) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDisconnectAbortsConnectInProgress(t *testing.T) {
	dialer := &blockingDialer{dialing: make(chan struct{})}
	supervisor, handler := startSupervisor(t, dialer, time.Minute)
	url := "ws://slow.example"

	result := make(chan error, 1)
	go func() {
		result <- supervisor.Connect(context.Background(), url)
	}()
	unittest.RequireCloseBefore(t, dialer.dialing, unittest.DefaultTimeout, "dial never started")
	requireState(t, supervisor, url, relay.Connecting)

	supervisor.Disconnect(url)

	select {
	case err := <-result:
		require.Error(t, err)
		assert.ErrorIs(t, err, relay.ErrConnectAborted)
	case <-time.After(unittest.DefaultTimeout):
		t.Fatal("connect did not abort")
	}
	status, _ := supervisor.Status(url)
	assert.Equal(t, relay.Disconnected, status.State)
	assert.Equal(t, 0, handler.Connected(url))
}

func TestRelaysFailIndependently(t *testing.T) {
	healthy := unittest.NewFakeRelay(t)
	failing := unittest.NewFakeRelay(t)
	failing.SetRejecting(true)
	supervisor, _ := startSupervisor(t, websocketDialer(), time.Minute)

	err := supervisor.Retain(context.Background(), []string{healthy.URL, failing.URL})
	require.Error(t, err)
	assert.True(t, relay.IsTransportError(err))

	require.Eventually(t, func() bool {
		status, _ := supervisor.Status(failing.URL)
		return status.Attempts >= 3
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	status, _ := supervisor.Status(healthy.URL)
	assert.Equal(t, relay.Connected, status.State)
	assert.Equal(t, 0, status.Attempts)
	assert.Equal(t, int64(1), healthy.Accepted())
}

func TestRetainRemovesUnlistedRelays(t *testing.T) {
	kept := unittest.NewFakeRelay(t)
	dropped := unittest.NewFakeRelay(t)
	supervisor, _ := startSupervisor(t, websocketDialer(), time.Minute)

	require.NoError(t, supervisor.Retain(context.Background(), []string{kept.URL, dropped.URL}))
	require.Len(t, supervisor.Statuses(), 2)

	require.NoError(t, supervisor.Retain(context.Background(), []string{kept.URL}))

	statuses := supervisor.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, kept.URL, statuses[0].URL)
	_, ok := supervisor.Status(dropped.URL)
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		return dropped.Connections() == 0
	}, unittest.DefaultTimeout, 5*time.Millisecond)
}

func TestFramesAreDeliveredInOrder(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, handler := startSupervisor(t, websocketDialer(), time.Minute)
	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))
	require.Eventually(t, func() bool {
		return fake.Connections() == 1
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	const count = 100
	expected := make([]string, 0, count)
	for i := 0; i < count; i++ {
		frame := fmt.Sprintf(`["NOTICE","message %d"]`, i)
		expected = append(expected, frame)
		fake.Send([]byte(frame))
	}

	require.Eventually(t, func() bool {
		return len(handler.Frames(fake.URL)) == count
	}, unittest.DefaultTimeout, 5*time.Millisecond)
	assert.Equal(t, expected, handler.Frames(fake.URL))

	status, _ := supervisor.Status(fake.URL)
	assert.False(t, status.LastActivity.IsZero())
}

func TestKeepalive(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, _ := startSupervisor(t, websocketDialer(), 20*time.Millisecond)
	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))

	require.Eventually(t, func() bool {
		status, _ := supervisor.Status(fake.URL)
		return !status.LastPong.IsZero()
	}, unittest.DefaultTimeout, 5*time.Millisecond, "no pong received")

	// a silent relay stops answering pings
	fake.SetSilent(true)
	require.Eventually(t, func() bool {
		status, _ := supervisor.Status(fake.URL)
		return status.AwaitingPong() && time.Since(status.LastPong) > 100*time.Millisecond
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	status, _ := supervisor.Status(fake.URL)
	assert.Equal(t, relay.Connected, status.State, "a silent relay still looks connected at the transport layer")
}

func TestStopDisconnectsEverything(t *testing.T) {
	fake := unittest.NewFakeRelay(t)
	supervisor, err := relay.NewSupervisor(unittest.Logger(), testConfig(), websocketDialer(), testPolicy(time.Minute), metrics.NewNoopCollector())
	require.NoError(t, err)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	supervisor.Start(ctx)
	unittest.RequireCloseBefore(t, supervisor.Ready(), unittest.DefaultTimeout)
	require.NoError(t, supervisor.Connect(context.Background(), fake.URL))

	cancel()
	unittest.RequireCloseBefore(t, supervisor.Done(), unittest.DefaultTimeout)

	status, _ := supervisor.Status(fake.URL)
	assert.Equal(t, relay.Disconnected, status.State)
	err = supervisor.Connect(context.Background(), fake.URL)
	assert.Error(t, err)
}

func TestConnectBeforeStart(t *testing.T) {
	supervisor, err := relay.NewSupervisor(unittest.Logger(), testConfig(), websocketDialer(), testPolicy(time.Minute), metrics.NewNoopCollector())
	require.NoError(t, err)

	err = supervisor.Connect(context.Background(), "ws://relay.example")
	assert.True(t, errors.Is(err, relay.ErrNotStarted))
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]func(*relay.Config){
		"zero backoff base":     func(c *relay.Config) { c.BackoffBase = 0 },
		"negative backoff base": func(c *relay.Config) { c.BackoffBase = -time.Second },
		"cap below base":        func(c *relay.Config) { c.BackoffCap = c.BackoffBase / 2 },
		"zero dial timeout":     func(c *relay.Config) { c.DialTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := testConfig()
			mutate(&config)
			_, err := relay.NewSupervisor(unittest.Logger(), config, websocketDialer(), testPolicy(time.Minute), metrics.NewNoopCollector())
			require.Error(t, err)
			assert.True(t, relay.IsInvalidConfigError(err))
		})
	}

	_, err := relay.NewSupervisor(unittest.Logger(), testConfig(), websocketDialer(), testPolicy(time.Minute), metrics.NewNoopCollector())
	require.NoError(t, err)
}
