package health_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/module/health"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/power"
	"github.com/relaywatch/relaywatch/network/relay"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

type mockConnections struct {
	mock.Mock
}

func (m *mockConnections) Statuses() []relay.EndpointStatus {
	args := m.Called()
	return args.Get(0).([]relay.EndpointStatus)
}

func (m *mockConnections) ResetAttempts(url string) {
	m.Called(url)
}

func (m *mockConnections) Reconnect(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

type mockPending struct {
	mock.Mock
}

func (m *mockPending) RequestPending(ctx context.Context, relay string) int {
	args := m.Called(ctx, relay)
	return args.Int(0)
}

func foregroundPolicy(checkInterval time.Duration) *power.Policy {
	return power.NewPolicy(power.Foreground, map[power.Mode]power.Timings{
		power.Foreground: {PingInterval: time.Minute, HealthThreshold: 90 * time.Second, HealthCheckInterval: checkInterval},
		power.LowPower:   {PingInterval: time.Minute, HealthThreshold: 90 * time.Second, HealthCheckInterval: time.Hour},
	})
}

func TestRunCheck(t *testing.T) {
	now := time.Now()
	healthy := relay.EndpointStatus{URL: "wss://healthy.example", State: relay.Connected, ConnectedAt: now.Add(-time.Hour), LastActivity: now}
	stale := relay.EndpointStatus{URL: "wss://stale.example", State: relay.Connected, ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)}
	dead := relay.EndpointStatus{URL: "wss://dead.example", State: relay.Reconnecting, Attempts: 40, FailingSince: now.Add(-time.Hour)}
	retrying := relay.EndpointStatus{URL: "wss://retrying.example", State: relay.Reconnecting, Attempts: 1, FailingSince: now}

	connections := &mockConnections{}
	pending := &mockPending{}
	connections.On("Statuses").Return([]relay.EndpointStatus{healthy, stale, dead, retrying})

	reconnected := make(chan string, 2)
	for _, url := range []string{stale.URL, dead.URL} {
		connections.On("ResetAttempts", url).Once()
		connections.On("Reconnect", mock.Anything, url).
			Run(func(args mock.Arguments) { reconnected <- args.String(1) }).
			Return(nil).Once()
	}
	pending.On("RequestPending", mock.Anything, healthy.URL).Return(2).Once()

	orchestrator := health.NewOrchestrator(unittest.Logger(), health.DefaultConfig(), connections, pending, foregroundPolicy(time.Hour), metrics.NewNoopCollector())
	report := orchestrator.RunCheck(context.Background())

	require.Len(t, report.Relays, 4)
	verdicts := make(map[string]health.RelayReport)
	for _, entry := range report.Relays {
		verdicts[entry.URL] = entry
	}
	assert.Equal(t, health.Healthy, verdicts[healthy.URL].Verdict)
	assert.Equal(t, 2, verdicts[healthy.URL].Requested)
	assert.Equal(t, health.Stale, verdicts[stale.URL].Verdict)
	assert.True(t, verdicts[stale.URL].Recovering)
	assert.Equal(t, health.Dead, verdicts[dead.URL].Verdict)
	assert.True(t, verdicts[dead.URL].Recovering)
	assert.Equal(t, health.Healthy, verdicts[retrying.URL].Verdict)
	assert.False(t, verdicts[retrying.URL].Recovering)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case url := <-reconnected:
			got[url] = true
		case <-time.After(unittest.DefaultTimeout):
			t.Fatal("reconnect not started")
		}
	}
	assert.Equal(t, map[string]bool{stale.URL: true, dead.URL: true}, got)

	connections.AssertExpectations(t)
	pending.AssertExpectations(t)
}

func TestRunCheckDoesNotOverlapReconnects(t *testing.T) {
	now := time.Now()
	stale := relay.EndpointStatus{URL: "wss://stale.example", State: relay.Connected, ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)}

	connections := &mockConnections{}
	connections.On("Statuses").Return([]relay.EndpointStatus{stale})
	connections.On("ResetAttempts", stale.URL)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	connections.On("Reconnect", mock.Anything, stale.URL).
		Run(func(mock.Arguments) {
			started <- struct{}{}
			<-release
		}).
		Return(nil)

	orchestrator := health.NewOrchestrator(unittest.Logger(), health.DefaultConfig(), connections, &mockPending{}, foregroundPolicy(time.Hour), metrics.NewNoopCollector())

	first := orchestrator.RunCheck(context.Background())
	require.True(t, first.Relays[0].Recovering)
	select {
	case <-started:
	case <-time.After(unittest.DefaultTimeout):
		t.Fatal("reconnect not started")
	}

	// the relay still looks stale while the first reconnect runs
	second := orchestrator.RunCheck(context.Background())
	assert.False(t, second.Relays[0].Recovering)
	close(release)

	// once the reconnect finished, the next check may recover again
	require.Eventually(t, func() bool {
		return orchestrator.RunCheck(context.Background()).Relays[0].Recovering
	}, unittest.DefaultTimeout, 10*time.Millisecond)
	connections.AssertNumberOfCalls(t, "ResetAttempts", 2)
}

// countingConnections counts health checks through the calls to Statuses.
type countingConnections struct {
	mu     sync.Mutex
	checks int
}

func (c *countingConnections) Statuses() []relay.EndpointStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return nil
}

func (c *countingConnections) Checks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

func (c *countingConnections) ResetAttempts(string) {}

func (c *countingConnections) Reconnect(context.Context, string) error { return nil }

func TestCheckLoopFollowsPowerState(t *testing.T) {
	connections := &countingConnections{}
	policy := foregroundPolicy(20 * time.Millisecond)
	orchestrator := health.NewOrchestrator(unittest.Logger(), health.DefaultConfig(), connections, &mockPending{}, policy, metrics.NewNoopCollector())

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	defer cancel()
	orchestrator.Start(ctx)
	unittest.RequireCloseBefore(t, orchestrator.Ready(), unittest.DefaultTimeout)

	require.Eventually(t, func() bool {
		return connections.Checks() >= 3
	}, unittest.DefaultTimeout, 5*time.Millisecond)

	// low power checks hourly
	require.True(t, policy.SetMode(power.LowPower))
	time.Sleep(50 * time.Millisecond)
	checks := connections.Checks()
	require.Never(t, func() bool {
		return connections.Checks() > checks
	}, 200*time.Millisecond, 10*time.Millisecond)

	cancel()
	unittest.RequireCloseBefore(t, orchestrator.Done(), unittest.DefaultTimeout)
}
