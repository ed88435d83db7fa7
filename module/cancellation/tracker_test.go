package cancellation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/relaywatch/relaywatch/module/cancellation"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/storage/codec"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

const relayA = "wss://a.example"
const relayB = "wss://b.example"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(t *testing.T, config cancellation.Config) (*cancellation.Tracker, *clock) {
	tracker, err := cancellation.New(unittest.Logger(), config, metrics.NewNoopCollector())
	require.NoError(t, err)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	tracker.SetClock(c.Now)
	return tracker, c
}

func TestRecordCancellation_Once(t *testing.T) {
	tracker, _ := newTracker(t, cancellation.DefaultConfig())

	assert.False(t, tracker.IsCancelled(relayA, "sub"))
	assert.True(t, tracker.RecordCancellation(relayA, "sub"))
	assert.False(t, tracker.RecordCancellation(relayA, "sub"))
	assert.True(t, tracker.IsCancelled(relayA, "sub"))

	// the same id on another relay is a different subscription
	assert.False(t, tracker.IsCancelled(relayB, "sub"))
	assert.True(t, tracker.RecordCancellation(relayB, "sub"))
}

func TestRecordCancellation_Concurrent(t *testing.T) {
	tracker, _ := newTracker(t, cancellation.DefaultConfig())

	closes := atomic.NewInt32(0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.RecordCancellation(relayA, "stray") {
				closes.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), closes.Load())
}

func TestRecordCancellation_ExpiresAfterRetention(t *testing.T) {
	config := cancellation.DefaultConfig()
	tracker, c := newTracker(t, config)

	require.True(t, tracker.RecordCancellation(relayA, "sub"))
	c.Advance(config.Retention)
	assert.True(t, tracker.IsCancelled(relayA, "sub"))

	c.Advance(time.Second)
	assert.False(t, tracker.IsCancelled(relayA, "sub"))
	assert.True(t, tracker.RecordCancellation(relayA, "sub"), "an expired cancellation allows a new CLOSE")
}

func TestCapacityEviction(t *testing.T) {
	config := cancellation.DefaultConfig()
	config.Capacity = 2
	tracker, _ := newTracker(t, config)

	tracker.RecordCancellation(relayA, "1")
	tracker.RecordCancellation(relayA, "2")
	tracker.RecordCancellation(relayA, "3")

	assert.Equal(t, 2, tracker.Len())
	assert.False(t, tracker.IsCancelled(relayA, "1"))
	assert.True(t, tracker.IsCancelled(relayA, "3"))
}

func TestSweep(t *testing.T) {
	config := cancellation.DefaultConfig()
	tracker, c := newTracker(t, config)

	tracker.RecordCancellation(relayA, "old-1")
	tracker.RecordCancellation(relayA, "old-2")
	c.Advance(config.Retention / 2)
	tracker.RecordCancellation(relayA, "recent")
	c.Advance(config.Retention/2 + time.Second)

	assert.Equal(t, 2, tracker.Sweep())
	assert.Equal(t, 1, tracker.Len())
	assert.True(t, tracker.IsCancelled(relayA, "recent"))
	assert.Equal(t, 0, tracker.Sweep())
}

func TestSweepWorker(t *testing.T) {
	config := cancellation.DefaultConfig()
	config.Retention = time.Millisecond
	config.SweepInterval = 10 * time.Millisecond
	tracker, err := cancellation.New(unittest.Logger(), config, metrics.NewNoopCollector())
	require.NoError(t, err)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	tracker.Start(ctx)
	unittest.RequireCloseBefore(t, tracker.Ready(), time.Second)

	tracker.RecordCancellation(relayA, "sub")
	require.Eventually(t, func() bool {
		return tracker.Len() == 0
	}, time.Second, 5*time.Millisecond, "sweep worker did not remove expired entry")

	cancel()
	unittest.RequireCloseBefore(t, tracker.Done(), time.Second)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	config := cancellation.DefaultConfig()
	tracker, c := newTracker(t, config)
	tracker.RecordCancellation(relayA, "expired")
	c.Advance(config.Retention)
	tracker.RecordCancellation(relayA, "fresh")
	assert.True(t, tracker.Dirty())

	data, version, err := tracker.EncodeSnapshot(codec.NewCBOR())
	require.NoError(t, err)
	tracker.MarkPersisted(version)
	assert.False(t, tracker.Dirty())

	restored, restoredClock := newTracker(t, config)
	restoredClock.Advance(config.Retention + time.Second)
	require.NoError(t, restored.RestoreSnapshot(codec.NewCBOR(), data))

	assert.Equal(t, 1, restored.Len())
	assert.True(t, restored.IsCancelled(relayA, "fresh"))
	assert.False(t, restored.RecordCancellation(relayA, "fresh"))
}
