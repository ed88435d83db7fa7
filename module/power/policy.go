package power

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/relaywatch/relaywatch/module"
)

// Mode is the execution state of the host process.
type Mode int32

const (
	// Foreground: the host is in active use, relays are checked aggressively.
	Foreground Mode = iota
	// Background: the host runs unattended.
	Background
	// LowPower: the host asked to save energy; keepalive traffic is reduced to a minimum.
	LowPower
)

func (m Mode) String() string {
	switch m {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case LowPower:
		return "low_power"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode parses the string form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foreground":
		return Foreground, nil
	case "background":
		return Background, nil
	case "low_power", "lowpower":
		return LowPower, nil
	default:
		return 0, fmt.Errorf("unknown power mode %q", s)
	}
}

// Timings are the keepalive parameters used in one mode.
type Timings struct {
	PingInterval        time.Duration
	HealthThreshold     time.Duration
	HealthCheckInterval time.Duration
}

// DefaultTimings maps each mode to its keepalive parameters. The stale threshold is three ping
// intervals, so a single lost pong never marks a relay stale.
func DefaultTimings() map[Mode]Timings {
	return map[Mode]Timings{
		Foreground: {PingInterval: 30 * time.Second, HealthThreshold: 90 * time.Second, HealthCheckInterval: 15 * time.Second},
		Background: {PingInterval: 60 * time.Second, HealthThreshold: 180 * time.Second, HealthCheckInterval: 60 * time.Second},
		LowPower:   {PingInterval: 300 * time.Second, HealthThreshold: 900 * time.Second, HealthCheckInterval: 600 * time.Second},
	}
}

// Policy is a PowerStatePolicy whose mode can be switched at runtime. Subscribers are notified
// on every mode change so that timers can be rescheduled.
type Policy struct {
	mode     *atomic.Int32
	timings  map[Mode]Timings
	notifier module.Notifier
}

var _ module.PowerStatePolicy = (*Policy)(nil)

// NewPolicy returns a policy starting in the given mode. Modes missing from timings use the
// default timings.
func NewPolicy(mode Mode, timings map[Mode]Timings) *Policy {
	merged := DefaultTimings()
	for m, t := range timings {
		merged[m] = t
	}
	return &Policy{
		mode:     atomic.NewInt32(int32(mode)),
		timings:  merged,
		notifier: module.NewNotifier(),
	}
}

func (p *Policy) Mode() Mode {
	return Mode(p.mode.Load())
}

// SetMode switches the policy to mode. It returns whether the mode changed.
func (p *Policy) SetMode(mode Mode) bool {
	if Mode(p.mode.Swap(int32(mode))) == mode {
		return false
	}
	p.notifier.Notify()
	return true
}

// Changes returns a channel that receives a value after mode changes. Changes are coalesced.
func (p *Policy) Changes() <-chan struct{} {
	return p.notifier.Channel()
}

func (p *Policy) current() Timings {
	t, ok := p.timings[p.Mode()]
	if !ok {
		return p.timings[Foreground]
	}
	return t
}

func (p *Policy) PingInterval() time.Duration {
	return p.current().PingInterval
}

func (p *Policy) HealthThreshold() time.Duration {
	return p.current().HealthThreshold
}

func (p *Policy) HealthCheckInterval() time.Duration {
	return p.current().HealthCheckInterval
}
