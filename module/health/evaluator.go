package health

import (
	"fmt"
	"time"

	"github.com/relaywatch/relaywatch/network/relay"
)

// Verdict is the outcome of evaluating a relay.
type Verdict int

const (
	// Healthy relays need no action: they are delivering traffic, or a reconnect is underway
	// and has not been failing for long.
	Healthy Verdict = iota
	// Stale relays are connected at the transport layer but have been silent past the threshold.
	Stale
	// Dead relays have been failing to connect continuously past the dead threshold.
	Dead
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Stale:
		return "stale"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Thresholds parametrize Evaluate.
type Thresholds struct {
	// Stale is the inactivity period after which a connected relay is stale.
	Stale time.Duration
	// PongTimeout is how long a ping may stay unanswered before the relay is stale.
	PongTimeout time.Duration
	// Dead is the length of a failure streak after which a relay is dead.
	Dead time.Duration
}

// Evaluate decides the health of a relay from a snapshot of its state. It has no side effects.
//
// A connected relay is stale when neither frames nor pongs arrived within the stale threshold,
// or the last ping went unanswered for longer than the pong timeout. A relay that is not
// connected is dead once its failure streak exceeds the dead threshold. Disconnected relays are
// not supervised and always healthy.
func Evaluate(status relay.EndpointStatus, thresholds Thresholds, now time.Time) Verdict {
	switch status.State {
	case relay.Connected:
		if status.AwaitingPong() && thresholds.PongTimeout > 0 && now.Sub(status.LastPingSent) > thresholds.PongTimeout {
			return Stale
		}
		last := status.LastActivity
		if last.IsZero() {
			last = status.ConnectedAt
		}
		if thresholds.Stale > 0 && !last.IsZero() && now.Sub(last) > thresholds.Stale {
			return Stale
		}
		return Healthy

	case relay.Connecting, relay.Reconnecting:
		if !status.FailingSince.IsZero() && now.Sub(status.FailingSince) > thresholds.Dead {
			return Dead
		}
		return Healthy

	default:
		return Healthy
	}
}
