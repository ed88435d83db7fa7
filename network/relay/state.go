package relay

import (
	"fmt"
	"time"
)

// State is the connection state of a relay endpoint.
//
//	Disconnected -> Connecting -> Connected
//	Connecting -> Reconnecting (timer) -> Connecting
//	Connected -> Reconnecting (connection lost)
//	any -> Disconnected (Disconnect)
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EndpointStatus is a point in time copy of a relay endpoint's state. Health checks and
// diagnostics read statuses, never the live endpoint.
type EndpointStatus struct {
	URL   string
	State State
	// Attempts is the number of consecutive failed connection attempts.
	Attempts int
	// FailingSince is the time of the first failure of the current failure streak, zero when
	// the last attempt succeeded.
	FailingSince time.Time
	ConnectedAt  time.Time
	// LastActivity is the time of the last inbound frame or pong.
	LastActivity time.Time
	LastPingSent time.Time
	LastPong     time.Time
	LastError    string
}

// AwaitingPong reports whether the last ping is still unanswered.
func (s EndpointStatus) AwaitingPong() bool {
	return !s.LastPingSent.IsZero() && s.LastPong.Before(s.LastPingSent)
}
