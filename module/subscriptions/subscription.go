package subscriptions

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a subscription on one relay.
//
//	Pending -> Requested (REQ written) -> Live (EOSE received)
//	Requested, Live -> ClosedByRelay (CLOSED received)
//	any -> Pending (relay reconnected, or REQ could not be written)
type State int

const (
	Pending State = iota
	Requested
	Live
	ClosedByRelay
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Requested:
		return "requested"
	case Live:
		return "live"
	case ClosedByRelay:
		return "closed_by_relay"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Key identifies a subscription: one per config and relay.
type Key struct {
	ConfigID string
	Relay    string
}

// Subscription is a copy of the ledger's record of a subscription.
type Subscription struct {
	ConfigID       string
	Relay          string
	SubscriptionID string
	// Cursor is the created_at of the newest event seen for the subscription, in unix seconds.
	// It only moves forward, and the next REQ asks for events since then.
	Cursor       int64
	State        State
	RequestedAt  time.Time
	LiveAt       time.Time
	ClosedReason string
}

func (s Subscription) Key() Key {
	return Key{ConfigID: s.ConfigID, Relay: s.Relay}
}
