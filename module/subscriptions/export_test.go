package subscriptions

import (
	"time"
)

// SetClock replaces the ledger's clock.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}
