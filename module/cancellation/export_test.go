package cancellation

import "time"

// SetClock replaces the tracker's clock.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}
