package util

import (
	"go.uber.org/atomic"
)

// VersionTracker tracks modifications of an in-memory structure against the last version that
// was persisted. Bump is called on every change; a snapshot taken at version v and later stored
// is acknowledged with MarkPersisted(v).
type VersionTracker struct {
	current   *atomic.Uint64
	persisted *atomic.Uint64
}

func NewVersionTracker() VersionTracker {
	return VersionTracker{
		current:   atomic.NewUint64(0),
		persisted: atomic.NewUint64(0),
	}
}

// Bump records a modification.
func (v VersionTracker) Bump() {
	v.current.Inc()
}

// Current returns the version of the latest modification.
func (v VersionTracker) Current() uint64 {
	return v.current.Load()
}

// Dirty reports whether modifications happened after the last persisted version.
func (v VersionTracker) Dirty() bool {
	return v.current.Load() > v.persisted.Load()
}

// MarkPersisted acknowledges that the state as of version has been stored. Acknowledging an
// older version than the one already acknowledged is a no-op.
func (v VersionTracker) MarkPersisted(version uint64) {
	for {
		persisted := v.persisted.Load()
		if version <= persisted {
			return
		}
		if v.persisted.CAS(persisted, version) {
			return
		}
	}
}
