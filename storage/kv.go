package storage

// KeyValueStore is the narrow persistence contract of the engine: opaque blobs stored under
// string keys. Values are overwritten as a whole.
//
// Implementations must be safe for concurrent use.
type KeyValueStore interface {
	// Get returns the value stored under key.
	// Expected errors during normal operations:
	//   - ErrNotFound if the key holds no value
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error
}

// Keys under which the engine stores its snapshots.
const (
	KeyCursors                = "cursors"
	KeyEventCache             = "event-cache"
	KeyCancelledSubscriptions = "cancelled-subscriptions"
)

// SnapshotKeys lists every key the engine writes, in restore order.
var SnapshotKeys = []string{KeyCursors, KeyEventCache, KeyCancelledSubscriptions}
