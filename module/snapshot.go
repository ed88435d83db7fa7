package module

import (
	"github.com/relaywatch/relaywatch/storage/codec"
)

// Snapshotter is an in-memory structure whose state survives restarts through snapshots.
type Snapshotter interface {
	// Dirty reports whether the structure changed since the last persisted snapshot.
	Dirty() bool

	// EncodeSnapshot encodes the current state and returns it with the version it reflects.
	EncodeSnapshot(c codec.Codec) ([]byte, uint64, error)

	// RestoreSnapshot merges a previously encoded snapshot into the current state.
	RestoreSnapshot(c codec.Codec, data []byte) error

	// MarkPersisted acknowledges that the snapshot taken at version has been stored.
	MarkPersisted(version uint64)
}
