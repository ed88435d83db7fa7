package operation

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/storage"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

func TestSnapshotInsertRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		blob := bytes.Repeat([]byte("cursor"), 100)
		require.NoError(t, db.Update(UpsertSnapshot("cursors", blob)))

		var actual []byte
		require.NoError(t, db.View(RetrieveSnapshot("cursors", &actual)))
		assert.Equal(t, blob, actual)

		// overwrite replaces the previous value
		require.NoError(t, db.Update(UpsertSnapshot("cursors", []byte("v2"))))
		require.NoError(t, db.View(RetrieveSnapshot("cursors", &actual)))
		assert.Equal(t, []byte("v2"), actual)
	})
}

func TestSnapshotRetrieveMissing(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		var actual []byte
		err := db.View(RetrieveSnapshot("event-cache", &actual))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
