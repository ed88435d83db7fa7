package operation

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/relaywatch/relaywatch/storage"
)

// upsert stores value under key, replacing any previous value.
func upsert(key []byte, value []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := tx.Set(key, value)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve reads the value stored under key.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the key does not exist
func retrieve(key []byte, value *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		*value, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not read value: %w", err)
		}
		return nil
	}
}
