package operation

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/relaywatch/relaywatch/storage"
)

const (
	codeSnapshot = 10
)

func makePrefix(code byte, keys ...string) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, key...)
	}
	return prefix
}

func upsert(key []byte, value []byte) func(pebble.Writer) error {
	return func(w pebble.Writer) error {
		err := w.Set(key, value, pebble.Sync)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve copies the value stored under key; pebble owns val until closer is closed.
// Expected errors during normal operations:
//   - storage.ErrNotFound if the key does not exist
func retrieve(key []byte, value *[]byte) func(pebble.Reader) error {
	return func(r pebble.Reader) error {
		val, closer, err := r.Get(key)
		if err != nil {
			return convertNotFoundError(err)
		}
		defer closer.Close()

		*value = append([]byte(nil), val...)
		return nil
	}
}

func convertNotFoundError(err error) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("could not load data: %w", err)
}
