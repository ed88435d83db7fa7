package pebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/relaywatch/relaywatch/storage"
	"github.com/relaywatch/relaywatch/storage/pebble/operation"
)

// Store is a KeyValueStore backed by pebble.
type Store struct {
	db *pebble.DB
}

var _ storage.KeyValueStore = (*Store)(nil)

func NewStore(db *pebble.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := operation.RetrieveSnapshot(key, &value)(s.db)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("could not read from pebble: %w", err)
	}
	return value, nil
}

func (s *Store) Put(key string, value []byte) error {
	err := operation.UpsertSnapshot(key, value)(s.db)
	if err != nil {
		return fmt.Errorf("could not write to pebble: %w", err)
	}
	return nil
}
