package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/storage"
	"github.com/relaywatch/relaywatch/storage/badger/operation"
	"github.com/relaywatch/relaywatch/storage/util"
)

// Store is a KeyValueStore backed by badger.
type Store struct {
	db *badger.DB
}

var _ storage.KeyValueStore = (*Store)(nil)

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a badger database in dir.
func Open(log zerolog.Logger, dir string) (*badger.DB, error) {
	opts := badger.
		DefaultOptions(dir).
		WithLogger(util.NewLogger(log, "badger")).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open badger db at %s: %w", dir, err)
	}
	return db, nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(operation.RetrieveSnapshot(key, &value))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("could not read from badger: %w", err)
	}
	return value, nil
}

func (s *Store) Put(key string, value []byte) error {
	err := s.db.Update(operation.UpsertSnapshot(key, value))
	if err != nil {
		return fmt.Errorf("could not write to badger: %w", err)
	}
	return nil
}
