package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/storage"
	badgerstore "github.com/relaywatch/relaywatch/storage/badger"
	"github.com/relaywatch/relaywatch/storage/inmemory"
	pebblestore "github.com/relaywatch/relaywatch/storage/pebble"
)

// openStore opens the snapshot store of the given kind in dir. The returned function closes it.
func openStore(log zerolog.Logger, kind string, dir string) (storage.KeyValueStore, func() error, error) {
	switch kind {
	case storeMemory:
		return inmemory.NewStore(), func() error { return nil }, nil
	case storeBadger, storePebble:
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("could not create data directory: %w", err)
	}
	if err := storage.CheckFormat(dir, storage.Format(kind)); err != nil {
		return nil, nil, err
	}
	if kind == storeBadger {
		db, err := badgerstore.Open(log, dir)
		if err != nil {
			return nil, nil, err
		}
		return badgerstore.NewStore(db), db.Close, nil
	}
	db, err := pebblestore.Open(log, dir)
	if err != nil {
		return nil, nil, err
	}
	return pebblestore.NewStore(db), db.Close, nil
}
