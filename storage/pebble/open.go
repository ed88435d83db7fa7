package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/storage/util"
)

const DefaultPebbleCacheSize = 1 << 20

// Open opens (or creates) a pebble database in dir, logging through log.
func Open(log zerolog.Logger, dir string) (*pebble.DB, error) {
	cache := pebble.NewCache(DefaultPebbleCacheSize)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{
		Cache:  cache,
		Logger: util.NewLogger(log, "pebble"),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open pebble db at %s: %w", dir, err)
	}
	return db, nil
}
