package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by every KeyValueStore implementation when the key holds no value.
	// Backend specific not found errors (badger.ErrKeyNotFound, pebble.ErrNotFound) are converted.
	ErrNotFound = errors.New("key not found")
)

// PersistenceError is a failure of the key-value store. It never stops the engine: the state is
// kept in memory and written again on the next flush.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func NewPersistenceError(op string, key string, err error) PersistenceError {
	return PersistenceError{Op: op, Key: key, Err: err}
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Key, e.Err)
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError returns whether err is a PersistenceError
func IsPersistenceError(err error) bool {
	var errPersistence PersistenceError
	return errors.As(err, &errPersistence)
}
