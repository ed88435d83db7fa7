package inmemory

import (
	"fmt"
	"sync"

	"github.com/relaywatch/relaywatch/storage"
)

// Store is a KeyValueStore kept in memory. Values are copied on the way in and out.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	fail   error
}

var _ storage.KeyValueStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, fmt.Errorf("could not read from memory: %w", s.fail)
	}
	value, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return fmt.Errorf("could not write to memory: %w", s.fail)
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

// SetFailure makes every subsequent Get and Put fail with err. A nil err restores normal operation.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
