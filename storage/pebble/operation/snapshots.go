package operation

import (
	"github.com/cockroachdb/pebble"
)

func UpsertSnapshot(name string, blob []byte) func(pebble.Writer) error {
	return upsert(makePrefix(codeSnapshot, name), blob)
}

func RetrieveSnapshot(name string, blob *[]byte) func(pebble.Reader) error {
	return retrieve(makePrefix(codeSnapshot, name), blob)
}
