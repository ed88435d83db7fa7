package operation

import (
	"github.com/dgraph-io/badger/v2"
)

func UpsertSnapshot(name string, blob []byte) func(*badger.Txn) error {
	return upsert(makePrefix(codeSnapshot, name), blob)
}

func RetrieveSnapshot(name string, blob *[]byte) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSnapshot, name), blob)
}
