package operation

const (
	// codes for snapshot blobs
	codeSnapshot = 10
)

func makePrefix(code byte, keys ...string) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, key...)
	}
	return prefix
}
