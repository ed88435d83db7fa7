package compressor

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Compressor compresses snapshot blobs before they are written to the key-value store.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

const (
	NameSnappy = "snappy"
	NameGzip   = "gzip"
	NameNone   = "none"
)

// ByName returns the compressor with the given name.
func ByName(name string) (Compressor, error) {
	switch name {
	case NameSnappy:
		return SnappyCompressor{}, nil
	case NameGzip:
		return GzipCompressor{}, nil
	case NameNone:
		return NoopCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}

// SnappyCompressor uses the snappy block format.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return NameSnappy }

func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type GzipCompressor struct{}

func (GzipCompressor) Name() string { return NameGzip }

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := gzip.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// NoopCompressor stores blobs as they are.
type NoopCompressor struct{}

func (NoopCompressor) Name() string { return NameNone }

func (NoopCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
