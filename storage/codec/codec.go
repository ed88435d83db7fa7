package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v4"
)

// Codec encodes snapshot structures into blobs for the key-value store.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

const (
	NameCBOR    = "cbor"
	NameMsgpack = "msgpack"
)

// ByName returns the codec with the given name.
func ByName(name string) (Codec, error) {
	switch name {
	case NameCBOR:
		return NewCBOR(), nil
	case NameMsgpack:
		return NewMsgpack(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot codec %q", name)
	}
}

// CBOR encodes with deterministic core CBOR, so equal snapshots produce equal blobs.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

func NewCBOR() *CBOR {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor encoding options: %v", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor decoding options: %v", err))
	}
	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Name() string {
	return NameCBOR
}

func (c *CBOR) Marshal(v interface{}) ([]byte, error) {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not cbor encode %T: %w", v, err)
	}
	return data, nil
}

func (c *CBOR) Unmarshal(data []byte, v interface{}) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not cbor decode %T: %w", v, err)
	}
	return nil
}

type Msgpack struct{}

var _ Codec = (*Msgpack)(nil)

func NewMsgpack() *Msgpack {
	return &Msgpack{}
}

func (m *Msgpack) Name() string {
	return NameMsgpack
}

func (m *Msgpack) Marshal(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not msgpack encode %T: %w", v, err)
	}
	return data, nil
}

func (m *Msgpack) Unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not msgpack decode %T: %w", v, err)
	}
	return nil
}
