package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/storage/codec"
)

type sample struct {
	IDs     []string         `cbor:"ids" msgpack:"ids"`
	Cursors map[string]int64 `cbor:"cursors" msgpack:"cursors"`
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{codec.NameCBOR, codec.NameMsgpack} {
		t.Run(name, func(t *testing.T) {
			c, err := codec.ByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			in := sample{
				IDs:     []string{"a", "b"},
				Cursors: map[string]int64{"x": 10, "y": 1700000000},
			}
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out sample
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)

			require.Error(t, c.Unmarshal([]byte{0xff, 0x00, 0x13}, &out))
		})
	}
}

func TestCBOR_Deterministic(t *testing.T) {
	c := codec.NewCBOR()
	in := sample{Cursors: map[string]int64{"b": 2, "a": 1, "c": 3}}

	first, err := c.Marshal(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Marshal(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestByName_Unknown(t *testing.T) {
	_, err := codec.ByName("gob")
	require.Error(t, err)
}
