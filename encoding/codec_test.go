package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Role     string            `msgpack:"role"`
	Managers map[string]string `msgpack:"managers"`
}

func bigPayload() samplePayload {
	p := samplePayload{Role: "Worker", Managers: map[string]string{}}
	for i := 0; i < 200; i++ {
		p.Managers[strings.Repeat("m", i%7+1)+string(rune('a'+i%26))] = "manager-" + strings.Repeat("x", 16)
	}
	return p
}

func TestCodec_Roundtrip(t *testing.T) {
	for _, compression := range []string{"", CompressionNone, CompressionZstd} {
		t.Run("compression="+compression, func(t *testing.T) {
			codec, err := NewCodec(compression, "")
			require.NoError(t, err)
			defer codec.Close()

			in := bigPayload()
			frame, err := codec.Encode(in)
			require.NoError(t, err)

			var out samplePayload
			require.NoError(t, codec.Decode(frame, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCodec_ZstdShrinksRepetitivePayload(t *testing.T) {
	plain, err := NewCodec(CompressionNone, "")
	require.NoError(t, err)
	defer plain.Close()
	packed, err := NewCodec(CompressionZstd, "fastest")
	require.NoError(t, err)
	defer packed.Close()

	raw, err := plain.Encode(bigPayload())
	require.NoError(t, err)
	small, err := packed.Encode(bigPayload())
	require.NoError(t, err)

	assert.True(t, packed.Compressed())
	assert.False(t, plain.Compressed())
	assert.Less(t, len(small), len(raw))
}

func TestCodec_PeersWithDifferentSettingsInteroperate(t *testing.T) {
	plain, err := NewCodec(CompressionNone, "")
	require.NoError(t, err)
	defer plain.Close()
	packed, err := NewCodec(CompressionZstd, "")
	require.NoError(t, err)
	defer packed.Close()

	frame, err := packed.Encode(bigPayload())
	require.NoError(t, err)

	var out samplePayload
	require.NoError(t, plain.Decode(frame, &out))
	assert.Equal(t, bigPayload(), out)
}

func TestCodec_Errors(t *testing.T) {
	_, err := NewCodec("lz4", "")
	assert.Error(t, err)

	_, err = NewCodec(CompressionZstd, "warp-speed")
	assert.Error(t, err)

	codec, err := NewCodec("", "")
	require.NoError(t, err)
	defer codec.Close()

	var out samplePayload
	assert.Error(t, codec.Decode(nil, &out))
	assert.Error(t, codec.Decode([]byte{0x7f, 0x01}, &out))
}
