package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	random := make([]byte, 4096)
	rng.Read(random)

	cases := map[string][]byte{
		"empty":          {},
		"single byte":    {0x7f},
		"short text":     []byte("hello frame"),
		"repetitive":     bytes.Repeat([]byte("abcd"), 2048),
		"incompressible": random,
	}

	for name, plain := range cases {
		frame, err := Compress(plain)
		require.NoError(t, err, name)

		got, consumed, err := Inflater{}.Decompress(frame)
		require.NoError(t, err, name)
		assert.Equal(t, plain, got, name)
		assert.Equal(t, frame, consumed, name)
	}
}

func TestDecompressConsumedSpan(t *testing.T) {
	t.Parallel()

	plain := []byte("frame followed by unrelated bytes")
	frame, err := Compress(plain)
	require.NoError(t, err)

	// The decompressor is handed more than one frame's worth of bytes,
	// as it is when reading out of a mapped segment. It must report the
	// exact span it consumed.
	src := append(append([]byte(nil), frame...), []byte("next record garbage")...)
	got, consumed, err := Inflater{}.Decompress(src)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	assert.Equal(t, frame, consumed)
}

func TestDecompressTruncated(t *testing.T) {
	t.Parallel()

	frame, err := Compress(bytes.Repeat([]byte("data"), 256))
	require.NoError(t, err)

	for _, cut := range []int{0, 1, len(frame) / 2, len(frame) - 1} {
		_, _, err := Inflater{}.Decompress(frame[:cut])
		require.Error(t, err, "cut at %d", cut)
	}
}

func TestDecompressGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := Inflater{}.Decompress([]byte{0x05, 0x05, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestDecompressHugeDeclaredLengths(t *testing.T) {
	t.Parallel()

	// A payload length big enough to wrap any end-offset sum must come
	// back as a truncation error, not a panic.
	frame := binary.AppendUvarint(nil, 10)
	frame = binary.AppendUvarint(frame, math.MaxUint64)
	frame = append(frame, 0x01, 0x02, 0x03)
	_, _, err := Inflater{}.Decompress(frame)
	require.ErrorIs(t, err, ErrFrameTruncated)

	// A plaintext length past any plausible value must be rejected
	// before it turns into an allocation.
	frame = binary.AppendUvarint(nil, math.MaxUint64)
	frame = binary.AppendUvarint(frame, 2)
	frame = append(frame, 0x01, 0x02)
	_, _, err = Inflater{}.Decompress(frame)
	require.ErrorIs(t, err, ErrBadFrame)
}

func TestChecksumStreamMatchesOneShot(t *testing.T) {
	t.Parallel()

	payload := []byte("feed me in pieces or all at once")

	var s CRC32Stream
	s.Feed(payload[:10])
	s.Feed(payload[10:20])
	s.Feed(payload[20:])
	assert.Equal(t, Checksum(payload), s.Value())

	s.Reset()
	assert.Equal(t, uint32(0), s.Value())
	s.Feed(payload)
	assert.Equal(t, Checksum(payload), s.Value())
}
