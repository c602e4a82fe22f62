package buffer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlindb/internal/codec"
)

func TestOpenRegionMissingFile(t *testing.T) {
	t.Parallel()

	_, err := OpenRegion(filepath.Join(t.TempDir(), "nope.seg"), 128)
	require.Error(t, err)
}

func TestOpenRegionEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.seg")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	region, err := OpenRegion(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, region.Len())
	require.NoError(t, region.Release())
}

func TestRegionRefCounting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ref.seg")
	require.NoError(t, os.WriteFile(path, []byte("hello region"), 0o600))

	region, err := OpenRegion(path, 12)
	require.NoError(t, err)
	assert.Equal(t, path, region.Path())

	region.Retain()
	require.NoError(t, region.Release()) // still one reference left
	assert.Equal(t, []byte("hello region"), region.Data())

	require.NoError(t, region.Release()) // last reference: unmap + close
	assert.Nil(t, region.Data())
}

func TestRegionSharedByManyBuffers(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")
	path := filepath.Join(t.TempDir(), "shared.seg")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	region, err := OpenRegion(path, int64(len(payload)))
	require.NoError(t, err)

	first := NewMapped(region, nil, nil)
	first.Window(0, 5)
	second := NewMapped(region, nil, nil)
	second.Window(5, 5)

	// The opener's reference can go away; the buffers keep the mapping
	// alive until the last of them closes.
	require.NoError(t, region.Release())

	assert.Equal(t, []byte("abcde"), first.Bytes())
	require.NoError(t, first.Close())
	require.NoError(t, first.Close()) // idempotent

	assert.Equal(t, []byte("fghij"), second.Bytes())
	require.NoError(t, second.Close())
}

// writeFrame stores prefix + one compression frame of plain in a file and
// returns the file path, the frame, and the frame's checksum.
func writeFrame(t *testing.T, prefix, plain []byte) (string, []byte, uint32) {
	t.Helper()
	frame, err := codec.Compress(plain)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frame.seg")
	require.NoError(t, os.WriteFile(path, append(append([]byte(nil), prefix...), frame...), 0o600))
	return path, frame, codec.Checksum(frame)
}

func TestMappedMaterializeRoundTrip(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("compressible payload "), 64)
	prefix := []byte("some earlier record bytes")
	path, frame, checksum := writeFrame(t, prefix, plain)

	st, err := os.Stat(path)
	require.NoError(t, err)
	region, err := OpenRegion(path, st.Size())
	require.NoError(t, err)
	defer region.Release()

	buf := NewMapped(region, codec.Inflater{}, new(codec.CRC32Stream))
	defer buf.Close()
	buf.Window(uint64(len(prefix)), uint64(len(plain)))
	buf.SetCompressedSize(uint64(len(frame)))
	buf.SetChecksum(checksum)

	assert.True(t, buf.IsCompressed())
	assert.Equal(t, uint64(len(plain)), buf.Size())

	got, err := buf.Materialize()
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	// Materialize is repeatable: same verified output each call.
	again, err := buf.Materialize()
	require.NoError(t, err)
	assert.Equal(t, plain, again)
}

func TestMappedMaterializeBadChecksum(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("integrity matters "), 32)
	path, frame, checksum := writeFrame(t, nil, plain)

	st, err := os.Stat(path)
	require.NoError(t, err)
	region, err := OpenRegion(path, st.Size())
	require.NoError(t, err)
	defer region.Release()

	buf := NewMapped(region, codec.Inflater{}, new(codec.CRC32Stream))
	defer buf.Close()
	buf.Window(0, uint64(len(plain)))
	buf.SetCompressedSize(uint64(len(frame)))
	buf.SetChecksum(checksum ^ 1) // single stored-checksum bit flip

	got, err := buf.Materialize()
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Nil(t, got)
}

func TestMappedMaterializeCorruptFrame(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("bit rot "), 64)
	frame, err := codec.Compress(plain)
	require.NoError(t, err)

	// Flip one bit in the middle of the compressed payload.
	corrupt := append([]byte(nil), frame...)
	corrupt[len(corrupt)/2] ^= 0x10

	path := filepath.Join(t.TempDir(), "corrupt.seg")
	require.NoError(t, os.WriteFile(path, corrupt, 0o600))

	region, err := OpenRegion(path, int64(len(corrupt)))
	require.NoError(t, err)
	defer region.Release()

	buf := NewMapped(region, codec.Inflater{}, new(codec.CRC32Stream))
	defer buf.Close()
	buf.Window(0, uint64(len(plain)))
	buf.SetCompressedSize(uint64(len(corrupt)))
	buf.SetChecksum(codec.Checksum(frame)) // checksum of the clean frame

	got, err := buf.Materialize()
	require.Error(t, err)
	assert.Nil(t, got, "corrupt data must never be returned")
}

func TestMappedUncompressedFastPath(t *testing.T) {
	t.Parallel()

	payload := []byte("raw bytes, no frame")
	buf := mappedOver(t, payload)

	got, err := buf.Materialize()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, buf.Close())
	_, err = buf.Materialize()
	require.ErrorIs(t, err, ErrRegionClosed)
}

func TestMappedClosedIsEmptyView(t *testing.T) {
	t.Parallel()

	payload := []byte("gone after close")
	buf := mappedOver(t, payload)
	require.NoError(t, buf.Close())

	// Every accessor, including those promoted from the shared view,
	// must see the detached window as empty rather than touch the
	// released mapping.
	assert.Equal(t, uint64(0), buf.Size())
	assert.Empty(t, buf.Bytes())
	assert.Equal(t, "", buf.String())
	assert.False(t, buf.StartsWith([]byte("g")))
	assert.True(t, buf.Equal(NewOwned(nil)))
	assert.False(t, buf.Equal(NewOwned(payload)))
}
