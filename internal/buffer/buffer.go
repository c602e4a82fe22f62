// Package buffer implements the value-buffer ownership layer of the engine
// read path. A value resolved from disk can live in one of four memory
// regimes: caller-owned memory (Unowned), a private heap copy (Owned), a
// shared heap allocation windowed by several views (SharedOwned), or a
// window into a memory-mapped segment file (Mapped). All four satisfy
// Buffer, so call sites never care which regime a value came from.
package buffer

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch: data corruption detected")
	ErrRegionClosed     = errors.New("mapped region is closed")
	ErrMmapUnsupported  = errors.New("mmap not supported on this platform")
)

// Buffer is a read-only view over a contiguous byte range.
//
// Size is always the logical (decompressed) length. When the backing bytes
// are compressed, Materialize decompresses and verifies them on demand;
// every other accessor operates on the raw view and is only meaningful for
// uncompressed buffers (keys, assembled values).
type Buffer interface {
	// Size returns the logical length in bytes.
	Size() uint64

	// IsCompressed reports whether the backing bytes require
	// decompression before use.
	IsCompressed() bool

	// StartsWith compares the first len(prefix) bytes of the view.
	// It returns false when the prefix is longer than the view and
	// never reads past Size bytes.
	StartsWith(prefix []byte) bool

	// Equal reports value equality: same Size, same bytes. The ownership
	// variant on either side is invisible to the comparison.
	Equal(other Buffer) bool

	// Bytes copies the view out into a fresh allocation. Safe to retain
	// after the buffer's backing store goes away.
	Bytes() []byte

	// String is Bytes as a string.
	String() string

	// Materialize returns the usable, verified byte range. For
	// uncompressed buffers this is the raw view and never fails.
	// For a compressed Mapped buffer it decompresses the frame,
	// verifies its checksum, and returns the plaintext; on a checksum
	// mismatch it returns ErrChecksumMismatch and no data.
	Materialize() ([]byte, error)

	// raw restricts implementations to this package and gives Equal and
	// friends a uniform view of the underlying bytes.
	raw() []byte
}

// view carries the window and metadata shared by every variant.
//
// data is the backing store from the window's start to the end of whatever
// backs it; size is the logical length. For a compressed window the stored
// bytes span data[:sizeComp] and size is the length after decompression.
type view struct {
	data       []byte
	size       uint64
	sizeComp   uint64 // 0 means "stored raw"
	checksum   uint32 // over the stored (compressed) bytes
	compressed bool
}

func (v *view) Size() uint64 { return v.size }

func (v *view) IsCompressed() bool { return v.compressed }

// SetCompression, SetCompressedSize, and SetChecksum are set by the reader
// path before the first Materialize call. Mutating metadata after a
// successful Materialize is out of contract: the result of a second
// Materialize is unspecified.

func (v *view) SetCompression(c bool) { v.compressed = c }

func (v *view) SetCompressedSize(n uint64) {
	v.sizeComp = n
	v.compressed = n > 0
}

func (v *view) SetChecksum(c uint32) { v.checksum = c }

// CompressedSize returns the stored length of the compressed
// representation, 0 when the bytes are stored raw.
func (v *view) CompressedSize() uint64 { return v.sizeComp }

// Checksum returns the stored integrity value.
func (v *view) Checksum() uint32 { return v.checksum }

func (v *view) raw() []byte {
	n := v.size
	if max := uint64(len(v.data)); n > max {
		n = max
	}
	return v.data[:n]
}

func (v *view) StartsWith(prefix []byte) bool {
	if uint64(len(prefix)) > v.size {
		return false
	}
	return bytes.HasPrefix(v.raw(), prefix)
}

func (v *view) Equal(other Buffer) bool {
	if other == nil {
		return false
	}
	if v.size != other.Size() {
		return false
	}
	return bytes.Equal(v.raw(), other.raw())
}

func (v *view) Bytes() []byte {
	out := make([]byte, len(v.raw()))
	copy(out, v.raw())
	return out
}

func (v *view) String() string { return string(v.raw()) }

// Materialize is the uncompressed default: the view is already usable.
func (v *view) Materialize() ([]byte, error) { return v.raw(), nil }

// Unowned wraps memory owned by someone else. No copy is taken; the caller
// must guarantee the memory outlives the buffer. Used for constant keys and
// engine-internal scratch that never escapes its owner's lifetime.
type Unowned struct {
	view
}

func NewUnowned(data []byte) *Unowned {
	return &Unowned{view{data: data, size: uint64(len(data))}}
}

// Owned exclusively owns a private heap copy of its bytes.
type Owned struct {
	view
}

// NewOwned copies data into a fresh allocation.
func NewOwned(data []byte) *Owned {
	b := make([]byte, len(data))
	copy(b, data)
	return &Owned{view{data: b, size: uint64(len(data))}}
}

// NewOwnedSize allocates n+1 bytes with logical size n. The spare trailing
// byte leaves room for a terminator written later by the caller.
func NewOwnedSize(n uint64) *Owned {
	return &Owned{view{data: make([]byte, n+1), size: n}}
}

// SharedOwned windows a heap allocation that may back several buffers at
// once. The allocation lives as long as any view of it does; each view
// holds the full backing slice plus its own offset, never a derived
// pointer, so no view can outlive the bytes it reports.
type SharedOwned struct {
	view
	backing []byte
	off     uint64
}

// NewSharedOwned takes ownership of data as the shared backing store.
func NewSharedOwned(data []byte) *SharedOwned {
	return &SharedOwned{
		view:    view{data: data, size: uint64(len(data))},
		backing: data,
	}
}

// NewSharedOwnedSize allocates a zeroed shared backing store of n bytes.
func NewSharedOwnedSize(n uint64) *SharedOwned {
	b := make([]byte, n)
	return &SharedOwned{
		view:    view{data: b, size: n},
		backing: b,
	}
}

// Backing exposes the shared allocation, e.g. for assembling a chunked
// value in place before any window is read.
func (b *SharedOwned) Backing() []byte { return b.backing }

// Share returns a new buffer over the same backing store, ready to be
// windowed independently.
func (b *SharedOwned) Share() *SharedOwned {
	return &SharedOwned{
		view:    view{data: b.backing, size: uint64(len(b.backing))},
		backing: b.backing,
	}
}

// Window repositions the view to [off, off+size) within the backing store.
func (b *SharedOwned) Window(off, size uint64) {
	b.off = off
	b.data = b.backing[off:]
	b.size = size
}

// GrowBy extends the logical size in place, e.g. while assembling a value
// that arrives in chunks.
func (b *SharedOwned) GrowBy(delta uint64) { b.size += delta }

// Mapped windows a byte range of a ref-counted mmap Region and performs
// decompression plus checksum verification on Materialize. The region
// reference is taken at construction and returned by Close; the mapping is
// only torn down once every buffer over it is closed.
type Mapped struct {
	view
	region *Region
	off    uint64
	dec    Decompressor
	crc    ChecksumStream
	closed bool
}

// Decompressor turns a compressed frame into plaintext. consumed is the
// exact span of src that made up the frame, the unit the stored checksum
// was computed over.
type Decompressor interface {
	Decompress(src []byte) (plain, consumed []byte, err error)
}

// ChecksumStream accumulates a 32-bit checksum over fed byte spans.
type ChecksumStream interface {
	Feed(p []byte)
	Value() uint32
	Reset()
}

// NewMapped retains region and returns a buffer over it. The window starts
// empty; position it with Window before reading.
func NewMapped(region *Region, dec Decompressor, crc ChecksumStream) *Mapped {
	region.Retain()
	return &Mapped{
		view:   view{data: region.Data()},
		region: region,
		dec:    dec,
		crc:    crc,
	}
}

// Window repositions the view to [off, off+size) within the region. Many
// buffers may window disjoint or overlapping ranges of the same region
// concurrently; the mapping is read-only so no synchronization is needed.
func (b *Mapped) Window(off, size uint64) {
	b.off = off
	b.data = b.region.Data()[off:]
	b.size = size
}

// GrowBy extends the logical size in place while scanning forward through
// the mapped file.
func (b *Mapped) GrowBy(delta uint64) { b.size += delta }

// Region returns the backing region (still owned by the buffer).
func (b *Mapped) Region() *Region { return b.region }

// Materialize returns the verified plaintext for the window.
//
// Uncompressed windows come back as-is, aliasing the mapping: the fast
// path, no copy, no verification. Compressed windows are decompressed and
// the consumed frame is checksummed against the stored value; a mismatch
// reports ErrChecksumMismatch and discards the output. The checksum covers
// the on-disk compressed bytes actually consumed, so it doubles as a frame
// boundary check, not just a corruption check.
func (b *Mapped) Materialize() ([]byte, error) {
	if b.closed {
		return nil, ErrRegionClosed
	}
	if b.sizeComp == 0 {
		return b.view.raw(), nil
	}
	src := b.data[:b.sizeComp]
	plain, consumed, err := b.dec.Decompress(src)
	if err != nil {
		return nil, err
	}
	b.crc.Reset()
	b.crc.Feed(consumed)
	if got := b.crc.Value(); got != b.checksum {
		return nil, fmt.Errorf("%w: stored 0x%08x computed 0x%08x",
			ErrChecksumMismatch, b.checksum, got)
	}
	return plain, nil
}

// Close releases the buffer's region reference. Idempotent. The region is
// unmapped once the last reference, buffer or engine, is dropped.
//
// A closed buffer is an empty view: the window is detached from the
// mapping and Size drops to zero, so Bytes, String, StartsWith, and Equal
// all report emptiness. Only Materialize reports ErrRegionClosed.
func (b *Mapped) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.data = nil
	b.size = 0
	return b.region.Release()
}
