package engine

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"marlindb/internal/codec"
)

// Segment files are numbered append-only logs: a fixed header followed by
// records. A record's value bytes are stored either raw or as one
// compression frame; the record checksum always covers the stored bytes.
//
// SEGMENT HEADER (24 bytes):
//
//	[Magic: 4][Version: 2][Reserved: 2][FileID: 4][Reserved: 4][Checksum: 8]
//
// Checksum is the xxhash64 of the first 16 header bytes.
//
// RECORD:
//
//	[Flags: 1][KeyLen: uvarint][ValueSize: uvarint][CompressedSize: uvarint]
//	[ValueChecksum: 4][Key][StoredValue]
//
// ValueSize is the logical (decompressed) length; CompressedSize is the
// stored frame length, 0 when the value is stored raw. Tombstones carry no
// value bytes.
const (
	segMagic   uint32 = 0x6d726c6e // "mrln"
	segVersion uint16 = 1

	segHeaderSize = 24
	segSuffix     = ".seg"

	tombstoneFlag byte = 0x01

	// maxRecordHeaderSize bounds the encoded record header:
	// flags + three uvarints + checksum.
	maxRecordHeaderSize = 1 + 3*binary.MaxVarintLen64 + 4
)

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%08d%s", id, segSuffix))
}

// listSegments returns the IDs of all segment files in dir, ascending.
func listSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, segSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, segSuffix), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func encodeSegmentHeader(id uint32) [segHeaderSize]byte {
	var h [segHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:4], segMagic)
	binary.LittleEndian.PutUint16(h[4:6], segVersion)
	binary.LittleEndian.PutUint32(h[8:12], id)
	binary.LittleEndian.PutUint64(h[16:24], xxhash.Sum64(h[:16]))
	return h
}

// validateSegmentHeader checks magic, version, ID, and header checksum.
func validateSegmentHeader(data []byte, id uint32) error {
	if len(data) < segHeaderSize {
		return fmt.Errorf("%w: segment %d shorter than header", ErrBadSegment, id)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != segMagic {
		return fmt.Errorf("%w: segment %d bad magic 0x%08x", ErrBadSegment, id, magic)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != segVersion {
		return fmt.Errorf("%w: segment %d unsupported version %d", ErrBadSegment, id, v)
	}
	if got := binary.LittleEndian.Uint32(data[8:12]); got != id {
		return fmt.Errorf("%w: segment %d header claims ID %d", ErrBadSegment, id, got)
	}
	if sum := binary.LittleEndian.Uint64(data[16:24]); sum != xxhash.Sum64(data[:16]) {
		return fmt.Errorf("%w: segment %d header checksum mismatch", ErrBadSegment, id)
	}
	return nil
}

// record is one parsed segment record. key and stored alias the scanned
// bytes; callers copy what they keep.
type record struct {
	flags    byte
	key      []byte
	valOff   uint64 // offset of stored value bytes within the file
	size     uint64 // logical value size
	sizeComp uint64 // stored frame size, 0 = raw
	checksum uint32
	stored   []byte
}

func (r *record) tombstone() bool { return r.flags&tombstoneFlag != 0 }

// parseRecord decodes one record starting at off. Returns the record and
// the offset of the next one.
func parseRecord(data []byte, off uint64) (record, uint64, error) {
	var rec record
	p := off
	if p >= uint64(len(data)) {
		return rec, 0, fmt.Errorf("%w: record at %d past end", ErrBadSegment, off)
	}
	rec.flags = data[p]
	p++

	keyLen, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return rec, 0, fmt.Errorf("%w: bad key length at %d", ErrBadSegment, off)
	}
	p += uint64(n)
	rec.size, n = binary.Uvarint(data[p:])
	if n <= 0 {
		return rec, 0, fmt.Errorf("%w: bad value size at %d", ErrBadSegment, off)
	}
	p += uint64(n)
	rec.sizeComp, n = binary.Uvarint(data[p:])
	if n <= 0 {
		return rec, 0, fmt.Errorf("%w: bad compressed size at %d", ErrBadSegment, off)
	}
	p += uint64(n)
	if p+4 > uint64(len(data)) {
		return rec, 0, fmt.Errorf("%w: truncated checksum at %d", ErrBadSegment, off)
	}
	rec.checksum = binary.LittleEndian.Uint32(data[p : p+4])
	p += 4

	storedLen := rec.size
	if rec.sizeComp > 0 {
		storedLen = rec.sizeComp
	}
	if rec.tombstone() {
		storedLen = 0
	}
	// Lengths come from the file; check each against the remaining bytes
	// separately so corrupt headers cannot wrap the sum.
	avail := uint64(len(data)) - p
	if keyLen > avail || storedLen > avail-keyLen {
		return rec, 0, fmt.Errorf("%w: truncated record at %d", ErrBadSegment, off)
	}
	end := p + keyLen + storedLen
	rec.key = data[p : p+keyLen]
	rec.valOff = p + keyLen
	rec.stored = data[p+keyLen : end]
	return rec, end, nil
}

// scanSegment walks records in data[segHeaderSize:limit], verifying each
// record's value checksum, and hands them to fn in file order. A torn or
// corrupt tail stops the scan and is reported to the caller along with the
// number of clean bytes.
func scanSegment(data []byte, id uint32, limit uint64, fn func(record)) (uint64, error) {
	if limit > uint64(len(data)) {
		limit = uint64(len(data))
	}
	if err := validateSegmentHeader(data, id); err != nil {
		return 0, err
	}
	off := uint64(segHeaderSize)
	for off < limit {
		rec, next, err := parseRecord(data[:limit], off)
		if err != nil {
			return off, err
		}
		if !rec.tombstone() && codec.Checksum(rec.stored) != rec.checksum {
			return off, fmt.Errorf("%w: record at %d fails checksum", ErrBadSegment, off)
		}
		fn(rec)
		off = next
	}
	return off, nil
}

// segmentWriter appends records to the active segment file.
type segmentWriter struct {
	id   uint32
	file *os.File
	off  uint64 // current file length
	sync bool
}

func createSegment(dir string, id uint32, syncWrites bool) (*segmentWriter, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	header := encodeSegmentHeader(id)
	if _, err := file.Write(header[:]); err != nil {
		file.Close()
		return nil, err
	}
	return &segmentWriter{id: id, file: file, off: segHeaderSize, sync: syncWrites}, nil
}

// appendRecord writes one record and returns the file offset of its stored
// value bytes.
func (w *segmentWriter) appendRecord(flags byte, key, stored []byte, size, sizeComp uint64, checksum uint32) (uint64, error) {
	buf := make([]byte, 0, maxRecordHeaderSize+len(key)+len(stored))
	buf = append(buf, flags)
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = binary.AppendUvarint(buf, size)
	buf = binary.AppendUvarint(buf, sizeComp)
	buf = binary.LittleEndian.AppendUint32(buf, checksum)
	headerLen := uint64(len(buf))
	buf = append(buf, key...)
	buf = append(buf, stored...)

	if _, err := w.file.Write(buf); err != nil {
		return 0, err
	}
	valOff := w.off + headerLen + uint64(len(key))
	w.off += uint64(len(buf))
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return 0, err
		}
	}
	return valOff, nil
}

func (w *segmentWriter) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
