// Package codec provides the compression and integrity services consumed
// by the buffer layer: a framed DEFLATE compressor and a streaming CRC-32C
// checksum.
//
// Frame layout:
//
//	uvarint  plaintext length
//	uvarint  payload length
//	payload  DEFLATE stream
//
// The frame is self-delimiting, so a decompressor handed a span longer than
// one frame can report exactly how many bytes it consumed. That consumed
// span is the unit the value checksum is computed over.
package codec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	ErrBadFrame       = errors.New("malformed compression frame")
	ErrFrameTruncated = errors.New("compression frame truncated")
)

// maxPlainLen caps the declared plaintext length of a frame. Values are
// written well below this; anything larger is corruption, not data.
const maxPlainLen = 1 << 32

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C of p in one shot.
func Checksum(p []byte) uint32 {
	return crc32.Checksum(p, castagnoli)
}

// CRC32Stream accumulates a CRC-32C incrementally. The zero value is ready
// to use. Not safe for concurrent use; each buffer owns its own stream.
type CRC32Stream struct {
	sum uint32
}

func (s *CRC32Stream) Feed(p []byte) {
	s.sum = crc32.Update(s.sum, castagnoli, p)
}

func (s *CRC32Stream) Value() uint32 { return s.sum }

func (s *CRC32Stream) Reset() { s.sum = 0 }

// Compress encodes plain into a single frame.
func Compress(plain []byte) ([]byte, error) {
	var body bytes.Buffer
	w, err := flate.NewWriter(&body, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	frame := binary.AppendUvarint(nil, uint64(len(plain)))
	frame = binary.AppendUvarint(frame, uint64(body.Len()))
	return append(frame, body.Bytes()...), nil
}

// Inflater decompresses one frame from the front of a byte span. It is
// stateless and satisfies the buffer layer's Decompressor interface.
type Inflater struct{}

// Decompress reads one frame from the front of src and returns the
// plaintext plus the exact span of src the frame occupied. src may extend
// past the frame; the excess is ignored.
func (Inflater) Decompress(src []byte) (plain, consumed []byte, err error) {
	plainLen, n := binary.Uvarint(src)
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: bad plaintext length", ErrBadFrame)
	}
	payloadLen, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return nil, nil, fmt.Errorf("%w: bad payload length", ErrBadFrame)
	}
	// Both lengths come straight from the frame; check each against what
	// is actually present so a corrupt header cannot wrap the arithmetic
	// or provoke an absurd allocation.
	rest := uint64(len(src)) - uint64(n+m)
	if payloadLen > rest {
		return nil, nil, fmt.Errorf("%w: frame wants %d payload bytes, have %d",
			ErrFrameTruncated, payloadLen, rest)
	}
	if plainLen > maxPlainLen {
		return nil, nil, fmt.Errorf("%w: plaintext length %d exceeds limit", ErrBadFrame, plainLen)
	}
	end := uint64(n+m) + payloadLen

	r := flate.NewReader(bytes.NewReader(src[uint64(n+m):end]))
	defer r.Close()

	plain = make([]byte, plainLen)
	if _, err := io.ReadFull(r, plain); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	// The stream must end exactly at plainLen bytes.
	var one [1]byte
	if k, _ := r.Read(one[:]); k != 0 {
		return nil, nil, fmt.Errorf("%w: trailing data past declared length", ErrBadFrame)
	}
	return plain, src[:end], nil
}
