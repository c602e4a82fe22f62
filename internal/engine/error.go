package engine

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("database is closed")
	ErrReadOnly    = errors.New("engine instance is read-only")

	ErrKeyEmpty    = errors.New("key cannot be empty")
	ErrKeyTooLarge = errors.New("key too large")

	ErrBadSegment      = errors.New("invalid segment file")
	ErrChunkOutOfOrder = errors.New("value chunk out of order")
	ErrChunkOverflow   = errors.New("value chunks exceed declared size")
)
