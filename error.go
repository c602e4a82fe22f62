package marlindb

import (
	"errors"

	"marlindb/internal/buffer"
	"marlindb/internal/codec"
	"marlindb/internal/engine"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrKeyNotFound    = engine.ErrKeyNotFound
	ErrDatabaseClosed = engine.ErrClosed
	ErrKeyEmpty       = engine.ErrKeyEmpty
	ErrKeyTooLarge    = engine.ErrKeyTooLarge

	ErrSnapshotReadOnly = errors.New("operation not supported: snapshot is read-only")
	ErrSnapshotClosed   = errors.New("snapshot is closed")
	ErrNestedSnapshot   = errors.New("snapshots cannot be snapshotted")

	ErrChecksumMismatch = buffer.ErrChecksumMismatch
	ErrBadSegment       = engine.ErrBadSegment
	ErrBadFrame         = codec.ErrBadFrame
	ErrChunkOutOfOrder  = engine.ErrChunkOutOfOrder
	ErrChunkOverflow    = engine.ErrChunkOverflow
)
