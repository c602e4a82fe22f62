package marlindb

import (
	"sync"
	"sync/atomic"

	"marlindb/internal/engine"
)

// Snapshot is an isolated, read-only, point-in-time view of the database.
//
// It is backed by a private read-only engine instance bound to the segment
// prefixes that were visible when the snapshot was taken, so it keeps
// serving a consistent view regardless of later writes, deletes, or
// segment rotation on the live database. Mutations through a snapshot
// always fail.
//
// A snapshot has exactly two states, open and closed, and the transition
// is one-way. Close is idempotent and safe to race: the resources are
// released exactly once, whether the caller closes explicitly, twice, or
// leaves it to DB.Close.
type Snapshot struct {
	db   *DB
	ro   *engine.Engine
	id   uint32
	refs []engine.SegmentRef

	closeMu sync.Mutex
	closed  atomic.Bool
}

// ID returns the engine-assigned snapshot identifier.
func (s *Snapshot) ID() uint32 { return s.id }

// Open is a no-op: a snapshot is ready to serve reads from construction.
func (s *Snapshot) Open() error { return nil }

// Get returns the value key had when the snapshot was taken. Found,
// not-found, and engine failures all pass through from the read-only
// instance unchanged; the isolation guarantee comes entirely from that
// instance seeing only the captured segment prefixes.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	return s.ro.Get(key)
}

// Put always fails: a snapshot is read-only by construction.
func (s *Snapshot) Put(key, value []byte) error {
	return ErrSnapshotReadOnly
}

// PutChunk always fails: a snapshot is read-only by construction.
func (s *Snapshot) PutChunk(key, chunk []byte, offset, total uint64) error {
	return ErrSnapshotReadOnly
}

// Delete always fails: a snapshot is read-only by construction.
func (s *Snapshot) Delete(key []byte) error {
	return ErrSnapshotReadOnly
}

// NewSnapshot fails: snapshots are not themselves snapshot-able.
func (s *Snapshot) NewSnapshot() (*Snapshot, error) {
	return nil, ErrNestedSnapshot
}

// NewIterator iterates the captured view in key order. Iteration never
// observes segments created after the snapshot was taken.
func (s *Snapshot) NewIterator() (*Iterator, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	it, err := s.ro.NewIterator()
	if err != nil {
		return nil, err
	}
	return &Iterator{it: it}, nil
}

// Close releases the snapshot: the captured segment list is dropped, the
// live engine is told the snapshot id is no longer held (so it may reclaim
// segments no snapshot needs), and the private read-only instance is shut
// down. Subsequent calls are no-ops.
func (s *Snapshot) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.refs = nil
	s.db.eng.ReleaseSnapshot(s.id)
	err := s.ro.Close()
	s.db.forgetSnapshot(s.id)
	return err
}
