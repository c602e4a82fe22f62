// Package marlindb is an embedded log-structured key-value store with
// lazy, integrity-checked value materialization and point-in-time
// snapshots.
//
// Values live in append-only segment files and are read through read-only
// memory mappings; compressed values are decompressed and CRC-verified on
// demand, never returned partially verified. A Snapshot is an isolated
// read-only view backed by its own engine instance bound to the segment
// prefixes visible when the snapshot was taken.
package marlindb

import (
	"sync"

	"marlindb/internal/engine"
)

type engineConfig = engine.Config

// DB is the live database handle. Safe for concurrent use.
type DB struct {
	path string
	opts Options
	eng  *engine.Engine

	mu        sync.Mutex // snapshots registry and closed flag
	snapshots map[uint32]*Snapshot
	closed    bool
}

// Open opens the database at path, creating it if needed, and recovers the
// index from existing segment files.
func Open(path string, options ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	eng, err := engine.Open(path, opts.engineConfig())
	if err != nil {
		return nil, err
	}

	return &DB{
		path:      path,
		opts:      opts,
		eng:       eng,
		snapshots: make(map[uint32]*Snapshot),
	}, nil
}

// Get returns a copy of the value stored under key, or ErrKeyNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.eng.Get(key)
}

// Put stores value under key.
func (db *DB) Put(key, value []byte) error {
	return db.eng.Put(key, value)
}

// PutChunk streams one in-order chunk of a value of known total size. The
// value becomes visible atomically when the final chunk arrives.
func (db *DB) PutChunk(key, chunk []byte, offset, total uint64) error {
	return db.eng.PutChunk(key, chunk, offset, total)
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(key []byte) error {
	return db.eng.Delete(key)
}

// NewIterator returns an iterator over the live database in key order.
func (db *DB) NewIterator() (*Iterator, error) {
	it, err := db.eng.NewIterator()
	if err != nil {
		return nil, err
	}
	return &Iterator{it: it}, nil
}

// NewSnapshot captures a point-in-time read-only view. The view never
// observes writes that land after this call returns; the caller must Close
// it to release its resources (Close on the DB closes any still open).
func (db *DB) NewSnapshot() (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	id, refs, err := db.eng.AcquireSnapshot()
	if err != nil {
		return nil, err
	}

	roCfg := db.opts.engineConfig()
	ro, err := engine.OpenReadOnly(db.path, refs, roCfg)
	if err != nil {
		db.eng.ReleaseSnapshot(id)
		return nil, err
	}

	s := &Snapshot{db: db, ro: ro, id: id, refs: refs}
	db.snapshots[id] = s
	return s, nil
}

// Stats returns point-in-time engine counters.
func (db *DB) Stats() engine.Stats {
	return db.eng.Stats()
}

// Close shuts the database down: every snapshot still open is closed
// (releasing its resources exactly once), then the engine itself.
// Idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	snaps := make([]*Snapshot, 0, len(db.snapshots))
	for _, s := range db.snapshots {
		snaps = append(snaps, s)
	}
	db.mu.Unlock()

	var err error
	for _, s := range snaps {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := db.eng.Close(); err == nil {
		err = cerr
	}
	return err
}

func (db *DB) forgetSnapshot(id uint32) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.snapshots, id)
}
