// Package engine implements the log-structured storage engine underneath
// the public API: numbered append-only segment files, an in-memory ordered
// index, mmap-backed reads through the buffer layer, and snapshot
// bookkeeping.
package engine

import (
	"fmt"
	"os"
	"sync"

	"marlindb/internal/buffer"
	"marlindb/internal/codec"
)

const MaxKeySize = 1 << 16

// Logger matches the public logging interface; see the root package.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Info(string, ...any)  {}

// Config carries engine tunables, populated from the public options.
type Config struct {
	Compression          bool
	CompressionThreshold int    // compress values at least this long
	SegmentMaxBytes      uint64 // rotate the active segment past this size
	ValueCacheSize       int    // materialized-value cache entries, 0 disables
	SyncWrites           bool
	Logger               Logger
}

func (c Config) withDefaults() Config {
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = 64
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = 64 << 20
	}
	if c.Logger == nil {
		c.Logger = discardLogger{}
	}
	return c
}

// SegmentRef identifies one segment file and how many of its bytes were
// visible at capture time. A snapshot's view is the captured prefix of each
// file; records appended later fall outside every captured ref.
type SegmentRef struct {
	ID   uint32
	Size uint64
}

// pendingValue assembles a chunked value in a shared buffer before commit.
type pendingValue struct {
	buf      *buffer.SharedOwned
	received uint64
	total    uint64
}

// Engine is one instance over a segment directory. The live engine owns
// the active segment writer; read-only instances (snapshot views) carry no
// writer and index only their captured segment prefixes.
type Engine struct {
	dir string
	cfg Config
	log Logger

	readonly bool

	mu      sync.RWMutex // index, writer, pending, snapshots, closed
	idx     *index
	writer  *segmentWriter
	sizes   map[uint32]uint64 // known clean length per segment
	pending map[string]*pendingValue

	snapshots    map[uint32][]SegmentRef
	nextSnapshot uint32
	released     uint64

	regMu   sync.Mutex // regions map; region swaps on active-segment growth
	regions map[uint32]*buffer.Region

	cache  *valueCache
	closed bool
}

// Open opens (creating if needed) the engine in dir, rebuilds the index
// from existing segments, and starts a fresh active segment. Previous
// segments are never appended to again.
func Open(dir string, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	cache, err := newValueCache(cfg.ValueCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:       dir,
		cfg:       cfg,
		log:       cfg.Logger,
		idx:       newIndex(),
		sizes:     make(map[uint32]uint64),
		pending:   make(map[string]*pendingValue),
		snapshots: make(map[uint32][]SegmentRef),
		regions:   make(map[uint32]*buffer.Region),
		cache:     cache,
	}

	ids, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	var maxID uint32
	for _, id := range ids {
		if err := e.loadSegment(id, 0); err != nil {
			e.releaseRegions()
			return nil, err
		}
		if id > maxID {
			maxID = id
		}
	}

	w, err := createSegment(dir, maxID+1, cfg.SyncWrites)
	if err != nil {
		e.releaseRegions()
		return nil, err
	}
	e.writer = w
	e.sizes[w.id] = w.off
	return e, nil
}

// OpenReadOnly opens an engine over exactly the captured segment prefixes.
// The instance has no writer; every mutation fails with ErrReadOnly.
func OpenReadOnly(dir string, refs []SegmentRef, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	cache, err := newValueCache(cfg.ValueCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:      dir,
		cfg:      cfg,
		log:      cfg.Logger,
		readonly: true,
		idx:      newIndex(),
		sizes:    make(map[uint32]uint64),
		regions:  make(map[uint32]*buffer.Region),
		cache:    cache,
	}
	for _, ref := range refs {
		if ref.Size <= segHeaderSize {
			continue
		}
		if err := e.loadSegment(ref.ID, ref.Size); err != nil {
			e.releaseRegions()
			return nil, err
		}
	}
	return e, nil
}

// loadSegment maps one segment file and replays its records into the
// index. limit bounds the replay for captured prefixes; 0 replays the
// whole file. On the live recovery path a torn tail is logged and the
// clean prefix kept; under an explicit limit corruption is an error.
func (e *Engine) loadSegment(id uint32, limit uint64) error {
	path := segmentPath(e.dir, id)
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := uint64(st.Size())
	if size <= segHeaderSize && limit == 0 {
		// Empty segment left behind by a previous run.
		return nil
	}

	region, err := buffer.OpenRegion(path, st.Size())
	if err != nil {
		return err
	}

	scanLimit := size
	if limit > 0 {
		scanLimit = limit
	}
	clean, err := scanSegment(region.Data(), id, scanLimit, func(rec record) {
		if rec.tombstone() {
			e.idx.delete(rec.key)
			return
		}
		e.idx.put(rec.key, location{
			fileID:   id,
			off:      rec.valOff,
			size:     rec.size,
			sizeComp: rec.sizeComp,
			checksum: rec.checksum,
		})
	})
	if err != nil {
		if limit > 0 {
			region.Release()
			return err
		}
		// Recovery tolerates a torn tail: keep the clean prefix.
		e.log.Warn("segment has torn tail, truncating replay",
			"segment", id, "clean", clean, "size", size, "error", err)
	}

	e.regions[id] = region
	e.sizes[id] = clean
	return nil
}

// Put stores value under key.
func (e *Engine) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.readonly {
		return ErrReadOnly
	}
	return e.putLocked(key, value)
}

func (e *Engine) putLocked(key, value []byte) error {
	stored := value
	var sizeComp uint64
	if e.cfg.Compression && len(value) >= e.cfg.CompressionThreshold {
		frame, err := codec.Compress(value)
		if err != nil {
			return err
		}
		// Store the frame only when it actually saves space.
		if len(frame) < len(value) {
			stored = frame
			sizeComp = uint64(len(frame))
		}
	}

	checksum := codec.Checksum(stored)
	valOff, err := e.writer.appendRecord(0, key, stored,
		uint64(len(value)), sizeComp, checksum)
	if err != nil {
		return err
	}
	e.sizes[e.writer.id] = e.writer.off
	e.idx.put(key, location{
		fileID:   e.writer.id,
		off:      valOff,
		size:     uint64(len(value)),
		sizeComp: sizeComp,
		checksum: checksum,
	})
	return e.maybeRotate()
}

// Delete removes key. Deleting an absent key is not an error.
func (e *Engine) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.readonly {
		return ErrReadOnly
	}

	if _, err := e.writer.appendRecord(tombstoneFlag, key, nil, 0, 0, 0); err != nil {
		return err
	}
	e.sizes[e.writer.id] = e.writer.off
	e.idx.delete(key)
	return e.maybeRotate()
}

// PutChunk feeds one in-order chunk of a value of known total size. The
// chunks are assembled in a shared buffer grown chunk by chunk; the value
// becomes visible atomically once the final chunk lands.
func (e *Engine) PutChunk(key, chunk []byte, offset, total uint64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.readonly {
		return ErrReadOnly
	}

	k := string(key)
	pv, ok := e.pending[k]
	if !ok {
		if offset != 0 {
			return fmt.Errorf("%w: first chunk at offset %d", ErrChunkOutOfOrder, offset)
		}
		pv = &pendingValue{buf: buffer.NewSharedOwnedSize(total), total: total}
		pv.buf.Window(0, 0)
		e.pending[k] = pv
	}
	if pv.total != total {
		return fmt.Errorf("%w: total changed from %d to %d", ErrChunkOverflow, pv.total, total)
	}
	if offset != pv.received {
		return fmt.Errorf("%w: chunk at %d, expected %d", ErrChunkOutOfOrder, offset, pv.received)
	}
	if offset+uint64(len(chunk)) > total {
		return fmt.Errorf("%w: %d bytes past declared %d", ErrChunkOverflow,
			offset+uint64(len(chunk))-total, total)
	}

	copy(pv.buf.Backing()[offset:], chunk)
	pv.buf.GrowBy(uint64(len(chunk)))
	pv.received += uint64(len(chunk))

	if pv.received < total {
		return nil
	}
	delete(e.pending, k)
	return e.putLocked(key, pv.buf.Backing())
}

// Get returns a copy of the value stored under key.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	loc, ok := e.idx.get(key)
	e.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return e.readLocation(loc)
}

// readLocation materializes the value at loc through the buffer layer,
// consulting the value cache first.
func (e *Engine) readLocation(loc location) ([]byte, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	ck := cacheKey{fileID: loc.fileID, off: loc.off}
	if v, ok := e.cache.get(ck); ok {
		return append([]byte(nil), v...), nil
	}

	region, err := e.regionFor(loc.fileID, loc.off+loc.storedLen())
	if err != nil {
		return nil, err
	}
	defer region.Release()
	buf := buffer.NewMapped(region, codec.Inflater{}, new(codec.CRC32Stream))
	defer buf.Close()
	buf.Window(loc.off, loc.size)
	if loc.sizeComp > 0 {
		buf.SetCompressedSize(loc.sizeComp)
		buf.SetChecksum(loc.checksum)
	}

	plain, err := buf.Materialize()
	if err != nil {
		return nil, err
	}
	// plain may alias the mapping (uncompressed fast path); copy out.
	out := make([]byte, len(plain))
	copy(out, plain)
	e.cache.add(ck, out)
	return append([]byte(nil), out...), nil
}

// regionFor returns a mapping of fileID covering at least need bytes,
// remapping when the active segment has grown past the current mapping.
// The returned region carries a reference owned by the caller, taken
// under regMu so a concurrent remap cannot unmap it first; the caller
// must Release it. Superseded mappings stay alive until every holder of
// such a reference drops it.
func (e *Engine) regionFor(fileID uint32, need uint64) (*buffer.Region, error) {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	if r, ok := e.regions[fileID]; ok && r != nil && uint64(r.Len()) >= need {
		r.Retain()
		return r, nil
	}

	path := segmentPath(e.dir, fileID)
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if uint64(st.Size()) < need {
		return nil, fmt.Errorf("%w: segment %d is %d bytes, need %d",
			ErrBadSegment, fileID, st.Size(), need)
	}
	region, err := buffer.OpenRegion(path, st.Size())
	if err != nil {
		return nil, err
	}
	if old := e.regions[fileID]; old != nil {
		old.Release()
	}
	e.regions[fileID] = region
	region.Retain()
	return region, nil
}

// maybeRotate seals the active segment and starts a new one once it passes
// the size threshold. Sealed segments are immutable from then on.
func (e *Engine) maybeRotate() error {
	if e.writer.off < e.cfg.SegmentMaxBytes {
		return nil
	}
	old := e.writer
	if err := old.close(); err != nil {
		return err
	}
	w, err := createSegment(e.dir, old.id+1, e.cfg.SyncWrites)
	if err != nil {
		return err
	}
	e.log.Info("rotated segment", "sealed", old.id, "bytes", old.off, "active", w.id)
	e.writer = w
	e.sizes[w.id] = w.off
	return nil
}

// AcquireSnapshot captures the set of segment prefixes visible right now
// and registers the snapshot with the engine. Registered segments are
// never deleted until every snapshot referencing them is released.
func (e *Engine) AcquireSnapshot() (uint32, []SegmentRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, nil, ErrClosed
	}
	if e.readonly {
		return 0, nil, ErrReadOnly
	}

	refs := make([]SegmentRef, 0, len(e.sizes))
	ids, err := listSegments(e.dir)
	if err != nil {
		return 0, nil, err
	}
	for _, id := range ids {
		size, ok := e.sizes[id]
		if !ok || size <= segHeaderSize {
			continue
		}
		refs = append(refs, SegmentRef{ID: id, Size: size})
	}

	id := e.nextSnapshot
	e.nextSnapshot++
	e.snapshots[id] = refs
	return id, refs, nil
}

// ReleaseSnapshot drops the registration for id. Idempotent: releasing an
// unknown or already-released id is a no-op.
func (e *Engine) ReleaseSnapshot(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.snapshots[id]; !ok {
		return
	}
	delete(e.snapshots, id)
	e.released++
}

// SnapshotRefs reports whether any live snapshot still references segment
// fileID.
func (e *Engine) SnapshotRefs(fileID uint32) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, refs := range e.snapshots {
		for _, ref := range refs {
			if ref.ID == fileID {
				return true
			}
		}
	}
	return false
}

// Stats is a point-in-time engine counters snapshot.
type Stats struct {
	Segments          int
	Keys              int
	OpenSnapshots     int
	SnapshotsReleased uint64
	CacheHits         uint64
	CacheMisses       uint64
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hits, misses := e.cache.metrics()
	return Stats{
		Segments:          len(e.sizes),
		Keys:              e.idx.len(),
		OpenSnapshots:     len(e.snapshots),
		SnapshotsReleased: e.released,
		CacheHits:         hits,
		CacheMisses:       misses,
	}
}

// Close seals the writer, releases every mapping reference the engine
// holds, and empties the cache. Idempotent. Mapped buffers still held by
// callers keep their regions alive until closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.writer != nil {
		err = e.writer.close()
	}
	e.releaseRegions()
	e.cache.purge()
	return err
}

func (e *Engine) releaseRegions() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	for id, region := range e.regions {
		if region != nil {
			if err := region.Release(); err != nil {
				e.log.Warn("failed to release region", "segment", id, "error", err)
			}
		}
	}
	e.regions = make(map[uint32]*buffer.Region)
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}
