package engine

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

// cacheKey identifies a stored value by position. Segments are append-only,
// so a position never holds different bytes over its lifetime and cached
// entries never go stale.
type cacheKey struct {
	fileID uint32
	off    uint64
}

func hashCacheKey(k cacheKey) uint32 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], k.fileID)
	binary.LittleEndian.PutUint64(b[4:12], k.off)
	return uint32(xxhash.Sum64(b[:]))
}

// valueCache holds materialized values so repeated reads of a compressed
// value skip decompression and verification. A nil cache is valid and
// caches nothing.
type valueCache struct {
	lru *freelru.SyncedLRU[cacheKey, []byte]
}

func newValueCache(capacity int) (*valueCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	lru, err := freelru.NewSynced[cacheKey, []byte](uint32(capacity), hashCacheKey)
	if err != nil {
		return nil, err
	}
	return &valueCache{lru: lru}, nil
}

func (c *valueCache) get(k cacheKey) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(k)
}

func (c *valueCache) add(k cacheKey, v []byte) {
	if c == nil {
		return
	}
	c.lru.Add(k, v)
}

func (c *valueCache) purge() {
	if c != nil {
		c.lru.Purge()
	}
}

func (c *valueCache) metrics() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	m := c.lru.Metrics()
	return m.Hits, m.Misses
}
