package engine

import (
	"bytes"

	"github.com/google/btree"
)

// location tells the read path where a value's stored bytes live.
type location struct {
	fileID   uint32
	off      uint64 // offset of the stored value bytes within the file
	size     uint64 // logical (decompressed) value size
	sizeComp uint64 // stored frame size, 0 when raw
	checksum uint32 // CRC-32C over the stored bytes
}

func (loc location) storedLen() uint64 {
	if loc.sizeComp > 0 {
		return loc.sizeComp
	}
	return loc.size
}

type indexEntry struct {
	key []byte
	loc location
}

// index maps keys to value locations in an in-memory ordered tree. Callers
// serialize access; the engine holds its own lock around index operations.
type index struct {
	tree *btree.BTreeG[indexEntry]
}

func newIndex() *index {
	return &index{
		tree: btree.NewG(32, func(a, b indexEntry) bool {
			return bytes.Compare(a.key, b.key) < 0
		}),
	}
}

// put records key's current location. The key is copied; segment scan
// buffers do not outlive the scan.
func (ix *index) put(key []byte, loc location) {
	k := make([]byte, len(key))
	copy(k, key)
	ix.tree.ReplaceOrInsert(indexEntry{key: k, loc: loc})
}

func (ix *index) get(key []byte) (location, bool) {
	ent, ok := ix.tree.Get(indexEntry{key: key})
	if !ok {
		return location{}, false
	}
	return ent.loc, true
}

func (ix *index) delete(key []byte) {
	ix.tree.Delete(indexEntry{key: key})
}

func (ix *index) len() int { return ix.tree.Len() }

// items returns an ascending point-in-time copy of all entries.
func (ix *index) items() []indexEntry {
	out := make([]indexEntry, 0, ix.tree.Len())
	ix.tree.Ascend(func(ent indexEntry) bool {
		out = append(out, ent)
		return true
	})
	return out
}
