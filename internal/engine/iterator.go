package engine

import (
	"bytes"
	"sort"
)

// Iterator walks keys in ascending order over a point-in-time copy of the
// index taken at creation. Values are resolved lazily through the same
// buffer/cache read path as Get, so a resolution failure (e.g. corruption)
// surfaces through Err.
type Iterator struct {
	eng     *Engine
	entries []indexEntry
	pos     int
	key     []byte
	value   []byte
	err     error
}

// NewIterator captures the current index contents and returns an iterator
// positioned before the first key.
func (e *Engine) NewIterator() (*Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	return &Iterator{eng: e, entries: e.idx.items(), pos: -1}, nil
}

// Seek positions the iterator so the following Next lands on the first key
// >= target.
func (it *Iterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return bytes.Compare(it.entries[i].key, target) >= 0
	}) - 1
}

// Next advances to the next key and resolves its value. It returns false
// when the iterator is exhausted or a value failed to resolve; check Err
// to tell the two apart.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos >= len(it.entries) {
		return false
	}
	ent := it.entries[it.pos]
	val, err := it.eng.readLocation(ent.loc)
	if err != nil {
		it.err = err
		return false
	}
	it.key, it.value = ent.key, val
	return true
}

// Key returns the current key. Valid after a true Next.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value. Valid after a true Next.
func (it *Iterator) Value() []byte { return it.value }

// Err returns the first value-resolution error, if any.
func (it *Iterator) Err() error { return it.err }
