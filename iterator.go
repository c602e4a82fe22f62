package marlindb

import "marlindb/internal/engine"

// Iterator walks keys in ascending order over a view captured when the
// iterator was created. Usage follows the scanner pattern:
//
//	it, err := db.NewIterator()
//	for it.Next() {
//	    process(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	it *engine.Iterator
}

// Seek positions the iterator so the following Next lands on the first key
// >= target.
func (i *Iterator) Seek(target []byte) { i.it.Seek(target) }

// Next advances the iterator. It returns false at the end of the view or
// on a value-resolution error; check Err to tell the two apart.
func (i *Iterator) Next() bool { return i.it.Next() }

// Key returns the current key. Valid after a true Next.
func (i *Iterator) Key() []byte { return i.it.Key() }

// Value returns the current value. Valid after a true Next.
func (i *Iterator) Value() []byte { return i.it.Value() }

// Err returns the first error the iterator hit, if any.
func (i *Iterator) Err() error { return i.it.Err() }
