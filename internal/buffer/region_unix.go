//go:build linux || darwin

package buffer

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Region owns an open file descriptor and a read-only shared mapping of the
// file. Regions are reference-counted: the engine holds one reference per
// open segment and every Mapped buffer holds one more. The mapping and
// descriptor are released when the last reference is dropped.
//
// The mapping is never written through, so concurrent reads from any number
// of goroutines are safe without synchronization.
type Region struct {
	path string // diagnostic only
	file *os.File
	data []byte
	refs atomic.Int32
}

// OpenRegion opens path read-only and maps exactly length bytes at offset
// 0. Failure to open or map is returned to the caller; a library component
// never gets to take its host process down over a bad file.
//
// The returned region starts with a single reference owned by the caller.
func OpenRegion(path string, length int64) (*Region, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}

	if length == 0 {
		// Zero-length mappings are invalid; model an empty file as an
		// open descriptor with no bytes.
		r := &Region{path: path, file: file}
		r.refs.Store(1)
		return r, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(length),
		unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap region %s (%d bytes): %w", path, length, err)
	}

	r := &Region{path: path, file: file, data: data}
	r.refs.Store(1)
	return r, nil
}

// Path returns the file path the region was opened from.
func (r *Region) Path() string { return r.path }

// Len returns the mapped length in bytes.
func (r *Region) Len() int { return len(r.data) }

// Data returns the mapped bytes. Callers must not retain the slice past
// their reference to the region.
func (r *Region) Data() []byte { return r.data }

// Retain takes an additional reference.
func (r *Region) Retain() { r.refs.Add(1) }

// Release drops one reference. The last release unmaps and closes;
// teardown failures on that path are best-effort and reported, never
// retried.
func (r *Region) Release() error {
	if n := r.refs.Add(-1); n > 0 {
		return nil
	}
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
