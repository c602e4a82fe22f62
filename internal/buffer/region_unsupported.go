//go:build !linux && !darwin

package buffer

// Region is unavailable on platforms without mmap support.
type Region struct {
	path string
	data []byte
}

func OpenRegion(path string, length int64) (*Region, error) {
	return nil, ErrMmapUnsupported
}

func (r *Region) Path() string { return r.path }

func (r *Region) Len() int { return len(r.data) }

func (r *Region) Data() []byte { return r.data }

func (r *Region) Retain() {}

func (r *Region) Release() error { return nil }
