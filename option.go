package marlindb

// Options configures database behavior.
type Options struct {
	compression          bool
	compressionThreshold int    // Minimum value size in bytes before compression kicks in.
	valueCacheSize       int    // Number of materialized values kept in memory. 0 disables the cache.
	segmentMaxBytes      uint64 // Active segment is sealed and rotated past this size.
	syncWrites           bool
	logger               Logger
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		compression:          true,
		compressionThreshold: 64,
		valueCacheSize:       4096,
		segmentMaxBytes:      64 << 20, // 64MB
		logger:               DiscardLogger{},
	}
}

// Option configures database options using the functional options pattern.
type Option func(*Options)

// WithCompression enables or disables value compression. Compressed values
// are checksummed and verified on every uncached read.
//
//goland:noinspection GoUnusedExportedFunction
func WithCompression(enabled bool) Option {
	return func(opts *Options) {
		opts.compression = enabled
	}
}

// WithCompressionThreshold sets the minimum value size, in bytes, at which
// compression is attempted. Values that don't shrink are stored raw.
//
//goland:noinspection GoUnusedExportedFunction
func WithCompressionThreshold(n int) Option {
	return func(opts *Options) {
		opts.compressionThreshold = n
	}
}

// WithValueCacheSize sets how many materialized values are cached in
// memory, so hot compressed values are not re-decompressed on every read.
// 0 disables the cache.
//
//goland:noinspection GoUnusedExportedFunction
func WithValueCacheSize(n int) Option {
	return func(opts *Options) {
		opts.valueCacheSize = n
	}
}

// WithSegmentMaxBytes sets the size at which the active segment file is
// sealed and a new one started.
//
//goland:noinspection GoUnusedExportedFunction
func WithSegmentMaxBytes(n uint64) Option {
	return func(opts *Options) {
		opts.segmentMaxBytes = n
	}
}

// WithSyncWrites makes every write fsync before returning. Maximum
// durability, fsync-bound throughput.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncWrites() Option {
	return func(opts *Options) {
		opts.syncWrites = true
	}
}

// WithLogger sets the logger used for engine diagnostics. The default
// discards everything.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

func (o Options) engineConfig() engineConfig {
	return engineConfig{
		Compression:          o.compression,
		CompressionThreshold: o.compressionThreshold,
		SegmentMaxBytes:      o.segmentMaxBytes,
		ValueCacheSize:       o.valueCacheSize,
		SyncWrites:           o.syncWrites,
		Logger:               o.logger,
	}
}
