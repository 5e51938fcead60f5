package rowstore

// Options configures table behavior.
type Options struct {
	logger             Logger
	blockCapacity      int    // rows per block. 0 derives capacity from the default arena size.
	maxRows            int64  // hard cap on active rows. 0 means no limit.
	predicateCacheSize uint32 // entries in the compiled predicate-config cache.
}

func defaultOptions() Options {
	return Options{
		logger:             DiscardLogger{},
		blockCapacity:      0,
		maxRows:            0,
		predicateCacheSize: 512,
	}
}

// Option configures table options using the functional options pattern.
type Option func(*Options)

// WithLogger routes internal diagnostics to l.
// The default logger discards everything.
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

// WithBlockCapacity fixes the number of rows each block holds.
// Small capacities force frequent block turnover, which is useful for
// exercising compaction and reclamation. The default derives capacity
// from a 2MB arena and the schema's row width.
func WithBlockCapacity(rows int) Option {
	return func(opts *Options) {
		opts.blockCapacity = rows
	}
}

// WithMaxRows caps the number of active rows.
// Insert returns ErrTableFull once the cap is reached. 0 means no limit.
func WithMaxRows(n int64) Option {
	return func(opts *Options) {
		opts.maxRows = n
	}
}

// WithPredicateCacheSize sets how many compiled predicate configurations
// are kept for reuse across stream activations.
func WithPredicateCacheSize(n uint32) Option {
	return func(opts *Options) {
		opts.predicateCacheSize = n
	}
}
