package tablepress

import (
	"io"
	"log"
	"runtime"
)

const (
	// defaultEntryBits is the bit width of table entry values.
	defaultEntryBits = 32

	// defaultBuckets is the number of origin buckets the earlier phases
	// partitioned the tables into.
	defaultBuckets = 64

	// defaultLPBuckets is the number of line-point buckets.
	defaultLPBuckets = 256

	// defaultExtraL is the number of l-table entries carried across a bucket
	// boundary so right pointers near the edge stay in bounds.
	defaultExtraL = 1024
)

// Option is a functional option for configuring the phase.
type Option func(*config)

type config struct {
	entryBits  uint32
	numBuckets uint32
	lpBuckets  uint32
	extraL     uint32
	workers    int
	logger     *log.Logger
	park       ParkWriter
	validate   bool
}

func defaultConfig() *config {
	return &config{
		entryBits:  defaultEntryBits,
		numBuckets: defaultBuckets,
		lpBuckets:  defaultLPBuckets,
		extraL:     defaultExtraL,
		workers:    runtime.GOMAXPROCS(0),
		logger:     log.New(io.Discard, "", 0),
	}
}

// WithEntryBits sets the entry bit width K. Entry values and origin keys must
// fit in K bits; line points occupy 2K-1 bits.
func WithEntryBits(k uint32) Option {
	return func(c *config) {
		c.entryBits = k
	}
}

// WithBuckets sets the number of origin buckets. Must be a power of two and
// match the layout the earlier phases produced.
func WithBuckets(n uint32) Option {
	return func(c *config) {
		c.numBuckets = n
	}
}

// WithLPBuckets sets the number of line-point buckets. Must be a power of
// two; it may differ from the origin bucket count.
func WithLPBuckets(n uint32) Option {
	return func(c *config) {
		c.lpBuckets = n
	}
}

// WithExtraL sets the cross-bucket overshoot: how many l-table entries are
// carried from the next bucket. Must exceed the largest right-pointer offset.
func WithExtraL(n uint32) Option {
	return func(c *config) {
		c.extraL = n
	}
}

// WithWorkers sets the number of parallel workers for the compute passes.
// Output is byte-identical across runs with the same worker count.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithLogger sets the progress logger. The default discards all output.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithParkWriter sets the consumer for sorted line-point buckets.
func WithParkWriter(pw ParkWriter) Option {
	return func(c *config) {
		c.park = pw
	}
}

// WithValidation enables bounds checks in the hot loops: back pointers
// against the loaded l-table bucket and reverse-map keys against their
// origin bucket. Violations abort the phase instead of corrupting output.
func WithValidation() Option {
	return func(c *config) {
		c.validate = true
	}
}
