// Package errors defines all exported error sentinels for the tablepress library.
//
// This is the single source of truth for error values. Both the top-level
// tablepress package and the diskqueue package import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Construction errors. Configuration problems are detected before any I/O
// happens; the phase never starts.
var (
	ErrBucketCountNotPow2   = errors.New("tablepress: bucket count must be a power of two between 2 and 2^K")
	ErrLPBucketCountNotPow2 = errors.New("tablepress: line-point bucket count must be a power of two between 2 and 2^(2K)")
	ErrEntryWidthTooLarge   = errors.New("tablepress: entry bit width must be between 1 and 32")
	ErrBucketOverflow       = errors.New("tablepress: bucket entry count exceeds the origin bucket capacity")
	ErrCountMismatch        = errors.New("tablepress: bucket counts do not sum to the table entry count")
	ErrExtraLTooSmall       = errors.New("tablepress: cross-bucket overshoot must be positive")
	ErrNoWorkers            = errors.New("tablepress: worker count must be positive")
)

// Runtime errors. All of these are fatal for the run; the phase is
// all-or-nothing.
var (
	ErrPhaseFailed       = errors.New("tablepress: phase aborted")
	ErrPointerOutOfRange = errors.New("tablepress: back pointer outside the loaded l-table bucket")
	ErrUnpackOutOfRange  = errors.New("tablepress: reverse-map key outside its origin bucket")
	ErrScratchOverflow   = errors.New("tablepress: line-point bucket exceeds scratch capacity")
)

// Disk queue errors.
var (
	ErrQueueClosed     = errors.New("tablepress: disk queue is closed")
	ErrUnknownFileSet  = errors.New("tablepress: file set was not initialized")
	ErrFileSetExists   = errors.New("tablepress: file set already initialized")
	ErrBucketRange     = errors.New("tablepress: bucket index outside file set")
	ErrShortRead       = errors.New("tablepress: short read from bucket file")
	ErrArenaExhausted  = errors.New("tablepress: buffer arena exhausted with no outstanding buffers")
	ErrBufferTooLarge  = errors.New("tablepress: requested buffer exceeds arena capacity")
	ErrUnknownBuffer   = errors.New("tablepress: released buffer was not leased from this arena")
	ErrWriterFinalized = errors.New("tablepress: mapped writer already finalized")
	ErrWriterOverflow  = errors.New("tablepress: write exceeds mapped region")
)
