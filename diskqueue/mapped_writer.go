package diskqueue

import (
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	tperrors "github.com/plotforge/tablepress/errors"
)

// MappedWriter writes a file of known maximum size through a memory mapping:
// the file is pre-allocated (preventing SIGBUS on disk full), mapped
// read-write, prefaulted, and filled by plain copies. Finalize truncates to
// the bytes actually written. A streaming xxHash digest of the content is
// available after Finalize.
//
// The earlier-phase artifact files (x stream, back pointers, maps, marks)
// are emitted this way by the dataset tooling: their sizes are known from
// the entry counts, so the zero-copy path applies.
type MappedWriter struct {
	file   *os.File
	mapped mmap.MMap
	offset int64
	hash   *xxhash.Digest
}

// NewMappedWriter creates path pre-allocated to maxSize bytes and maps it.
func NewMappedWriter(path string, maxSize int64) (*MappedWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := fallocateFile(file, maxSize); err != nil {
		primaryErr := fmt.Errorf("allocate %s: %w", path, err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(path))
	}
	m, err := mmap.MapRegion(file, int(maxSize), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("map %s: %w", path, err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(path))
	}
	prefaultRegion(m)

	return &MappedWriter{
		file:   file,
		mapped: m,
		hash:   xxhash.New(),
	}, nil
}

// Write appends data at the current offset.
func (w *MappedWriter) Write(data []byte) (int, error) {
	if w.mapped == nil {
		return 0, tperrors.ErrWriterFinalized
	}
	if w.offset+int64(len(data)) > int64(len(w.mapped)) {
		return 0, fmt.Errorf("%w: %d bytes at %d, region is %d",
			tperrors.ErrWriterOverflow, len(data), w.offset, len(w.mapped))
	}
	copy(w.mapped[w.offset:], data)
	// Digest.Write never returns an error.
	_, _ = w.hash.Write(data)
	w.offset += int64(len(data))
	return len(data), nil
}

// Written returns the number of bytes written so far.
func (w *MappedWriter) Written() int64 {
	return w.offset
}

// Digest returns the xxHash64 of everything written so far.
func (w *MappedWriter) Digest() uint64 {
	return w.hash.Sum64()
}

// Finalize flushes the mapping, truncates the file to the written length,
// and closes it. The writer is unusable afterwards.
func (w *MappedWriter) Finalize() error {
	if w.mapped == nil {
		return tperrors.ErrWriterFinalized
	}
	if err := w.mapped.Flush(); err != nil {
		primaryErr := fmt.Errorf("flush failed: %w", err)
		return errors.Join(primaryErr, w.Close())
	}

	// Unmap before truncate (required order). Nil the mapping regardless of
	// outcome so Close does not retry.
	unmapErr := w.mapped.Unmap()
	w.mapped = nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, w.Close())
	}

	if err := w.file.Truncate(w.offset); err != nil {
		primaryErr := fmt.Errorf("truncate failed: %w", err)
		return errors.Join(primaryErr, w.Close())
	}

	closeErr := w.file.Close()
	w.file = nil
	return closeErr
}

// Close releases resources without truncating (for error cleanup).
// Idempotent: safe to call multiple times.
func (w *MappedWriter) Close() error {
	var unmapErr error
	if w.mapped != nil {
		unmapErr = w.mapped.Unmap()
		w.mapped = nil
	}
	var closeErr error
	if w.file != nil {
		closeErr = w.file.Close()
		w.file = nil
	}
	return errors.Join(unmapErr, closeErr)
}
