package diskqueue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/plotforge/tablepress"
	tperrors "github.com/plotforge/tablepress/errors"
)

// fileSet is one partitioned file: bucketCount seekable streams named
// <dir>/<name>.<bucket>. Reads go through a lazily-established read-only
// mapping of the bucket file; writes use pwrite, which stays coherent with
// the mapping through the unified page cache.
type fileSet struct {
	name    string
	dir     string
	buckets []bucketFile
}

type bucketFile struct {
	file   *os.File
	size   int64 // current file size
	offset int64 // stream cursor, shared by reads and writes
	mapped mmap.MMap
}

func newFileSet(dir, name string, bucketCount uint32) *fileSet {
	return &fileSet{
		name:    name,
		dir:     dir,
		buckets: make([]bucketFile, bucketCount),
	}
}

func (s *fileSet) path(bucket uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d", s.name, bucket))
}

func (s *fileSet) bucket(bucket uint32) (*bucketFile, error) {
	if bucket >= uint32(len(s.buckets)) {
		return nil, fmt.Errorf("%w: %s bucket %d of %d",
			tperrors.ErrBucketRange, s.name, bucket, len(s.buckets))
	}
	b := &s.buckets[bucket]
	if b.file == nil {
		f, err := os.OpenFile(s.path(bucket), os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
		}
		fadviseSequential(int(f.Fd()), 0, 0)
		b.file = f
		b.size = info.Size()
	}
	return b, nil
}

// ensureMapped (re)maps the bucket file covering its current size.
func (b *bucketFile) ensureMapped() error {
	if b.mapped != nil && int64(len(b.mapped)) >= b.size {
		return nil
	}
	if b.mapped != nil {
		if err := b.mapped.Unmap(); err != nil {
			return err
		}
		b.mapped = nil
	}
	if b.size == 0 {
		return nil
	}
	m, err := mmap.MapRegion(b.file, int(b.size), mmap.RDONLY, 0, 0)
	if err != nil {
		return err
	}
	madviseSequential(m)
	b.mapped = m
	return nil
}

func (s *fileSet) seek(bucket uint32, offset int64, origin tablepress.SeekOrigin) error {
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	switch origin {
	case tablepress.SeekBegin:
		b.offset = offset
	case tablepress.SeekCurrent:
		b.offset += offset
	case tablepress.SeekEnd:
		b.offset = b.size + offset
	}
	return nil
}

func (s *fileSet) read(bucket uint32, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if b.offset+int64(len(dst)) > b.size {
		return fmt.Errorf("%w: %s.%d: %d bytes at %d, file holds %d",
			tperrors.ErrShortRead, s.name, bucket, len(dst), b.offset, b.size)
	}
	if err := b.ensureMapped(); err != nil {
		return err
	}
	copy(dst, b.mapped[b.offset:])
	b.offset += int64(len(dst))
	return nil
}

func (s *fileSet) write(bucket uint32, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if _, err := b.file.WriteAt(src, b.offset); err != nil {
		return err
	}
	b.offset += int64(len(src))
	if b.offset > b.size {
		b.size = b.offset
	}
	return nil
}

func (s *fileSet) truncate(bucket uint32, size int64) error {
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	// Drop any read mapping: it may cover bytes past the new size.
	if b.mapped != nil {
		if err := b.mapped.Unmap(); err != nil {
			return err
		}
		b.mapped = nil
	}
	if err := b.file.Truncate(size); err != nil {
		return err
	}
	b.size = size
	if b.offset > size {
		b.offset = size
	}
	return nil
}

func (s *fileSet) delete(bucket uint32) error {
	if bucket >= uint32(len(s.buckets)) {
		return fmt.Errorf("%w: %s bucket %d of %d",
			tperrors.ErrBucketRange, s.name, bucket, len(s.buckets))
	}
	b := &s.buckets[bucket]
	if b.mapped != nil {
		if err := b.mapped.Unmap(); err != nil {
			return err
		}
		b.mapped = nil
	}
	if b.file != nil {
		if err := b.file.Close(); err != nil {
			return err
		}
		b.file = nil
	}
	b.size = 0
	b.offset = 0
	if err := os.Remove(s.path(bucket)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileSet) close() error {
	var firstErr error
	for i := range s.buckets {
		b := &s.buckets[i]
		if b.mapped != nil {
			if err := b.mapped.Unmap(); err != nil && firstErr == nil {
				firstErr = err
			}
			b.mapped = nil
		}
		if b.file != nil {
			if err := b.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			b.file = nil
		}
	}
	return firstErr
}
