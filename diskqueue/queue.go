// Package diskqueue implements the asynchronous block I/O agent the
// compression engine drives: bucketed file sets, a bounded buffer arena, and
// a single agent goroutine that executes committed command batches in FIFO
// order and signals fences.
//
// Every write is folded into a per-file-set streaming xxHash digest, so two
// runs over identical inputs can be compared byte-for-byte without re-reading
// the output files.
package diskqueue

import (
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/plotforge/tablepress"
	tperrors "github.com/plotforge/tablepress/errors"
)

const (
	// defaultArenaSize bounds the queue's outstanding buffer leases.
	defaultArenaSize = 256 << 20

	// defaultBlockSize is the assumed device alignment. Buffer accounting
	// rounds up to it.
	defaultBlockSize = 4096

	// batchChanDepth is how many committed batches may queue up before
	// CommitCommands applies backpressure.
	batchChanDepth = 64
)

type opKind int

const (
	opSeek opKind = iota
	opRead
	opWrite
	opWriteBuckets
	opDelete
	opTruncate
	opRelease
	opSignalFence
)

type command struct {
	kind   opKind
	id     tablepress.FileID
	bucket uint32
	offset int64
	origin tablepress.SeekOrigin
	buf    []byte   // read dst, write src, or release target
	sizes  []uint32 // WriteBuckets per-bucket byte counts
	fence  *tablepress.Fence
	value  uint32
}

// Option configures a Queue.
type Option func(*Queue)

// WithArenaSize sets the buffer arena capacity in bytes.
func WithArenaSize(n int64) Option {
	return func(q *Queue) { q.arenaSize = n }
}

// WithBlockSize sets the device alignment used for buffer accounting.
func WithBlockSize(n int) Option {
	return func(q *Queue) { q.blockSize = n }
}

// Queue is the production IOQueue implementation. Commands accumulate in the
// caller's goroutine until CommitCommands hands the batch to the agent
// goroutine, which executes them strictly in order. The first execution
// error poisons the queue: remaining commands are dropped (releases and
// fence failures still happen) and every fence wait returns the error.
type Queue struct {
	dir       string
	arenaSize int64
	blockSize int

	arena *arena

	mu      sync.Mutex
	sets    map[tablepress.FileID]*fileSet
	digests map[tablepress.FileID]*xxhash.Digest
	fences  map[*tablepress.Fence]struct{}
	pending []command
	err     error
	closed  bool

	batches chan []command
	done    chan struct{}
}

var _ tablepress.IOQueue = (*Queue)(nil)

// New creates a queue rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Queue, error) {
	q := &Queue{
		dir:       dir,
		arenaSize: defaultArenaSize,
		blockSize: defaultBlockSize,
		sets:      make(map[tablepress.FileID]*fileSet),
		digests:   make(map[tablepress.FileID]*xxhash.Digest),
		fences:    make(map[*tablepress.Fence]struct{}),
		batches:   make(chan []command, batchChanDepth),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	q.arena = newArena(q.arenaSize)

	go q.runAgent()
	return q, nil
}

// InitFileSet declares a partitioned file set. Immediate, not queued.
func (q *Queue) InitFileSet(id tablepress.FileID, name string, bucketCount uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return tperrors.ErrQueueClosed
	}
	if _, ok := q.sets[id]; ok {
		return fmt.Errorf("%w: %s", tperrors.ErrFileSetExists, name)
	}
	q.sets[id] = newFileSet(q.dir, name, bucketCount)
	q.digests[id] = xxhash.New()
	return nil
}

func (q *Queue) enqueue(cmd command) {
	q.mu.Lock()
	if !q.closed {
		q.pending = append(q.pending, cmd)
		if cmd.fence != nil {
			q.fences[cmd.fence] = struct{}{}
		}
	}
	q.mu.Unlock()
}

// SeekBucket repositions one bucket of the set to origin (offset zero).
func (q *Queue) SeekBucket(id tablepress.FileID, bucket uint32, origin tablepress.SeekOrigin) {
	q.enqueue(command{kind: opSeek, id: id, bucket: bucket, origin: origin})
}

// SeekFile repositions one bucket of the set to offset relative to origin.
func (q *Queue) SeekFile(id tablepress.FileID, bucket uint32, offset int64, origin tablepress.SeekOrigin) {
	q.enqueue(command{kind: opSeek, id: id, bucket: bucket, offset: offset, origin: origin})
}

// ReadFile reads len(dst) bytes from the bucket's cursor.
func (q *Queue) ReadFile(id tablepress.FileID, bucket uint32, dst []byte) {
	q.enqueue(command{kind: opRead, id: id, bucket: bucket, buf: dst})
}

// WriteFile writes len(src) bytes at the bucket's cursor.
func (q *Queue) WriteFile(id tablepress.FileID, bucket uint32, src []byte) {
	q.enqueue(command{kind: opWrite, id: id, bucket: bucket, buf: src})
}

// WriteBuckets scatters src across the set: sizes[b] bytes to bucket b.
func (q *Queue) WriteBuckets(id tablepress.FileID, src []byte, sizes []uint32) {
	captured := make([]uint32, len(sizes))
	copy(captured, sizes)
	q.enqueue(command{kind: opWriteBuckets, id: id, buf: src, sizes: captured})
}

// DeleteFile removes one bucket file.
func (q *Queue) DeleteFile(id tablepress.FileID, bucket uint32) {
	q.enqueue(command{kind: opDelete, id: id, bucket: bucket})
}

// TruncateFile cuts one bucket file to size bytes.
func (q *Queue) TruncateFile(id tablepress.FileID, bucket uint32, size int64) {
	q.enqueue(command{kind: opTruncate, id: id, bucket: bucket, offset: size})
}

// GetBuffer leases a buffer from the arena. Immediate, not queued. A nil
// return from a blocking call means the arena has failed; the failure is
// propagated to every fence so waiters see the cause.
func (q *Queue) GetBuffer(size int, block bool) []byte {
	accounted := (int64(size) + int64(q.blockSize) - 1) / int64(q.blockSize) * int64(q.blockSize)
	buf := q.arena.acquire(size, accounted, block)
	if buf == nil && block {
		if err := q.arena.failure(); err != nil {
			q.fail(err)
		}
	}
	return buf
}

// ReleaseBuffer returns a leased buffer. Queued: the release happens after
// all previously committed commands, so a buffer may be released immediately
// after the write that consumes it.
func (q *Queue) ReleaseBuffer(buf []byte) {
	q.enqueue(command{kind: opRelease, buf: buf})
}

// SignalFence enqueues a fence signal.
func (q *Queue) SignalFence(f *tablepress.Fence, value uint32) {
	q.enqueue(command{kind: opSignalFence, fence: f, value: value})
}

// CommitCommands flushes accumulated commands to the agent.
func (q *Queue) CommitCommands() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	closed := q.closed
	q.mu.Unlock()
	if len(batch) == 0 || closed {
		return
	}
	q.batches <- batch
}

// BlockSize returns the device alignment requirement.
func (q *Queue) BlockSize() int {
	return q.blockSize
}

// Err returns the first fatal error, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// WriteDigest returns the xxHash64 of every byte written so far to the file
// set, in write order. Call only after the commands writing to the set have
// drained (e.g. after a fence or Close).
func (q *Queue) WriteDigest(id tablepress.FileID) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.digests[id]
	if !ok {
		return 0
	}
	return d.Sum64()
}

// Close drains committed commands, shuts down the agent, and closes all
// files. Commands committed after Close are dropped.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return q.Err()
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	close(q.batches)
	<-q.done

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.sets {
		if err := s.close(); err != nil && q.err == nil {
			q.err = err
		}
	}
	return q.err
}

// runAgent executes batches in commit order. After a fatal error it keeps
// draining, but only honors releases (so blocked GetBuffer callers wake) and
// fails fences instead of signalling them.
func (q *Queue) runAgent() {
	defer close(q.done)
	for batch := range q.batches {
		for _, cmd := range batch {
			if q.Err() != nil {
				q.drainCommand(cmd)
				continue
			}
			if err := q.execute(cmd); err != nil {
				q.fail(err)
				q.drainCommand(cmd)
			}
		}
	}
}

func (q *Queue) drainCommand(cmd command) {
	switch cmd.kind {
	case opRelease:
		_ = q.arena.release(cmd.buf)
	case opSignalFence:
		cmd.fence.Fail(q.Err())
	}
}

// fail records the first error, fails every fence the queue has ever seen,
// and wakes arena waiters.
func (q *Queue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	fences := make([]*tablepress.Fence, 0, len(q.fences))
	for f := range q.fences {
		fences = append(fences, f)
	}
	q.mu.Unlock()

	for _, f := range fences {
		f.Fail(err)
	}
	q.arena.fail(err)
}

func (q *Queue) fileSet(id tablepress.FileID) (*fileSet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %#x", tperrors.ErrUnknownFileSet, uint32(id))
	}
	return s, nil
}

func (q *Queue) execute(cmd command) error {
	switch cmd.kind {
	case opRelease:
		return q.arena.release(cmd.buf)

	case opSignalFence:
		cmd.fence.Signal(cmd.value)
		return nil
	}

	s, err := q.fileSet(cmd.id)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case opSeek:
		if err := s.seek(cmd.bucket, cmd.offset, cmd.origin); err != nil {
			return fmt.Errorf("seek %s.%d: %w", s.name, cmd.bucket, err)
		}
	case opRead:
		if err := s.read(cmd.bucket, cmd.buf); err != nil {
			return fmt.Errorf("read %s.%d: %w", s.name, cmd.bucket, err)
		}
	case opWrite:
		if err := s.write(cmd.bucket, cmd.buf); err != nil {
			return fmt.Errorf("write %s.%d: %w", s.name, cmd.bucket, err)
		}
		q.digest(cmd.id, cmd.buf)
	case opWriteBuckets:
		src := cmd.buf
		for b, size := range cmd.sizes {
			if size == 0 {
				continue
			}
			if err := s.write(uint32(b), src[:size]); err != nil {
				return fmt.Errorf("write %s.%d: %w", s.name, b, err)
			}
			q.digest(cmd.id, src[:size])
			src = src[size:]
		}
	case opDelete:
		if err := s.delete(cmd.bucket); err != nil {
			return fmt.Errorf("delete %s.%d: %w", s.name, cmd.bucket, err)
		}
	case opTruncate:
		if err := s.truncate(cmd.bucket, cmd.offset); err != nil {
			return fmt.Errorf("truncate %s.%d: %w", s.name, cmd.bucket, err)
		}
	}
	return nil
}

func (q *Queue) digest(id tablepress.FileID, data []byte) {
	q.mu.Lock()
	d := q.digests[id]
	q.mu.Unlock()
	// Digest.Write never returns an error.
	_, _ = d.Write(data)
}
