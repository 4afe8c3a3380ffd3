package tablepress

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	tperrors "github.com/plotforge/tablepress/errors"
	"github.com/plotforge/tablepress/internal/bits"
)

// thirdStep rewrites the packed reverse-lookup map as one dense stream of
// post-sort indices. Each origin bucket's records land at key-derived slots
// in that bucket's window, so the result is positionally aligned with the
// next r-table's back pointers. Bucket 0's file is rewound and reused for
// the dense stream; the remaining bucket files are deleted after reading.
func (p *Phase) thirdStep(ctx context.Context, rTable TableID) error {
	q := p.queue
	mapID := LPMapFileID(rTable)

	fixed := uint64(p.fixedBucketSize)

	// Bucket b's dense window covers origin keys [b*fixed, b*fixed+len).
	// Pre-prune, the keys of bucket b occupy that range densely, so the
	// window length is the bucket's pre-prune entry count: pruning leaves
	// holes inside the window, never keys beyond it. A fully pruned table
	// writes nothing at all.
	writeLen := func(bucket uint32) uint32 {
		if p.prunedCount == 0 {
			return 0
		}
		return p.data.PairBucketCounts[rTable][bucket]
	}

	p.readFence.Reset(0)
	for b := uint32(0); b < p.cfg.numBuckets; b++ {
		q.SeekBucket(mapID, b, SeekBegin)
	}
	q.CommitCommands()

	bufs := make([][]byte, p.cfg.numBuckets)

	load := func(bucket uint32) error {
		n := p.lMapBucketCounts[bucket]
		if n > 0 {
			buf, err := p.lease(int(n) * 8)
			if err != nil {
				return err
			}
			q.ReadFile(mapID, bucket, buf)
			bufs[bucket] = buf
		}
		q.SignalFence(p.readFence, bucket+1)
		q.CommitCommands()

		if bucket == 0 {
			// Rewind so the dense rewrite reuses this file.
			q.SeekFile(mapID, 0, 0, SeekBegin)
		} else {
			q.DeleteFile(mapID, bucket)
		}
		q.CommitCommands()
		return nil
	}

	if err := load(0); err != nil {
		return err
	}

	for bucket := uint32(0); bucket < p.cfg.numBuckets; bucket++ {
		if bucket != p.cfg.numBuckets-1 {
			if err := load(bucket + 1); err != nil {
				return err
			}
		}

		if err := p.readFence.Wait(bucket + 1); err != nil {
			return fmt.Errorf("loading map bucket %d: %w", bucket, err)
		}

		outLen := writeLen(bucket)
		p.lMapLengths[bucket] = outLen

		n := p.lMapBucketCounts[bucket]
		if outLen == 0 {
			if n != 0 {
				return fmt.Errorf("%w: bucket %d holds %d records beyond the origin space",
					tperrors.ErrUnpackOutOfRange, bucket, n)
			}
			continue
		}

		out, err := p.lease(int(outLen) * 4)
		if err != nil {
			return err
		}
		dense := bits.BytesU32(out)

		if n > 0 {
			records := bits.BytesU64(bufs[bucket])
			base := uint32(uint64(bucket) * fixed)
			if err := p.unpackRecords(ctx, records, dense, base, bucket); err != nil {
				return err
			}
			q.ReleaseBuffer(bufs[bucket])
			bufs[bucket] = nil
		}

		q.WriteFile(mapID, 0, out)
		q.ReleaseBuffer(out)
		q.CommitCommands()
	}

	// The dense stream may be shorter than the packed data it overwrote;
	// cut the file so nothing stale trails it.
	var denseBytes int64
	for _, n := range p.lMapLengths {
		denseBytes += int64(n) * 4
	}
	q.TruncateFile(mapID, 0, denseBytes)
	q.CommitCommands()
	return nil
}

// unpackRecords scatters packed (postSortIndex << 32 | originKey) records
// into their key-derived slots. Workers take disjoint slices of the input;
// keys are unique within an origin bucket, so slot writes never collide.
func (p *Phase) unpackRecords(ctx context.Context, records []uint64, dense []uint32, base uint32, bucket uint32) error {
	spans := splitWork(len(records), p.cfg.workers)

	g, _ := errgroup.WithContext(ctx)
	for w := range p.cfg.workers {
		g.Go(func() error {
			for _, m := range records[spans[w].start:spans[w].end] {
				idx := uint32(m) - base
				if p.cfg.validate && uint64(idx) >= uint64(len(dense)) {
					return fmt.Errorf("%w: bucket %d key %d outside window of %d",
						tperrors.ErrUnpackOutOfRange, bucket, uint32(m), len(dense))
				}
				dense[idx] = uint32(m >> 32)
			}
			return nil
		})
	}
	return g.Wait()
}
