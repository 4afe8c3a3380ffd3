package tablepress

import (
	"context"
	"fmt"

	tperrors "github.com/plotforge/tablepress/errors"
	"github.com/plotforge/tablepress/internal/bits"
	"github.com/plotforge/tablepress/internal/radix"
)

// Step-2 fences carry two sub-signals per bucket: line points loaded, then
// keys loaded. Waiting on the key signal implies both.
const step2FencesPerBucket = 2

// secondStep loads each line-point bucket with its co-permuted key, sorts by
// line point, hands the sorted run to the park writer, and emits the packed
// reverse-lookup map bucketed by origin.
func (p *Phase) secondStep(ctx context.Context, rTable TableID) error {
	q := p.queue
	lpID := LPFileID(rTable)
	keyID := LPKeyFileID(rTable)

	p.readFence.Reset(0)
	for b := uint32(0); b < p.cfg.lpBuckets; b++ {
		q.SeekBucket(lpID, b, SeekBegin)
		q.SeekBucket(keyID, b, SeekBegin)
	}
	q.CommitCommands()

	type bucketBuffers struct {
		lp  []byte
		key []byte
	}
	bufs := make([]bucketBuffers, p.cfg.lpBuckets)

	load := func(bucket uint32) error {
		n := p.lpBucketCounts[bucket]
		fenceBase := bucket * step2FencesPerBucket
		if n == 0 {
			// Nothing on disk for this bucket; raise the fences so the
			// consumer loop does not stall.
			q.SignalFence(p.readFence, fenceBase+2)
			q.CommitCommands()
			return nil
		}

		lpBuf, err := p.lease(int(n) * 8)
		if err != nil {
			return err
		}
		keyBuf, err := p.lease(int(n) * 4)
		if err != nil {
			return err
		}

		q.ReadFile(lpID, bucket, lpBuf)
		q.SignalFence(p.readFence, fenceBase+1)
		q.ReadFile(keyID, bucket, keyBuf)
		q.SignalFence(p.readFence, fenceBase+2)
		q.CommitCommands()

		bufs[bucket] = bucketBuffers{lp: lpBuf, key: keyBuf}
		return nil
	}

	if err := load(0); err != nil {
		return err
	}

	var entryOffset uint64
	for bucket := uint32(0); bucket < p.cfg.lpBuckets; bucket++ {
		if bucket != p.cfg.lpBuckets-1 {
			if err := load(bucket + 1); err != nil {
				return err
			}
		}

		if err := p.readFence.Wait(bucket*step2FencesPerBucket + 2); err != nil {
			return fmt.Errorf("loading line-point bucket %d: %w", bucket, err)
		}

		n := p.lpBucketCounts[bucket]
		if n == 0 {
			continue
		}
		if uint64(n) > uint64(len(p.linePoints)) {
			return fmt.Errorf("%w: bucket %d holds %d entries, scratch %d",
				tperrors.ErrScratchOverflow, bucket, n, len(p.linePoints))
		}

		lps := bits.BytesU64(bufs[bucket].lp)
		keys := bits.BytesU32(bufs[bucket].key)

		radix.SortWithKey(lps, p.linePoints[:n], keys, p.prunedKey[:n])

		if p.cfg.park != nil {
			if err := p.cfg.park.WritePark(lps, entryOffset); err != nil {
				return fmt.Errorf("park bucket %d: %w", bucket, err)
			}
		}

		if err := p.writeReverseMap(ctx, rTable, keys, entryOffset); err != nil {
			return err
		}

		q.ReleaseBuffer(bufs[bucket].lp)
		q.ReleaseBuffer(bufs[bucket].key)
		q.CommitCommands()
		bufs[bucket] = bucketBuffers{}

		entryOffset += uint64(n)
	}
	return nil
}

// writeReverseMap packs each sorted key into a reverse-lookup record
// (postSortGlobalIndex << 32 | originKey) and scatters the records to origin
// buckets keyed by the top bits of the origin key.
func (p *Phase) writeReverseMap(ctx context.Context, rTable TableID, sortedKey []uint32, entryOffset uint64) error {
	q := p.queue
	n := len(sortedKey)

	out, err := p.lease(n * 8)
	if err != nil {
		return err
	}
	records := bits.BytesU64(out)

	totals := make([]uint32, p.cfg.numBuckets)
	err = distribute(ctx, p.cfg.workers, n, p.cfg.numBuckets,
		func(i int) uint32 { return sortedKey[i] >> p.keyShift },
		func(src, dst int) {
			records[dst] = (entryOffset+uint64(src))<<32 | uint64(sortedKey[src])
		},
		totals)
	if err != nil {
		return err
	}

	sizes := make([]uint32, p.cfg.numBuckets)
	for b, c := range totals {
		p.lMapBucketCounts[b] += c
		sizes[b] = c * 8
	}

	q.WriteBuckets(LPMapFileID(rTable), out, sizes)
	q.ReleaseBuffer(out)
	q.CommitCommands()
	return nil
}
