package tablepress

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	tperrors "github.com/plotforge/tablepress/errors"
	"github.com/plotforge/tablepress/internal/bits"
	"github.com/plotforge/tablepress/internal/linepoint"
)

// firstStep prunes the r-table against the marks bitfield, resolves each
// surviving back-pointer pair through the l-table map, converts the pair to a
// line point, and scatters (line point, origin key) to the line-point
// buckets. Buckets are double-buffered: while bucket b is being processed the
// queue loads bucket b+1 into the inactive ping-pong set.
func (p *Phase) firstStep(ctx context.Context, rTable TableID) error {
	q := p.queue
	extraL := p.cfg.extraL

	marksID := MarksFileID(rTable)
	lMapID := FileX
	if rTable > Table2 {
		lMapID = LPMapFileID(rTable - 1)
	}
	rMapID := MapFileID(rTable)
	pairsLID := PairsLFileID(rTable)
	pairsRID := PairsRFileID(rTable)

	lLens := p.lMapReadLengths(rTable)
	rLens := p.data.PairBucketCounts[rTable]

	var lTotal uint64
	for _, c := range lLens {
		lTotal += uint64(c)
	}

	q.SeekBucket(marksID, 0, SeekBegin)
	q.SeekFile(lMapID, 0, 0, SeekBegin)
	q.SeekFile(rMapID, 0, 0, SeekBegin)
	q.SeekFile(pairsLID, 0, 0, SeekBegin)
	q.SeekFile(pairsRID, 0, 0, SeekBegin)
	q.CommitCommands()

	p.readFence.Reset(0)

	// The l-table map is one contiguous stream; each bucket read overshoots
	// by extraL entries so pointers near the boundary resolve locally. Reads
	// clamp to the stream length since heavy pruning can shorten it.
	clampL := func(want uint32, loaded uint64) uint32 {
		if remaining := lTotal - loaded; uint64(want) > remaining {
			return uint32(remaining)
		}
		return want
	}

	var lLoaded uint64

	// Preload bucket 0 and the full marks bitfield.
	l0 := clampL(lLens[0]+extraL, 0)
	lLoaded += uint64(l0)
	r0 := rLens[0]

	q.ReadFile(lMapID, 0, bits.U32Bytes(p.lMap[0][:l0]))
	q.ReadFile(marksID, 0, bits.U64Bytes(p.marks))
	q.ReadFile(pairsLID, 0, bits.U32Bytes(p.pairsLeft[0][:r0]))
	q.ReadFile(pairsRID, 0, bits.U16Bytes(p.pairsRight[0][:r0]))
	q.ReadFile(rMapID, 0, bits.U32Bytes(p.rMap[0][:r0]))
	q.SignalFence(p.readFence, 1)
	q.CommitCommands()

	lBufLen := l0

	for bucket := uint32(0); bucket < p.cfg.numBuckets; bucket++ {
		last := bucket == p.cfg.numBuckets-1

		var nextLBufLen uint32
		if !last {
			lNext := clampL(lLens[bucket+1], lLoaded)
			lLoaded += uint64(lNext)
			rNext := rLens[bucket+1]

			q.ReadFile(lMapID, 0, bits.U32Bytes(p.lMap[1][extraL:extraL+lNext]))
			q.ReadFile(pairsLID, 0, bits.U32Bytes(p.pairsLeft[1][:rNext]))
			q.ReadFile(pairsRID, 0, bits.U16Bytes(p.pairsRight[1][:rNext]))
			q.ReadFile(rMapID, 0, bits.U32Bytes(p.rMap[1][:rNext]))
			q.SignalFence(p.readFence, bucket+2)
			q.CommitCommands()

			nextLBufLen = lNext + extraL
		}

		if err := p.readFence.Wait(bucket + 1); err != nil {
			return fmt.Errorf("loading bucket %d: %w", bucket, err)
		}

		pruned, err := p.convertToLP(ctx, rTable, rLens[bucket], lBufLen)
		if err != nil {
			return fmt.Errorf("bucket %d: %w", bucket, err)
		}
		p.prunedCount += uint64(pruned)
		p.rTableOffset += uint64(rLens[bucket])

		if !last {
			// Carry the tail overshoot into the head reserve of the
			// read-ahead buffer so bucket b+1 stays bucket-aligned. The
			// regions are disjoint from the in-flight read above.
			copy(p.lMap[1][:extraL], p.lMap[0][lLens[bucket]:uint64(lLens[bucket])+uint64(extraL)])

			p.lMap[0], p.lMap[1] = p.lMap[1], p.lMap[0]
			p.rMap[0], p.rMap[1] = p.rMap[1], p.rMap[0]
			p.pairsLeft[0], p.pairsLeft[1] = p.pairsLeft[1], p.pairsLeft[0]
			p.pairsRight[0], p.pairsRight[1] = p.pairsRight[1], p.pairsRight[0]
			lBufLen = nextLBufLen
		}
	}
	return nil
}

// convertToLP prunes one r-bucket and produces its line points. Three passes
// per worker over its slice of the bucket:
//
//	A: count surviving entries (marks lookup by origin key);
//	B: compact each survivor's (left, left+right) pair and origin key to the
//	   worker's exclusive offset in the shared output;
//	C: overwrite each packed pair in place with its line point.
//
// The pair scratch and the line-point output share the same buffer, so B
// must fully precede C within a worker's region.
func (p *Phase) convertToLP(ctx context.Context, rTable TableID, rLen, lBufLen uint32) (uint32, error) {
	if rLen == 0 {
		return 0, nil
	}

	workers := p.cfg.workers
	spans := splitWork(int(rLen), workers)
	survived := make([]uint32, workers)

	rMap := p.rMap[0]
	left := p.pairsLeft[0]
	right := p.pairsRight[0]
	lMap := p.lMap[0]

	g, _ := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			var n uint32
			for i := spans[w].start; i < spans[w].end; i++ {
				if p.marks.Get(uint64(rMap[i])) {
					n++
				}
			}
			survived[w] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	offsets := make([]uint32, workers)
	var pruned uint32
	for w, n := range survived {
		offsets[w] = pruned
		pruned += n
	}
	if pruned == 0 {
		return 0, nil
	}

	g, _ = errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			dst := offsets[w]
			for i := spans[w].start; i < spans[w].end; i++ {
				key := rMap[i]
				if !p.marks.Get(uint64(key)) {
					continue
				}
				l := left[i]
				r := l + uint32(right[i])
				if p.cfg.validate && r >= lBufLen {
					return fmt.Errorf("%w: table %d entry %d: pointer %d, bucket holds %d",
						tperrors.ErrPointerOutOfRange, rTable, i, r, lBufLen)
				}
				p.linePoints[dst] = uint64(l) | uint64(r)<<32
				p.prunedKey[dst] = key
				dst++
			}

			end := offsets[w] + survived[w]
			for i := offsets[w]; i < end; i++ {
				pair := p.linePoints[i]
				x := uint64(lMap[uint32(pair)])
				y := uint64(lMap[uint32(pair>>32)])
				p.linePoints[i] = linepoint.Square(x, y)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return pruned, p.emitLPBuckets(ctx, rTable, pruned)
}

// emitLPBuckets scatters the pruned (line point, key) pairs into buffers
// partitioned by line-point bucket and writes both bucketed streams.
func (p *Phase) emitLPBuckets(ctx context.Context, rTable TableID, pruned uint32) error {
	q := p.queue

	lpOut, err := p.lease(int(pruned) * 8)
	if err != nil {
		return err
	}
	keyOut, err := p.lease(int(pruned) * 4)
	if err != nil {
		return err
	}

	lps := bits.BytesU64(lpOut)
	keys := bits.BytesU32(keyOut)

	totals := make([]uint32, p.cfg.lpBuckets)
	err = distribute(ctx, p.cfg.workers, int(pruned), p.cfg.lpBuckets,
		func(i int) uint32 { return uint32(p.linePoints[i] >> p.lpShift) },
		func(src, dst int) {
			lps[dst] = p.linePoints[src]
			keys[dst] = p.prunedKey[src]
		},
		totals)
	if err != nil {
		return err
	}

	lpSizes := make([]uint32, p.cfg.lpBuckets)
	keySizes := make([]uint32, p.cfg.lpBuckets)
	for b, n := range totals {
		p.lpBucketCounts[b] += n
		lpSizes[b] = n * 8
		keySizes[b] = n * 4
	}

	q.WriteBuckets(LPFileID(rTable), lpOut, lpSizes)
	q.ReleaseBuffer(lpOut)
	q.WriteBuckets(LPKeyFileID(rTable), keyOut, keySizes)
	q.ReleaseBuffer(keyOut)
	q.CommitCommands()
	return nil
}

// lease blocks for an arena buffer, translating queue failure into an error.
func (p *Phase) lease(size int) ([]byte, error) {
	buf := p.queue.GetBuffer(size, true)
	if buf == nil {
		if err := p.readFence.Wait(0); err != nil {
			return nil, err
		}
		return nil, tperrors.ErrQueueClosed
	}
	return buf, nil
}
