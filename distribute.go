package tablepress

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// span is a half-open worker slice [start, end).
type span struct {
	start, end int
}

// splitWork divides n items across workers evenly, with the last worker
// absorbing the remainder. When n < workers, every worker but the last
// receives an empty span and the last takes all n items.
func splitWork(n, workers int) []span {
	spans := make([]span, workers)
	per := n / workers
	for w := range spans {
		spans[w] = span{start: w * per, end: (w + 1) * per}
	}
	spans[workers-1].end = n
	return spans
}

// distribute partitions n records into numBuckets contiguous runs of a
// caller-provided output, using a two-pass parallel prefix-sum scheme:
//
//  1. each worker classifies its span and counts records per bucket;
//  2. the per-worker histograms are combined into exclusive write offsets,
//     column-major so that worker w's records precede worker w+1's within
//     every bucket;
//  3. each worker scatters its span with move(src, dst).
//
// Within a bucket, records from the same worker keep their relative order,
// so a subsequent stable sort sees a deterministic input. totals is
// overwritten with the per-bucket record counts; it must be numBuckets long.
func distribute(ctx context.Context, workers, n int, numBuckets uint32,
	class func(i int) uint32, move func(src, dst int), totals []uint32) error {

	if n == 0 {
		clear(totals)
		return nil
	}
	if workers > n {
		workers = n
	}
	spans := splitWork(n, workers)

	counts := make([][]uint32, workers)
	for w := range counts {
		counts[w] = make([]uint32, numBuckets)
	}

	g, _ := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			c := counts[w]
			for i := spans[w].start; i < spans[w].end; i++ {
				c[class(i)]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Column-wise exclusive prefix: bucket-major, worker-minor.
	offsets := make([][]uint32, workers)
	for w := range offsets {
		offsets[w] = make([]uint32, numBuckets)
	}
	var sum uint32
	for b := uint32(0); b < numBuckets; b++ {
		for w := range workers {
			offsets[w][b] = sum
			sum += counts[w][b]
		}
		totals[b] = 0
		for w := range workers {
			totals[b] += counts[w][b]
		}
	}

	g, _ = errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			off := offsets[w]
			for i := spans[w].start; i < spans[w].end; i++ {
				b := class(i)
				move(i, int(off[b]))
				off[b]++
			}
			return nil
		})
	}
	return g.Wait()
}
