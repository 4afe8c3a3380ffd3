package tablepress

import (
	"context"
	"fmt"
	"time"

	tperrors "github.com/plotforge/tablepress/errors"
	"github.com/plotforge/tablepress/internal/bits"
)

// Phase is the table compression engine. It owns a fixed heap carved at
// construction and drives the three-step pipeline over tables T2..T7. A
// Phase is single-use: construct, Run once, discard.
type Phase struct {
	cfg   *config
	queue IOQueue
	data  *TableData

	// Derived geometry.
	fixedBucketSize uint32 // origin-bucket capacity: 2^K / numBuckets
	lpShift         uint32 // line point >> lpShift = line-point bucket
	keyShift        uint32 // origin key >> keyShift = origin bucket

	// Heap, carved once. The ping-pong pairs double-buffer bucket reads; the
	// scratch buffers back step 1's prune output and step 2's sort.
	marks      bits.BitField
	rMap       [2][]uint32
	pairsLeft  [2][]uint32
	pairsRight [2][]uint16
	lMap       [2][]uint32 // each padded by extraL at the head
	prunedKey  []uint32
	linePoints []uint64

	readFence *Fence

	// Per-table state, reset by processTable.
	rTableOffset     uint64
	prunedCount      uint64
	lpBucketCounts   []uint32 // entries per line-point bucket (step 1 -> 2)
	lMapBucketCounts []uint32 // packed reverse-map entries per origin bucket (step 2 -> 3)
	lMapLengths      []uint32 // dense l-map entries written per bucket (step 3 -> next step 1)

	prunedCounts [NumTables + 1]uint64
}

// NewPhase validates the configuration against the table layout, carves the
// compute heap, and declares the engine-owned file sets (line points, keys,
// reverse maps) on the queue. The caller must have initialized the
// earlier-phase file sets (x, marks, pairs, maps) beforehand.
func NewPhase(q IOQueue, data *TableData, opts ...Option) (*Phase, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := validateData(cfg, data); err != nil {
		return nil, err
	}

	p := &Phase{
		cfg:             cfg,
		queue:           q,
		data:            data,
		fixedBucketSize: uint32((uint64(1) << cfg.entryBits) / uint64(cfg.numBuckets)),
		lpShift:         2*cfg.entryBits - bits.Log2(cfg.lpBuckets),
		keyShift:        cfg.entryBits - bits.Log2(cfg.numBuckets),
		readFence:       NewFence(),
	}

	p.carveHeap()

	for t := Table2; t <= Table7; t++ {
		if err := q.InitFileSet(LPFileID(t), fmt.Sprintf("lp_%d", t), cfg.lpBuckets); err != nil {
			return nil, fmt.Errorf("init lp_%d: %w", t, err)
		}
		if err := q.InitFileSet(LPKeyFileID(t), fmt.Sprintf("lp_key_%d", t), cfg.lpBuckets); err != nil {
			return nil, fmt.Errorf("init lp_key_%d: %w", t, err)
		}
		if err := q.InitFileSet(LPMapFileID(t), fmt.Sprintf("lp_map_%d", t), cfg.numBuckets); err != nil {
			return nil, fmt.Errorf("init lp_map_%d: %w", t, err)
		}
	}

	return p, nil
}

func validateConfig(cfg *config) error {
	if cfg.entryBits == 0 || cfg.entryBits > 32 {
		return tperrors.ErrEntryWidthTooLarge
	}
	if !bits.IsPow2(cfg.numBuckets) || cfg.numBuckets < 2 || bits.Log2(cfg.numBuckets) > cfg.entryBits {
		return tperrors.ErrBucketCountNotPow2
	}
	if !bits.IsPow2(cfg.lpBuckets) || cfg.lpBuckets < 2 || bits.Log2(cfg.lpBuckets) > 2*cfg.entryBits {
		return tperrors.ErrLPBucketCountNotPow2
	}
	if cfg.extraL == 0 {
		return tperrors.ErrExtraLTooSmall
	}
	if cfg.workers <= 0 {
		return tperrors.ErrNoWorkers
	}
	return nil
}

func validateData(cfg *config, data *TableData) error {
	fixed := (uint64(1) << cfg.entryBits) / uint64(cfg.numBuckets)

	if uint32(len(data.XBucketCounts)) != cfg.numBuckets {
		return fmt.Errorf("%w: x stream has %d buckets, want %d",
			tperrors.ErrCountMismatch, len(data.XBucketCounts), cfg.numBuckets)
	}
	var xTotal uint64
	for _, c := range data.XBucketCounts {
		xTotal += uint64(c)
	}
	if xTotal != data.EntryCounts[Table1] {
		return fmt.Errorf("%w: x buckets sum to %d, table 1 has %d entries",
			tperrors.ErrCountMismatch, xTotal, data.EntryCounts[Table1])
	}

	for t := Table2; t <= Table7; t++ {
		counts := data.PairBucketCounts[t]
		if uint32(len(counts)) != cfg.numBuckets {
			return fmt.Errorf("%w: table %d pairs have %d buckets, want %d",
				tperrors.ErrCountMismatch, t, len(counts), cfg.numBuckets)
		}
		var total uint64
		for b, c := range counts {
			if uint64(c) > fixed {
				return fmt.Errorf("%w: table %d bucket %d holds %d entries, capacity %d",
					tperrors.ErrBucketOverflow, t, b, c, fixed)
			}
			total += uint64(c)
		}
		if total != data.EntryCounts[t] {
			return fmt.Errorf("%w: table %d buckets sum to %d, entry count is %d",
				tperrors.ErrCountMismatch, t, total, data.EntryCounts[t])
		}
	}
	return nil
}

// carveHeap sizes and allocates every compute buffer up front. Nothing here
// is resized later; bucket skew beyond the scratch headroom is a fatal
// runtime error rather than a reallocation.
func (p *Phase) carveHeap() {
	maxBucket := p.fixedBucketSize
	for _, c := range p.data.XBucketCounts {
		maxBucket = max(maxBucket, c)
	}
	for t := Table2; t <= Table7; t++ {
		for _, c := range p.data.PairBucketCounts[t] {
			maxBucket = max(maxBucket, c)
		}
	}
	// Line-point buckets are keyed by the top line-point bits, not the
	// origin layout, so a bucket can exceed the largest input bucket. Line
	// points fill only the lower half of the line-point range, so a populated
	// line-point bucket receives about 2/lpBuckets of its table. Double
	// headroom over the larger of that load and the largest input bucket
	// absorbs the skew; step 2 checks the bound before sorting.
	var maxTable uint64
	for t := Table2; t <= Table7; t++ {
		maxTable = max(maxTable, p.data.EntryCounts[t])
	}
	lpLoad := (2*maxTable + uint64(p.cfg.lpBuckets) - 1) / uint64(p.cfg.lpBuckets)
	scratchLen := 2*max(uint64(maxBucket), lpLoad) + uint64(p.cfg.extraL)

	p.marks = bits.NewBitField(uint64(p.cfg.numBuckets) * uint64(p.fixedBucketSize))
	for i := range 2 {
		p.rMap[i] = make([]uint32, maxBucket)
		p.pairsLeft[i] = make([]uint32, maxBucket)
		p.pairsRight[i] = make([]uint16, maxBucket)
		p.lMap[i] = make([]uint32, uint64(maxBucket)+uint64(p.cfg.extraL))
	}
	p.prunedKey = make([]uint32, scratchLen)
	p.linePoints = make([]uint64, scratchLen)

	p.lpBucketCounts = make([]uint32, p.cfg.lpBuckets)
	p.lMapBucketCounts = make([]uint32, p.cfg.numBuckets)
	p.lMapLengths = make([]uint32, p.cfg.numBuckets)
}

// Run compresses tables T2..T7 in order. It is all-or-nothing: the first
// fatal error aborts the phase.
func (p *Phase) Run(ctx context.Context) error {
	for t := Table2; t <= Table7; t++ {
		p.cfg.logger.Printf("compressing tables %d and %d", t-1, t)
		start := time.Now()

		if err := p.processTable(ctx, t); err != nil {
			return fmt.Errorf("%w: table %d: %w", tperrors.ErrPhaseFailed, t, err)
		}

		preTotal := p.data.EntryCounts[t]
		p.prunedCounts[t] = p.prunedCount
		p.data.EntryCounts[t] = p.prunedCount

		pct := 0.0
		if preTotal > 0 {
			pct = float64(p.prunedCount) / float64(preTotal) * 100
		}
		p.cfg.logger.Printf("table %d now has %d / %d (%.2f%%) entries, compressed in %.2fs",
			t, p.prunedCount, preTotal, pct, time.Since(start).Seconds())
	}
	return nil
}

// EntryCounts returns the post-prune entry count of each processed table.
func (p *Phase) EntryCounts() [NumTables + 1]uint64 {
	return p.prunedCounts
}

func (p *Phase) processTable(ctx context.Context, rTable TableID) error {
	p.prunedCount = 0
	p.rTableOffset = 0
	clear(p.lpBucketCounts)
	clear(p.lMapBucketCounts)
	p.readFence.Reset(0)

	// Prune the pairs and key, convert surviving pairs to line points, and
	// scatter them with the key to line-point buckets.
	if err := p.firstStep(ctx, rTable); err != nil {
		return fmt.Errorf("step 1: %w", err)
	}

	// Sort each line-point bucket with its key, hand the sorted run to the
	// park writer, and emit the packed reverse-lookup map.
	if err := p.secondStep(ctx, rTable); err != nil {
		return fmt.Errorf("step 2: %w", err)
	}

	// Unpack the reverse map into the dense l-table map consumed by the
	// next iteration.
	if err := p.thirdStep(ctx, rTable); err != nil {
		return fmt.Errorf("step 3: %w", err)
	}
	return nil
}

// lMapReadLengths returns the per-bucket read lengths of the l-table map
// stream: x-bucket counts for the first iteration, afterwards the dense
// lengths step 3 wrote for the previous r-table.
func (p *Phase) lMapReadLengths(rTable TableID) []uint32 {
	if rTable == Table2 {
		return p.data.XBucketCounts
	}
	return p.lMapLengths
}
