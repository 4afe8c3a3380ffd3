// Plotbench generates a synthetic plot dataset and runs the table
// compression phase over it, reporting per-table timings, pruning ratios,
// and output digests.
//
// Usage:
//
//	go run ./cmd/plotbench -k 20 -buckets 64 -workers 8
//
// Flags:
//
//	-k          Entry bit width (default: 20)
//	-buckets    Origin bucket count, power of two (default: 64)
//	-lp-buckets Line-point bucket count, power of two (default: 64)
//	-extra-l    Cross-bucket overshoot entries (default: 1024)
//	-fill       Fraction of each bucket's capacity to populate (default: 0.9)
//	-rate       Fraction of table 7 marked reachable (default: 0.9)
//	-workers    Number of parallel workers (default: GOMAXPROCS)
//	-dir        Working directory (default: temp dir, removed afterwards)
//	-arena      Buffer arena size in bytes (default: 256 MiB)
//	-validate   Enable hot-loop bounds checks
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/plotforge/tablepress"
	"github.com/plotforge/tablepress/diskqueue"
	"github.com/plotforge/tablepress/internal/oracle"
)

func main() {
	kFlag := flag.Uint("k", 20, "entry bit width")
	bucketsFlag := flag.Uint("buckets", 64, "origin bucket count (power of two)")
	lpBucketsFlag := flag.Uint("lp-buckets", 64, "line-point bucket count (power of two)")
	extraLFlag := flag.Uint("extra-l", 1024, "cross-bucket overshoot entries")
	fillFlag := flag.Float64("fill", 0.9, "fraction of bucket capacity populated")
	rateFlag := flag.Float64("rate", 0.9, "fraction of table 7 marked reachable")
	workersFlag := flag.Int("workers", runtime.GOMAXPROCS(0), "parallel workers")
	dirFlag := flag.String("dir", "", "working directory (default: temp dir)")
	arenaFlag := flag.Int64("arena", 256<<20, "buffer arena size in bytes")
	validateFlag := flag.Bool("validate", false, "enable hot-loop bounds checks")
	flag.Parse()

	if err := run(uint32(*kFlag), uint32(*bucketsFlag), uint32(*lpBucketsFlag),
		uint32(*extraLFlag), *fillFlag, *rateFlag, *workersFlag, *dirFlag,
		*arenaFlag, *validateFlag); err != nil {
		fmt.Fprintln(os.Stderr, "plotbench:", err)
		os.Exit(1)
	}
}

func run(k, buckets, lpBuckets, extraL uint32, fill, rate float64,
	workers int, dir string, arenaSize int64, validate bool) error {

	if dir == "" {
		tmp, err := os.MkdirTemp("", "plotbench")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	fixed := (uint64(1) << k) / uint64(buckets)
	perBucket := uint32(float64(fixed) * fill)
	if perBucket < 2 {
		return fmt.Errorf("k=%d with %d buckets leaves %d entries per bucket", k, buckets, perBucket)
	}

	counts := make([]uint32, buckets)
	for i := range counts {
		counts[i] = perBucket
	}
	params := oracle.Params{
		K:          k,
		NumBuckets: buckets,
		ExtraL:     extraL,
		Label:      "plotbench",
		XCounts:    counts,
	}
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		params.PairCounts[t] = counts
	}

	fmt.Printf("Generating dataset: k=%d, %d buckets, %d entries/bucket...\n", k, buckets, perBucket)
	genStart := time.Now()
	ds := oracle.Generate(params)
	ds.MarkReachable(rate, "plotbench")
	if err := ds.WriteFiles(dir); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	fmt.Printf("Dataset ready in %.2fs\n", time.Since(genStart).Seconds())

	q, err := diskqueue.New(dir, diskqueue.WithArenaSize(arenaSize))
	if err != nil {
		return err
	}
	if err := ds.InitInputSets(q); err != nil {
		return err
	}

	opts := []tablepress.Option{
		tablepress.WithEntryBits(k),
		tablepress.WithBuckets(buckets),
		tablepress.WithLPBuckets(lpBuckets),
		tablepress.WithExtraL(extraL),
		tablepress.WithWorkers(workers),
		tablepress.WithLogger(log.New(os.Stdout, "", 0)),
	}
	if validate {
		opts = append(opts, tablepress.WithValidation())
	}

	phase, err := tablepress.NewPhase(q, ds.TableData(), opts...)
	if err != nil {
		return err
	}

	runStart := time.Now()
	if err := phase.Run(context.Background()); err != nil {
		return err
	}
	elapsed := time.Since(runStart)

	// Close drains the agent, so the digests below cover every write.
	if err := q.Close(); err != nil {
		return err
	}

	fmt.Printf("\nPhase finished in %.2fs with %d workers\n", elapsed.Seconds(), workers)
	entryCounts := phase.EntryCounts()
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		fmt.Printf("table %d: %10d entries, lp digest %016x, map digest %016x\n",
			t, entryCounts[t],
			q.WriteDigest(tablepress.LPFileID(t)),
			q.WriteDigest(tablepress.LPMapFileID(t)))
	}
	return nil
}
