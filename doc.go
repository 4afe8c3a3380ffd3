// Package tablepress implements the table compression engine of a disk-based
// proof-of-space plotter: the pass that fuses the artifacts of the earlier
// pipeline phases (back pointers, sort maps, reachability marks) into the
// final pruned, line-point-encoded tables.
//
// The engine walks tables T2..T7 in order. For each r-table it runs three
// steps over a bucketed on-disk layout:
//
//  1. Prune unreachable entries, resolve each surviving back-pointer pair
//     against the l-table map, and convert the pair to a 64-bit line point,
//     scattering (line point, origin key) to line-point buckets.
//  2. Sort each line-point bucket (handing the sorted run to an optional
//     park writer) and emit a reverse-lookup map bucketed by origin.
//  3. Unpack the reverse map into a dense array of post-sort indices, which
//     becomes the l-table map for the next iteration.
//
// All disk access goes through the IOQueue interface: an asynchronous
// command queue that reads and writes bucketed file sets, leases buffers
// from a bounded arena, and signals monotonically-valued fences. The
// diskqueue package provides the production implementation.
//
// # Basic Usage
//
//	q, err := diskqueue.New(dir, diskqueue.WithArenaSize(1 << 30))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	// Declare the file sets produced by the earlier phases, then:
//	phase, err := tablepress.NewPhase(q, data,
//	    tablepress.WithWorkers(8))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := phase.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Package Structure
//
//   - Public API: phase.go (NewPhase, Run), options.go (Option, With* functions)
//   - I/O contract: queue.go (IOQueue, FileID), fence.go (Fence)
//   - Pipeline steps: step1.go, step2.go, step3.go
//   - Parallel primitive: distribute.go (prefix-sum distributor)
//   - Kernels: internal/linepoint (pair encoding), internal/radix (keyed sort),
//     internal/bits (marks bitfield)
//   - Collaborators: diskqueue (production IOQueue), errors (sentinels)
package tablepress
