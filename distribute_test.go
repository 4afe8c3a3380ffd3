package tablepress

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	randv2 "math/rand/v2"
	"slices"
	"testing"
)

func newTestRNG(t testing.TB) *randv2.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return randv2.New(randv2.NewPCG(s1, s2))
}

func TestSplitWork(t *testing.T) {
	cases := []struct {
		n, workers int
		want       []span
	}{
		{10, 2, []span{{0, 5}, {5, 10}}},
		{10, 3, []span{{0, 3}, {3, 6}, {6, 10}}},
		{2, 4, []span{{0, 0}, {0, 0}, {0, 0}, {0, 2}}},
		{0, 2, []span{{0, 0}, {0, 0}}},
	}
	for _, tc := range cases {
		got := splitWork(tc.n, tc.workers)
		if !slices.Equal(got, tc.want) {
			t.Errorf("splitWork(%d, %d) = %v, want %v", tc.n, tc.workers, got, tc.want)
		}
	}
}

func TestDistributePartitions(t *testing.T) {
	rng := newTestRNG(t)
	const n = 10000
	const buckets = 16

	in := make([]uint64, n)
	for i := range in {
		in[i] = rng.Uint64()
	}
	class := func(i int) uint32 { return uint32(in[i] >> 60) }

	for _, workers := range []int{1, 2, 3, 8} {
		out := make([]uint64, n)
		totals := make([]uint32, buckets)
		err := distribute(context.Background(), workers, n, buckets,
			class,
			func(src, dst int) { out[dst] = in[src] },
			totals)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}

		// Per-bucket counts sum to the input length.
		var sum uint32
		for _, c := range totals {
			sum += c
		}
		if sum != n {
			t.Fatalf("workers=%d: totals sum to %d, want %d", workers, sum, n)
		}

		// The output is partitioned: bucket b's run contains exactly the
		// records classified to b.
		offset := 0
		for b := uint32(0); b < buckets; b++ {
			for _, v := range out[offset : offset+int(totals[b])] {
				if uint32(v>>60) != b {
					t.Fatalf("workers=%d: record %#x landed in bucket %d", workers, v, b)
				}
			}
			offset += int(totals[b])
		}

		// And it is a permutation of the input.
		gotSorted := slices.Clone(out)
		wantSorted := slices.Clone(in)
		slices.Sort(gotSorted)
		slices.Sort(wantSorted)
		if !slices.Equal(gotSorted, wantSorted) {
			t.Fatalf("workers=%d: output is not a permutation of the input", workers)
		}
	}
}

func TestDistributeOrderWithinWorker(t *testing.T) {
	// All records map to one bucket: the output must preserve input order
	// exactly, since worker spans are contiguous and scatter is ascending.
	const n = 1000
	in := make([]uint64, n)
	for i := range in {
		in[i] = uint64(i)
	}
	out := make([]uint64, n)
	totals := make([]uint32, 4)
	err := distribute(context.Background(), 4, n, 4,
		func(i int) uint32 { return 2 },
		func(src, dst int) { out[dst] = in[src] },
		totals)
	if err != nil {
		t.Fatal(err)
	}
	if totals[2] != n {
		t.Fatalf("totals = %v", totals)
	}
	if !slices.Equal(out, in) {
		t.Error("single-bucket distribution reordered records")
	}
}

func TestDistributeDeterministic(t *testing.T) {
	rng := newTestRNG(t)
	const n = 5000
	in := make([]uint64, n)
	for i := range in {
		in[i] = rng.Uint64()
	}
	run := func() []uint64 {
		out := make([]uint64, n)
		totals := make([]uint32, 8)
		if err := distribute(context.Background(), 3, n, 8,
			func(i int) uint32 { return uint32(in[i] % 8) },
			func(src, dst int) { out[dst] = in[src] },
			totals); err != nil {
			t.Fatal(err)
		}
		return out
	}
	if !slices.Equal(run(), run()) {
		t.Error("same input and worker count produced different layouts")
	}
}

func TestDistributeEmpty(t *testing.T) {
	totals := make([]uint32, 4)
	err := distribute(context.Background(), 2, 0, 4,
		func(i int) uint32 { return 0 },
		func(src, dst int) { t.Error("move called for empty input") },
		totals)
	if err != nil {
		t.Fatal(err)
	}
}
