package radix

import (
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

func TestSortAgainstStdlib(t *testing.T) {
	rng := newTestRNG(t)
	sizes := []int{0, 1, 2, 3, 64, 1000, 4096}

	for _, n := range sizes {
		keys := make([]uint64, n)
		for i := range keys {
			keys[i] = rng.Uint64()
		}
		want := slices.Clone(keys)
		slices.Sort(want)

		tmp := make([]uint64, n)
		Sort(keys, tmp)

		if !slices.Equal(keys, want) {
			t.Errorf("n=%d: radix sort disagrees with slices.Sort", n)
		}
	}
}

func TestSortNarrowKeys(t *testing.T) {
	// Keys confined to the low byte exercise the pass-skipping path: the
	// upper seven passes are no-ops.
	rng := newTestRNG(t)
	keys := make([]uint64, 500)
	for i := range keys {
		keys[i] = rng.Uint64() & 0xff
	}
	want := slices.Clone(keys)
	slices.Sort(want)

	Sort(keys, make([]uint64, len(keys)))
	if !slices.Equal(keys, want) {
		t.Error("narrow keys sorted incorrectly")
	}
}

func TestSortSharedTopByte(t *testing.T) {
	// Keys sharing a constant top byte mimic a line-point bucket, where the
	// bucket bits are identical across the whole array.
	rng := newTestRNG(t)
	keys := make([]uint64, 500)
	for i := range keys {
		keys[i] = rng.Uint64()>>8 | 0xab<<56
	}
	want := slices.Clone(keys)
	slices.Sort(want)

	Sort(keys, make([]uint64, len(keys)))
	if !slices.Equal(keys, want) {
		t.Error("shared-top-byte keys sorted incorrectly")
	}
}

func TestSortWithKeyCoPermutes(t *testing.T) {
	rng := newTestRNG(t)
	const n = 2000

	keys := make([]uint64, n)
	vals := make([]uint32, n)
	byVal := make(map[uint32]uint64, n)
	for i := range keys {
		keys[i] = rng.Uint64()
		vals[i] = uint32(i)
		byVal[vals[i]] = keys[i]
	}

	SortWithKey(keys, make([]uint64, n), vals, make([]uint32, n))

	if !slices.IsSorted(keys) {
		t.Fatal("keys not sorted")
	}
	for i := range keys {
		if byVal[vals[i]] != keys[i] {
			t.Fatalf("index %d: satellite %d detached from its key", i, vals[i])
		}
	}
}

func TestSortWithKeyStableOnDuplicates(t *testing.T) {
	// Duplicate keys must keep their satellites in input order: the LSD
	// counting passes are stable, so the whole sort is.
	keys := []uint64{7, 3, 7, 3, 7, 3}
	vals := []uint32{0, 1, 2, 3, 4, 5}

	SortWithKey(keys, make([]uint64, len(keys)), vals, make([]uint32, len(vals)))

	wantKeys := []uint64{3, 3, 3, 7, 7, 7}
	wantVals := []uint32{1, 3, 5, 0, 2, 4}
	if !slices.Equal(keys, wantKeys) {
		t.Errorf("keys = %v, want %v", keys, wantKeys)
	}
	if !slices.Equal(vals, wantVals) {
		t.Errorf("vals = %v, want %v", vals, wantVals)
	}
}
