package linepoint

import (
	"encoding/binary"
	"hash/fnv"
	randv2 "math/rand/v2"
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

func TestSquareKnownValues(t *testing.T) {
	cases := []struct {
		x, y uint64
		want uint64
	}{
		{1, 0, 0},  // triangle(1) = 0
		{2, 0, 1},  // triangle(2) = 1
		{2, 1, 2},  // triangle(2) + 1
		{3, 0, 3},  // triangle(3) = 3
		{3, 2, 5},  // triangle(3) + 2
		{10, 7, 52},
	}
	for _, tc := range cases {
		if got := Square(tc.x, tc.y); got != tc.want {
			t.Errorf("Square(%d, %d) = %d, want %d", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestSquareSymmetric(t *testing.T) {
	rng := newTestRNG(t)
	for range 1000 {
		x := rng.Uint64() & 0xffffffff
		y := rng.Uint64() & 0xffffffff
		if Square(x, y) != Square(y, x) {
			t.Fatalf("Square(%d, %d) != Square(%d, %d)", x, y, y, x)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := newTestRNG(t)
	for range 10000 {
		a := rng.Uint64() & 0xffffffff
		b := rng.Uint64() & 0xffffffff
		if a == b {
			continue
		}
		lp := Square(a, b)
		x, y := Reverse(lp)
		if x < y {
			t.Fatalf("Reverse(%d) = (%d, %d), want x >= y", lp, x, y)
		}
		if x == y {
			t.Fatalf("Reverse(%d) = equal pair (%d, %d) from distinct inputs (%d, %d)", lp, x, y, a, b)
		}
		if max(a, b) != x || min(a, b) != y {
			t.Fatalf("Reverse(Square(%d, %d)) = (%d, %d)", a, b, x, y)
		}
	}
}

func TestRoundTripExtremes(t *testing.T) {
	const maxVal = 1<<32 - 1
	cases := [][2]uint64{
		{1, 0},
		{maxVal, 0},
		{maxVal, maxVal - 1},
		{maxVal, maxVal / 2},
		{2, 1},
	}
	for _, tc := range cases {
		lp := Square(tc[0], tc[1])
		x, y := Reverse(lp)
		if x != tc[0] || y != tc[1] {
			t.Errorf("Reverse(Square(%d, %d)) = (%d, %d)", tc[0], tc[1], x, y)
		}
	}
}

func TestDistinctPairsDistinctPoints(t *testing.T) {
	// Exhaustive over a small domain: every unordered pair of distinct
	// 6-bit values maps to a unique line point.
	seen := make(map[uint64][2]uint64)
	for x := uint64(1); x < 64; x++ {
		for y := uint64(0); y < x; y++ {
			lp := Square(x, y)
			if prev, ok := seen[lp]; ok {
				t.Fatalf("Square(%d, %d) collides with Square(%d, %d) at %d", x, y, prev[0], prev[1], lp)
			}
			seen[lp] = [2]uint64{x, y}
		}
	}
}

func TestBucket(t *testing.T) {
	cases := []struct {
		lp           uint64
		k, bits, want uint32
	}{
		{0, 32, 8, 0},
		{1 << 56, 32, 8, 1},
		{0x7fffffffffffffff, 32, 8, 127}, // top line-point bit is never set for k=32
		{1 << 14, 8, 2, 1},
		{0x7fff, 8, 2, 1},
	}
	for _, tc := range cases {
		if got := Bucket(tc.lp, tc.k, tc.bits); got != tc.want {
			t.Errorf("Bucket(%#x, %d, %d) = %d, want %d", tc.lp, tc.k, tc.bits, got, tc.want)
		}
	}
}
