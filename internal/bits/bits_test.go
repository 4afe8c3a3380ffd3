package bits

import (
	"testing"
)

func TestBitFieldGetSet(t *testing.T) {
	f := NewBitField(200)
	if len(f) != 4 {
		t.Fatalf("NewBitField(200) allocated %d words, want 4", len(f))
	}

	positions := []uint64{0, 1, 63, 64, 127, 128, 199}
	for _, i := range positions {
		if f.Get(i) {
			t.Errorf("bit %d set in fresh field", i)
		}
		f.Set(i)
		if !f.Get(i) {
			t.Errorf("bit %d not set after Set", i)
		}
	}
	if got := f.OnesCount(); got != uint64(len(positions)) {
		t.Errorf("OnesCount = %d, want %d", got, len(positions))
	}

	f.Clear(64)
	if f.Get(64) {
		t.Error("bit 64 still set after Clear")
	}
	if !f.Get(63) || !f.Get(127) {
		t.Error("Clear disturbed neighboring bits")
	}
}

func TestWordsForBits(t *testing.T) {
	cases := []struct{ bits, want uint64 }{
		{0, 0}, {1, 1}, {63, 1}, {64, 1}, {65, 2}, {256, 4},
	}
	for _, tc := range cases {
		if got := WordsForBits(tc.bits); got != tc.want {
			t.Errorf("WordsForBits(%d) = %d, want %d", tc.bits, got, tc.want)
		}
	}
}

func TestPow2Helpers(t *testing.T) {
	for _, v := range []uint32{1, 2, 4, 64, 1 << 31} {
		if !IsPow2(v) {
			t.Errorf("IsPow2(%d) = false", v)
		}
	}
	for _, v := range []uint32{0, 3, 6, 100, 1<<31 + 1} {
		if IsPow2(v) {
			t.Errorf("IsPow2(%d) = true", v)
		}
	}
	if Log2(64) != 6 || Log2(1) != 0 || Log2(1<<20) != 20 {
		t.Error("Log2 incorrect for power-of-two inputs")
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ n, boundary, want uint64 }{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, tc := range cases {
		if got := RoundUp(tc.n, tc.boundary); got != tc.want {
			t.Errorf("RoundUp(%d, %d) = %d, want %d", tc.n, tc.boundary, got, tc.want)
		}
	}
}

func TestResliceRoundTrips(t *testing.T) {
	u32 := []uint32{0x04030201, 0x08070605}
	b := U32Bytes(u32)
	if len(b) != 8 {
		t.Fatalf("U32Bytes length = %d, want 8", len(b))
	}
	if b[0] != 0x01 || b[7] != 0x08 {
		t.Errorf("U32Bytes not little-endian: % x", b)
	}
	back := BytesU32(b)
	back[1] = 42
	if u32[1] != 42 {
		t.Error("BytesU32 does not alias the original backing array")
	}

	u64 := []uint64{0x0807060504030201}
	b64 := U64Bytes(u64)
	if len(b64) != 8 || b64[0] != 0x01 || b64[7] != 0x08 {
		t.Errorf("U64Bytes layout wrong: % x", b64)
	}
	if got := BytesU64(b64); got[0] != u64[0] {
		t.Errorf("BytesU64 = %#x, want %#x", got[0], u64[0])
	}

	u16 := []uint16{0x0201, 0x0403}
	b16 := U16Bytes(u16)
	if len(b16) != 4 || b16[0] != 0x01 || b16[3] != 0x04 {
		t.Errorf("U16Bytes layout wrong: % x", b16)
	}

	if U32Bytes(nil) != nil || BytesU64(nil) != nil {
		t.Error("empty slices should reslice to nil")
	}
}
