// Package radix implements a byte-wise LSD radix sort for uint64 keys with an
// optional uint32 satellite array permuted alongside the keys.
//
// Each pass is a counting sort over one byte, so the sort is stable and runs
// in O(8n) with no comparisons. The kernels are monomorphic for the one shape
// the pipeline needs: 64-bit line points carrying 32-bit origin keys.
package radix

// Sort sorts keys ascending in place. tmp must be at least len(keys) long.
func Sort(keys, tmp []uint64) {
	sortPasses(keys, tmp, nil, nil)
}

// SortWithKey sorts keys ascending in place, applying the same permutation to
// vals. tmp and valsTmp are scratch of at least len(keys) / len(vals).
func SortWithKey(keys, tmp []uint64, vals, valsTmp []uint32) {
	sortPasses(keys, tmp, vals, valsTmp)
}

func sortPasses(keys, tmp []uint64, vals, valsTmp []uint32) {
	n := len(keys)
	if n <= 1 {
		return
	}

	src, dst := keys, tmp[:n]
	var vsrc, vdst []uint32
	if vals != nil {
		vsrc, vdst = vals, valsTmp[:n]
	}

	var counts [256]uint32
	for shift := uint(0); shift < 64; shift += 8 {
		clear(counts[:])
		for _, k := range src {
			counts[(k>>shift)&0xff]++
		}

		// A pass where every key shares the same byte is a no-op; skip the
		// copy. This drops the top passes entirely once the keys run out of
		// significant bytes, and the top-byte pass within an already
		// bucketed range.
		if counts[(src[0]>>shift)&0xff] == uint32(n) {
			continue
		}

		var sum uint32
		for b := range counts {
			c := counts[b]
			counts[b] = sum
			sum += c
		}

		if vals != nil {
			for i, k := range src {
				pos := counts[(k>>shift)&0xff]
				counts[(k>>shift)&0xff]++
				dst[pos] = k
				vdst[pos] = vsrc[i]
			}
			vsrc, vdst = vdst, vsrc
		} else {
			for _, k := range src {
				pos := counts[(k>>shift)&0xff]
				counts[(k>>shift)&0xff]++
				dst[pos] = k
			}
		}
		src, dst = dst, src
	}

	// keys and vals swap in lockstep, so one check covers both.
	if &src[0] != &keys[0] {
		copy(keys, src)
		if vals != nil {
			copy(vals, vsrc)
		}
	}
}
