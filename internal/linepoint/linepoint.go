// Package linepoint implements the triangular-number embedding that maps an
// unordered pair of table indices to a single orderable integer.
//
// The embedding enumerates pairs below the diagonal of the square:
//
//	Square(x, y) = T(max(x,y)) + min(x,y),  T(n) = n*(n-1)/2
//
// It is a bijection from unordered pairs of distinct k-bit values onto a
// (2k-1)-bit range, which makes a pair of back pointers sortable as one
// 64-bit key. All arithmetic stays in uint64; for inputs below 2^32 the
// product n*(n-1) cannot wrap.
package linepoint

import "math"

// Square maps an unordered pair to its line point.
// x and y must be < 2^32.
func Square(x, y uint64) uint64 {
	if y > x {
		x, y = y, x
	}
	return triangle(x) + y
}

// Reverse recovers the pair {x, y} from a line point, with x >= y.
func Reverse(lp uint64) (x, y uint64) {
	x = root(lp)
	y = lp - triangle(x)
	return x, y
}

// triangle returns the x-th triangular number counted from zero:
// the number of pairs (a, b) with b < a < x.
func triangle(x uint64) uint64 {
	return x * (x - 1) / 2
}

// root returns the largest x with triangle(x) <= lp. The float estimate of
// sqrt(2*lp) is within a few ulps of the answer; the loops correct it.
func root(lp uint64) uint64 {
	x := uint64(math.Sqrt(2 * float64(lp)))
	for x > 0 && triangle(x) > lp {
		x--
	}
	for triangle(x+1) <= lp {
		x++
	}
	return x
}

// Bucket returns the destination line-point bucket for lp: the top
// log2(lpBuckets) bits of the 2k-bit line-point domain.
func Bucket(lp uint64, k, lpBucketBits uint32) uint32 {
	return uint32(lp >> (2*k - lpBucketBits))
}
