// Package bitint provides the power-of-two helpers used for FFT and
// buffer sizing. All operations are constant time and allocation free,
// so they are safe to call from the capture path.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two greater than or equal
// to n. Powers of two map to themselves; zero and negatives map to 1.
// Subtracting one before measuring the bit length is what keeps exact
// powers of two from doubling.
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of
// two has a single set bit, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
