package engine

import "math/bits"

// MaxAlignExp is the largest section alignment exponent accepted (2^15 = 32 KiB)
const MaxAlignExp = 15

// AlignUp rounds n up to the next multiple of align. align must be zero or a power of two.
func AlignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	mask := align - 1
	return (n + mask) &^ mask
}

// Padding returns how many bytes must be appended to a buffer of length n
// so that its length becomes a multiple of 1<<exp.
func Padding(n uint64, exp uint8) uint64 {
	return AlignUp(n, uint64(1)<<exp) - n
}

// AlignExp converts a byte alignment (0, 1, 2, 4, ...) to its log2 exponent
func AlignExp(align uint64) uint8 {
	if align == 0 {
		return 0
	}
	return uint8(bits.TrailingZeros64(align))
}
