package buf

// Alignment utilities for block and page sizes.
// Every alignment passed here must be a power of two.

// AlignUp returns n aligned up to the next multiple of align.
// ok is false when the rounded value would overflow uintptr.
//
// Example:
//
//	AlignUp(1, 8)     = 8
//	AlignUp(8, 8)     = 8
//	AlignUp(8193, 8192) = 16384
func AlignUp(n, align uintptr) (uintptr, bool) {
	mask := align - 1
	sum, ok := AddOverflowSafe(n, mask)
	if !ok {
		return 0, false
	}
	return sum &^ mask, true
}

// AlignDown returns n rounded down to a multiple of align.
func AlignDown(n, align uintptr) uintptr {
	return n &^ (align - 1)
}

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// DivRoundUp returns ceil(n / d) for d > 0 without overflowing.
func DivRoundUp(n, d uintptr) uintptr {
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}
