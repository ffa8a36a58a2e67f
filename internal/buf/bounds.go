// Package buf holds the overflow-checked size arithmetic shared by the
// allocator tiers. Every size that reaches the page layer passes through
// these helpers so that a huge request fails cleanly instead of wrapping.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uintptr.
func AddOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a > math.MaxUint-b {
		return 0, false
	}
	return a + b, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would overflow uintptr.
// This is what count * elementSize calculations in span carving go through.
func MulOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint/b {
		return 0, false
	}
	return a * b, true
}

// CheckRange validates that [off, off+n) lies within a region of size bytes.
// Returns the end offset if valid, or an error describing the failure.
//
//	end, err := buf.CheckRange(region.Size(), off, n)
//	if err != nil {
//	    return fmt.Errorf("commit: %w", err)
//	}
func CheckRange(size, off, n uintptr) (uintptr, error) {
	end, ok := AddOverflowSafe(off, n)
	if !ok {
		return 0, fmt.Errorf("overflow: off=%d + n=%d", off, n)
	}
	if end > size {
		return 0, fmt.Errorf("bounds: end=%d > size=%d", end, size)
	}
	return end, nil
}
