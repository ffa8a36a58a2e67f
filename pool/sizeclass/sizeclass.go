// Package sizeclass maps request sizes to size classes.
//
// # Size Classes
//
// Classes are generated from alignment bands. Inside a band every class is
// one alignment step larger than the previous one, so rounding a request up
// to its band's alignment yields the smallest class that can hold it:
//
//	Band 0:     1 -   128 bytes  step    8  (16 classes)
//	Band 1:   129 -  1024 bytes  step   16  (56 classes)
//	Band 2:  1025 -  8192 bytes  step  128  (56 classes)
//	Band 3:  8193 - 65536 bytes  step 1024  (56 classes)
//	Band 4: 65537 -   256 KB     step 8192  (24 classes)
//
// A request above 128 bytes wastes less than one step, which is always below
// 12.5% of the request. Requests above MaxSize have no class; they are served
// as their own page spans.
//
// The table is computed once at package initialization and is read-only
// afterwards.
package sizeclass

import "github.com/joshuapare/allockit/internal/buf"

const (
	// PageShift is log2 of the allocator page size.
	PageShift = 13

	// PageSize is the unit the page heap hands out (8KB).
	PageSize = 1 << PageShift

	// MaxSize is the large-object threshold. Larger requests bypass size classes.
	MaxSize = 256 << 10

	// NumClasses is the number of size classes.
	NumClasses = 208

	// MinBatch and MaxBatch bound how many blocks move between tiers at once.
	MinBatch = 2
	MaxBatch = 512

	// releaseFactor scales BatchSize into the per-class release threshold.
	releaseFactor = 2
)

// band describes a run of classes sharing one alignment step.
type band struct {
	max   uintptr // largest size in the band (inclusive)
	align uintptr // step between consecutive classes
}

var bands = [...]band{
	{max: 128, align: 8},
	{max: 1024, align: 16},
	{max: 8 << 10, align: 128},
	{max: 64 << 10, align: 1024},
	{max: MaxSize, align: 8 << 10},
}

var (
	classSize [NumClasses]uintptr
	batchSize [NumClasses]int
	spanPages [NumClasses]uintptr

	// bandFirst is the first class index of each band.
	bandFirst [len(bands)]int
)

func init() {
	class := 0
	lo := uintptr(0)
	for i, b := range bands {
		bandFirst[i] = class
		for size := lo + b.align; size <= b.max; size += b.align {
			classSize[class] = size
			class++
		}
		lo = b.max
	}
	if class != NumClasses {
		panic("sizeclass: band layout does not produce NumClasses classes")
	}

	for c, size := range classSize {
		n := MaxSize / int(size)
		n = max(n, MinBatch)
		n = min(n, MaxBatch)
		batchSize[c] = n

		pages := uintptr(n) * size >> PageShift
		spanPages[c] = max(pages, 1)
	}
}

// ClassOf returns the smallest class whose block size is at least size.
// ok is false when size is zero or above MaxSize.
func ClassOf(size uintptr) (int, bool) {
	if size == 0 || size > MaxSize {
		return 0, false
	}
	lo := uintptr(0)
	for i, b := range bands {
		if size <= b.max {
			return bandFirst[i] + int(buf.DivRoundUp(size-lo, b.align)) - 1, true
		}
		lo = b.max
	}
	return 0, false
}

// BlockSize returns the block size of class c.
func BlockSize(c int) uintptr {
	return classSize[c]
}

// RoundUp returns the block size a request of size bytes occupies.
// Large requests round up to whole pages; zero stays zero.
func RoundUp(size uintptr) uintptr {
	if c, ok := ClassOf(size); ok {
		return classSize[c]
	}
	if size == 0 {
		return 0
	}
	if n, ok := buf.AlignUp(size, PageSize); ok {
		return n
	}
	return size
}

// BatchSize returns how many blocks of class c move per fetch or release.
// Small classes move many blocks, large classes few, so the bytes moved per
// batch stay roughly constant.
func BatchSize(c int) int {
	return batchSize[c]
}

// ReleaseThreshold returns the cached-block count above which a thread cache
// hands a batch of class c back to the central cache.
func ReleaseThreshold(c int) int {
	return batchSize[c] * releaseFactor
}

// SpanPages returns the page count of a span carved into class c blocks.
func SpanPages(c int) uintptr {
	return spanPages[c]
}

// BlocksPerSpan returns how many class c blocks fit in one of its spans.
func BlocksPerSpan(c int) int {
	return int(spanPages[c] << PageShift / classSize[c])
}
