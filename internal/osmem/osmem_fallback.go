//go:build !linux && !darwin && !windows

package osmem

import (
	"fmt"
	"unsafe"
)

// Granularity returns the smallest unit Commit and Decommit operate on.
func Granularity() uintptr {
	return 4096
}

// reserve allocates the whole region up front when no virtual memory API
// is available. The slice stays referenced by the Region until Release.
func reserve(total uintptr) (*Region, error) {
	if total > FallbackReserve*4 {
		return nil, fmt.Errorf("reservation of %d bytes exceeds fallback limit", total)
	}
	data := make([]byte, total)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	return &Region{raw: data, rawBase: base, base: base}, nil
}

func (r *Region) commit(off, n uintptr) error { return nil }

func (r *Region) decommit(off, n uintptr) error { return nil }

func (r *Region) release() error {
	r.raw = nil
	return nil
}
