//go:build linux || darwin

package osmem

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Granularity returns the smallest unit Commit and Decommit operate on.
func Granularity() uintptr {
	return uintptr(os.Getpagesize())
}

func reserve(total uintptr) (*Region, error) {
	if total > uintptr(^uint(0)>>1) {
		return nil, errors.New("reservation too large to map")
	}
	data, err := unix.Mmap(-1, 0, int(total), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	return &Region{raw: data, rawBase: base, base: base}, nil
}

func (r *Region) span(off, n uintptr) []byte {
	start := r.shift() + off
	return r.raw[start : start+n]
}

func (r *Region) commit(off, n uintptr) error {
	return unix.Mprotect(r.span(off, n), unix.PROT_READ|unix.PROT_WRITE)
}

func (r *Region) decommit(off, n uintptr) error {
	return unix.Madvise(r.span(off, n), unix.MADV_DONTNEED)
}

func (r *Region) release() error {
	if r.raw == nil {
		return nil
	}
	err := unix.Munmap(r.raw)
	r.raw = nil
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
