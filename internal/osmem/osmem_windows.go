//go:build windows

package osmem

import (
	"golang.org/x/sys/windows"
)

// Granularity returns the smallest unit Commit and Decommit operate on.
func Granularity() uintptr {
	return 4096
}

func reserve(total uintptr) (*Region, error) {
	base, err := windows.VirtualAlloc(0, total, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, err
	}
	return &Region{rawBase: base, base: base}, nil
}

func (r *Region) commit(off, n uintptr) error {
	_, err := windows.VirtualAlloc(r.base+off, n, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

// decommit uses MEM_RESET so the range stays committed and reusable.
func (r *Region) decommit(off, n uintptr) error {
	_, err := windows.VirtualAlloc(r.base+off, n, windows.MEM_RESET, windows.PAGE_READWRITE)
	return err
}

func (r *Region) release() error {
	if r.rawBase == 0 {
		return nil
	}
	err := windows.VirtualFree(r.rawBase, 0, windows.MEM_RELEASE)
	r.rawBase = 0
	return err
}
