// Package osmem provides platform-specific helpers for reserving and
// committing the address space the page heap carves spans from.
//
// A Region is reserved once, inaccessible, and committed front to back as
// the heap grows. Decommit hands the physical pages back to the kernel while
// keeping the range mapped, so a decommitted range can be reused without
// another Commit call.
package osmem

import (
	"errors"
	"fmt"

	"github.com/joshuapare/allockit/internal/buf"
)

// DefaultReserve is the default reservation: 8 GiB on 64-bit platforms,
// 1 GiB on 32-bit ones. Platforms without a virtual memory API override it
// with a smaller value (see FallbackReserve).
const DefaultReserve uintptr = 1 << 30 << (3 * (^uintptr(0) >> 63))

// FallbackReserve is used where the address space cannot be reserved lazily.
const FallbackReserve uintptr = 256 << 20

var (
	// ErrBadAlign indicates a reservation alignment that is not a power of two.
	ErrBadAlign = errors.New("osmem: alignment must be a power of two")

	// ErrClosed indicates an operation on a released region.
	ErrClosed = errors.New("osmem: region released")
)

// Region is a reserved, contiguous range of address space.
//
// NOT thread-safe. The page heap serializes every call under its own lock.
type Region struct {
	raw     []byte  // whole mapping as returned by the OS (unix, fallback)
	rawBase uintptr // start of the OS reservation (windows)
	base    uintptr // aligned start handed to callers
	size    uintptr // usable bytes from base
}

// Base returns the aligned start address of the region.
func (r *Region) Base() uintptr { return r.base }

// Size returns the number of usable bytes from Base.
func (r *Region) Size() uintptr { return r.size }

// Reserve reserves size bytes of address space whose start is aligned to
// align. Nothing is committed; call Commit before touching memory.
func Reserve(size, align uintptr) (*Region, error) {
	if !buf.IsPow2(align) {
		return nil, ErrBadAlign
	}
	total, ok := buf.AddOverflowSafe(size, align)
	if !ok || size == 0 {
		return nil, fmt.Errorf("osmem: invalid reservation size %d", size)
	}
	r, err := reserve(total)
	if err != nil {
		return nil, fmt.Errorf("osmem: reserve %d bytes: %w", total, err)
	}
	aligned, _ := buf.AlignUp(r.base, align)
	r.size = size
	r.base = aligned
	return r, nil
}

// Commit makes [off, off+n) readable and writable.
func (r *Region) Commit(off, n uintptr) error {
	if err := r.check(off, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return r.commit(off, n)
}

// Decommit tells the OS the contents of [off, off+n) are no longer needed.
// The range stays accessible and reads back as zero or stale data.
func (r *Region) Decommit(off, n uintptr) error {
	if err := r.check(off, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return r.decommit(off, n)
}

// HugePages hints that committed ranges should be backed by huge pages.
// It is a no-op where the platform has no such hint.
func (r *Region) HugePages() error {
	if r.size == 0 {
		return ErrClosed
	}
	return r.hugePages()
}

// Release returns the whole reservation to the OS. A second call is a no-op.
func (r *Region) Release() error {
	if r.size == 0 {
		return nil
	}
	err := r.release()
	r.size = 0
	return err
}

func (r *Region) check(off, n uintptr) error {
	if r.size == 0 {
		return ErrClosed
	}
	if _, err := buf.CheckRange(r.size, off, n); err != nil {
		return fmt.Errorf("osmem: %w", err)
	}
	return nil
}

// shift is the distance between the OS reservation and the aligned base.
func (r *Region) shift() uintptr {
	return r.base - r.rawBase
}
