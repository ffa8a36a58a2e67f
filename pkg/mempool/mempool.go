package mempool

import (
	"sync"
	"unsafe"

	"github.com/joshuapare/allockit/pool"
)

var defaultAllocator = sync.OnceValues(func() (*pool.Allocator, error) {
	return pool.New(pool.DefaultOptions())
})

// Default returns the process-wide allocator, creating it on first call.
// A construction error is returned on every call.
func Default() (*pool.Allocator, error) {
	return defaultAllocator()
}

// Alloc allocates size bytes from the default allocator.
func Alloc(size uintptr) (unsafe.Pointer, error) {
	a, err := Default()
	if err != nil {
		return nil, err
	}
	return a.Alloc(size)
}

// Free releases memory from Alloc. Nil is a no-op.
func Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a, err := Default()
	if err != nil {
		// Nothing can have been allocated.
		return
	}
	a.Dealloc(p)
}

// Bytes allocates an n-byte slice from the default allocator.
func Bytes(n int) ([]byte, error) {
	a, err := Default()
	if err != nil {
		return nil, err
	}
	return a.AllocBytes(n)
}

// FreeBytes releases a slice from Bytes.
func FreeBytes(b []byte) {
	if cap(b) == 0 {
		return
	}
	a, err := Default()
	if err != nil {
		return
	}
	a.FreeBytes(b)
}
