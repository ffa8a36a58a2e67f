// Package pool is a general-purpose, thread-caching memory allocator for
// memory the Go garbage collector never sees.
//
// Memory is served in three tiers:
//   - Thread caches: lock-free per-owner free lists, one per size class
//   - Central cache: one locked bucket of spans per size class
//   - Page cache: whole-page spans carved from one reserved arena
//
// Requests up to 256KB are rounded up to one of 208 size classes and served
// from a thread cache. Larger requests bypass the caches and get their own
// page-aligned span.
//
// # Thread Caches
//
// Go has no thread-local storage, so an Allocator keeps a fixed table of
// cache slots. Calls on the Allocator borrow a slot for their duration
// through a sync.Pool, which favours the slot last used on the same P. When
// every slot is busy the call falls back to one shared, locked cache.
// Goroutines that allocate heavily can own a cache outright with
// NewThreadCache, which takes no locks on its fast path.
//
// # Memory Safety
//
// Pointers returned by Alloc are raw memory outside the Go heap. Do not store
// the only reference to a Go object in it; the garbage collector does not scan
// it. Freeing a pointer twice, or one this Allocator did not return, is
// detected where the owning span makes it visible and panics with an error
// wrapping ErrCorruption.
//
// # Example
//
//	a, err := pool.New(pool.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	p, err := a.Alloc(64)
//	if err != nil {
//	    return err
//	}
//	defer a.Dealloc(p)
package pool
