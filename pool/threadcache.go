package pool

import (
	"unsafe"

	"github.com/joshuapare/allockit/pool/threadcache"
)

// ThreadCache is a cache owned by one goroutine. Its fast path takes no locks
// and touches no shared state, so a goroutine that allocates heavily should
// hold one for its lifetime.
//
// NOT thread-safe: use a ThreadCache from one goroutine at a time. Memory from
// any cache may be released through any other cache or the Allocator.
type ThreadCache struct {
	a  *Allocator
	tc *threadcache.Cache
}

// NewThreadCache returns a cache owned by the caller. Call Close when done so
// cached blocks return to the shared tiers.
func (a *Allocator) NewThreadCache() *ThreadCache {
	c := &ThreadCache{a: a, tc: threadcache.New(a.central)}
	a.localsMu.Lock()
	a.locals[c] = struct{}{}
	a.localsMu.Unlock()
	return c
}

// Alloc is Allocator.Alloc served from this cache.
func (c *ThreadCache) Alloc(size uintptr) (unsafe.Pointer, error) {
	return c.a.alloc(size, c.tc)
}

// Dealloc is Allocator.Dealloc into this cache.
func (c *ThreadCache) Dealloc(p unsafe.Pointer) {
	c.a.dealloc(p, c.tc)
}

// Flush returns every cached block to the central cache.
func (c *ThreadCache) Flush() {
	c.tc.Flush()
}

// Close flushes the cache and detaches it from the allocator.
// The cache must not be used afterwards.
func (c *ThreadCache) Close() {
	c.tc.Flush()

	a := c.a
	a.localsMu.Lock()
	defer a.localsMu.Unlock()
	if _, ok := a.locals[c]; !ok {
		return
	}
	delete(a.locals, c)
	st := c.tc.Stats()
	a.retired.Allocs += st.Allocs
	a.retired.Frees += st.Frees
	a.retired.Fetches += st.Fetches
	a.retired.Releases += st.Releases
	a.retired.Shrinks += st.Shrinks
}
