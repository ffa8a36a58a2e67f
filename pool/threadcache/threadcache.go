// Package threadcache implements the per-owner front tier of the allocator.
//
// A Cache is owned by exactly one goroutine at a time and takes no locks.
// It keeps one LIFO free list per size class, refills empty lists with a
// batch from the shared Source, and gives a batch back when a list grows past
// the class release threshold. The cache as a whole holds at most MaxBytes of
// free blocks; past that the longest lists are trimmed.
package threadcache

import (
	"sync/atomic"

	"github.com/joshuapare/allockit/pool/block"
	"github.com/joshuapare/allockit/pool/sizeclass"
)

// MaxBytes is the byte budget of one cache's free lists. A Dealloc that pushes
// the cache past it releases the longest lists until the cache is back under
// half the budget.
const MaxBytes = 2 << 20

// Source is the shared tier a Cache refills from and releases to.
// *central.Cache satisfies it.
type Source interface {
	FetchBatch(class, max int) (block.Batch, error)
	ReleaseBatch(class int, b block.Batch)
}

type classList struct {
	free block.List
	// limit is the next refill size. It starts at 1 and grows by one per
	// refill up to the class batch size.
	limit int
}

// Cache is a single-owner block cache. NOT thread-safe, except for Stats.
type Cache struct {
	src   Source
	lists [sizeclass.NumClasses]classList

	// Written only by the owner with a plain load and store, readable from
	// anywhere.
	allocs   atomic.Uint64
	frees    atomic.Uint64
	fetches  atomic.Uint64
	releases atomic.Uint64
	shrinks  atomic.Uint64 // budget trims
	cached   atomic.Int64 // bytes held in free lists
}

// Stats is a snapshot of one cache's counters.
type Stats struct {
	Allocs      uint64
	Frees       uint64
	Fetches     uint64
	Releases    uint64
	Shrinks     uint64
	CachedBytes int64
}

// New returns an empty cache refilling from src.
func New(src Source) *Cache {
	return &Cache{src: src}
}

// Alloc returns a block of class, refilling from the source when the class
// list is empty. The error is the source's, returned unchanged.
func (c *Cache) Alloc(class int) (uintptr, error) {
	l := &c.lists[class]
	if l.free.Empty() {
		if err := c.refill(class, l); err != nil {
			return 0, err
		}
	}
	addr := l.free.Pop()
	c.cached.Store(c.cached.Load() - int64(sizeclass.BlockSize(class)))
	c.allocs.Store(c.allocs.Load() + 1)
	return addr, nil
}

// Dealloc caches a block of class. Once the list holds more than the class
// release threshold, one batch goes back to the source. Once the whole cache
// holds more than MaxBytes, the longest lists go back too.
func (c *Cache) Dealloc(class int, addr uintptr) {
	l := &c.lists[class]
	l.free.Push(addr)
	cached := c.cached.Load() + int64(sizeclass.BlockSize(class))
	c.cached.Store(cached)
	c.frees.Store(c.frees.Load() + 1)

	if l.free.Len() > sizeclass.ReleaseThreshold(class) {
		c.release(class, l, sizeclass.BatchSize(class))
		cached = c.cached.Load()
	}
	if cached > MaxBytes {
		c.shrink()
	}
}

// Flush returns every cached block to the source.
func (c *Cache) Flush() {
	for class := range c.lists {
		l := &c.lists[class]
		if !l.free.Empty() {
			c.release(class, l, l.free.Len())
		}
	}
}

// Len returns the number of cached blocks of class.
func (c *Cache) Len(class int) int { return c.lists[class].free.Len() }

// Limit returns the current refill size of class.
func (c *Cache) Limit(class int) int { return c.lists[class].limit }

// Stats returns the cache counters. Safe to call while the owner runs.
func (c *Cache) Stats() Stats {
	return Stats{
		Allocs:      c.allocs.Load(),
		Frees:       c.frees.Load(),
		Fetches:     c.fetches.Load(),
		Releases:    c.releases.Load(),
		Shrinks:     c.shrinks.Load(),
		CachedBytes: c.cached.Load(),
	}
}

// shrink releases whole lists, longest in bytes first, until the cache is at
// or below half of MaxBytes. Each trimmed list restarts slow start.
func (c *Cache) shrink() {
	for c.cached.Load() > MaxBytes/2 {
		longest, most := -1, uintptr(0)
		for class := range c.lists {
			n := uintptr(c.lists[class].free.Len()) * sizeclass.BlockSize(class)
			if n > most {
				longest, most = class, n
			}
		}
		if longest < 0 {
			return
		}
		l := &c.lists[longest]
		c.release(longest, l, l.free.Len())
		l.limit = 0
	}
	c.shrinks.Store(c.shrinks.Load() + 1)
}

func (c *Cache) refill(class int, l *classList) error {
	if l.limit < sizeclass.BatchSize(class) {
		l.limit++
	}
	b, err := c.src.FetchBatch(class, l.limit)
	if err != nil {
		return err
	}
	l.free.PushBatch(b)
	c.cached.Store(c.cached.Load() + int64(b.N)*int64(sizeclass.BlockSize(class)))
	c.fetches.Store(c.fetches.Load() + 1)
	return nil
}

func (c *Cache) release(class int, l *classList, n int) {
	b := l.free.PopBatch(n)
	c.cached.Store(c.cached.Load() - int64(b.N)*int64(sizeclass.BlockSize(class)))
	c.src.ReleaseBatch(class, b)
	c.releases.Store(c.releases.Load() + 1)
}
