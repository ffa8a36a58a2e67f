package pool

import (
	"github.com/joshuapare/allockit/pool/central"
	"github.com/joshuapare/allockit/pool/pagecache"
	"github.com/joshuapare/allockit/pool/threadcache"
)

// Stats is a point-in-time view of allocator activity. Counters from
// different tiers are read independently, so a snapshot taken while other
// goroutines allocate may be slightly inconsistent.
type Stats struct {
	// Allocs and Frees count small-object calls across every thread cache,
	// including closed ThreadCaches.
	Allocs uint64
	Frees  uint64

	// LargeAllocs and LargeFrees count objects above 256KB.
	LargeAllocs uint64
	LargeFrees  uint64

	// CachedBytes is the block memory idle in thread caches. CacheShrinks
	// counts caches trimmed for exceeding their byte budget.
	CachedBytes  int64
	CacheShrinks uint64

	// Reclaims counts out-of-memory retries that first flushed idle caches.
	Reclaims uint64

	// Slots is the size of the shared slot table; SlotsClaimed how many
	// slots currently have a live handle. Overflows counts calls served by
	// the locked fallback cache.
	Slots        int
	SlotsClaimed int
	Overflows    uint64

	// ThreadCaches is the number of open caches from NewThreadCache.
	ThreadCaches int

	Central central.Stats
	Pages   pagecache.Stats
}

// Live returns the number of objects allocated and not yet freed.
func (s Stats) Live() int64 {
	return int64(s.Allocs+s.LargeAllocs) - int64(s.Frees+s.LargeFrees)
}

// Stats collects counters from every tier.
func (a *Allocator) Stats() Stats {
	st := Stats{
		LargeAllocs:  a.largeAllocs.Load(),
		LargeFrees:   a.largeFrees.Load(),
		Slots:        len(a.slots.slots),
		SlotsClaimed: a.slots.claimed(),
		Overflows:    a.slots.overflows.Load(),
		Reclaims:     a.reclaims.Load(),
		Central:      a.central.Stats(),
		Pages:        a.pages.Stats(),
	}

	add := func(tc *threadcache.Cache) {
		cs := tc.Stats()
		st.Allocs += cs.Allocs
		st.Frees += cs.Frees
		st.CachedBytes += cs.CachedBytes
		st.CacheShrinks += cs.Shrinks
	}
	a.slots.each(add)

	a.localsMu.Lock()
	st.Allocs += a.retired.Allocs
	st.Frees += a.retired.Frees
	st.CacheShrinks += a.retired.Shrinks
	st.ThreadCaches = len(a.locals)
	for c := range a.locals {
		add(c.tc)
	}
	a.localsMu.Unlock()
	return st
}
