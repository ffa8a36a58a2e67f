// Package pagecache implements the page heap: the only tier that talks to the
// operating system. It hands out spans of whole pages, splits them on the way
// out and coalesces them with free neighbours on the way back.
//
// # Free Registry
//
// Free spans shorter than MaxPages pages sit in exact-length lists, so the
// common small request is a handful of list checks. Longer free spans sit in
// one slice ordered by (page count, start page); a binary search finds the
// smallest one that fits, lowest address first.
//
// # Growth
//
// The heap reserves one arena up front and commits it front to back. When no
// free span is large enough, at least GrowPages pages (or the request, if
// larger) are committed at the tail and freed into the registry, where they
// coalesce with a free tail span if there is one.
//
// # Thread Safety
//
// One mutex guards everything except Lookup, which reads the page tracker
// with atomic loads and may run concurrently with any operation.
package pagecache

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/joshuapare/allockit/internal/buf"
	"github.com/joshuapare/allockit/internal/logger"
	"github.com/joshuapare/allockit/pool/sizeclass"
	"github.com/joshuapare/allockit/pool/span"
)

const (
	// MaxPages bounds the exact-length free lists. Free spans of MaxPages
	// pages or more live in the ordered large registry.
	MaxPages = 128

	// DefaultGrowPages is the minimum number of pages committed per growth (1MB).
	DefaultGrowPages = 128
)

var (
	// ErrOutOfMemory indicates the arena is exhausted or the OS refused to commit pages.
	ErrOutOfMemory = errors.New("pagecache: out of memory")

	// ErrBadSpan indicates a span handed back in a state the heap did not expect.
	ErrBadSpan = errors.New("pagecache: span not in use")

	// ErrUnaligned indicates a memory region whose base is not page aligned.
	ErrUnaligned = errors.New("pagecache: region base not page aligned")
)

// Memory is the reserved address space the heap commits pages from.
// *osmem.Region satisfies it.
type Memory interface {
	Base() uintptr
	Size() uintptr
	Commit(off, n uintptr) error
	Decommit(off, n uintptr) error
}

// Options configures a Cache.
type Options struct {
	// GrowPages is the minimum number of pages committed when the heap grows.
	// Default: DefaultGrowPages
	GrowPages uintptr

	// CommitGranularity is the unit, in bytes, Commit and Decommit are
	// aligned to. Values below the page size are raised to it.
	// Default: sizeclass.PageSize
	CommitGranularity uintptr

	// Logger receives slow-path events. Default: logger.L
	Logger *slog.Logger
}

// Stats is a snapshot of page heap counters.
type Stats struct {
	CommittedBytes uintptr // bytes committed from the arena
	ReservedBytes  uintptr // size of the arena
	FreeBytes      uintptr // bytes in free spans
	ScavengedBytes uintptr // free bytes whose memory was handed back to the OS
	SpansInUse     int     // spans handed out and not yet freed
	FreeSpans      int     // spans in the free registry

	Grows     uint64 // successful commits from the OS
	Splits    uint64 // free spans split to satisfy a request
	Coalesces uint64 // neighbour merges on free
	Scavenges uint64 // spans decommitted by Scavenge
}

// Cache is the page heap.
type Cache struct {
	mu sync.Mutex

	mem     Memory
	base    uintptr
	tracker *span.Tracker

	free  [MaxPages]span.List // free[n] holds free spans of exactly n pages
	large []*span.Span        // free spans >= MaxPages, ordered by (NPages, Start)

	committed uintptr // bytes committed from base
	growPages uintptr
	gran      uintptr

	freePages      uintptr
	scavengedPages uintptr
	spansInUse     int
	freeSpans      int
	grows          uint64
	splits         uint64
	coalesces      uint64
	scavenges      uint64

	log *slog.Logger
}

// New creates a page heap over mem. Nothing is committed until the first
// AllocSpan.
func New(mem Memory, opts Options) (*Cache, error) {
	base := mem.Base()
	if base%sizeclass.PageSize != 0 {
		return nil, fmt.Errorf("%w: %#x", ErrUnaligned, base)
	}

	growPages := opts.GrowPages
	if growPages == 0 {
		growPages = DefaultGrowPages
	}
	gran := max(opts.CommitGranularity, sizeclass.PageSize)
	if !buf.IsPow2(gran) {
		return nil, fmt.Errorf("pagecache: commit granularity %d is not a power of two", gran)
	}
	log := opts.Logger
	if log == nil {
		log = logger.L
	}

	return &Cache{
		mem:       mem,
		base:      base,
		tracker:   span.NewTracker(span.PageOf(base), mem.Size()>>sizeclass.PageShift),
		growPages: growPages,
		gran:      gran,
		log:       log,
	}, nil
}

// AllocSpan returns an in-use span of exactly npages pages. The smallest free
// span that fits is split; if none fits, the heap grows first.
func (c *Cache) AllocSpan(npages uintptr) (*span.Span, error) {
	if npages == 0 {
		return nil, fmt.Errorf("pagecache: zero-page span requested")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.findLocked(npages)
	if s == nil {
		if err := c.growLocked(npages); err != nil {
			return nil, err
		}
		s = c.findLocked(npages)
		if s == nil {
			return nil, fmt.Errorf("%w: no span of %d pages after growth", ErrOutOfMemory, npages)
		}
	}

	c.removeFreeLocked(s)
	if s.NPages > npages {
		rest := &span.Span{
			Start:     s.Start + span.PageID(npages),
			NPages:    s.NPages - npages,
			Scavenged: s.Scavenged,
			Class:     span.NoClass,
		}
		s.NPages = npages
		c.insertFreeLocked(rest)
		c.splits++
	}

	*s = span.Span{
		Start:  s.Start,
		NPages: s.NPages,
		State:  span.InUse,
		Class:  span.NoClass,
	}
	c.tracker.SetRange(s)
	c.spansInUse++
	return s, nil
}

// FreeSpan returns an in-use span to the heap and merges it with free
// address-adjacent neighbours.
func (c *Cache) FreeSpan(s *span.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.State != span.InUse {
		panic(fmt.Errorf("%w: %s", ErrBadSpan, s))
	}
	c.spansInUse--
	s.Class = span.NoClass
	s.ElemSize = 0
	s.Allocated = 0
	c.freeLocked(s)
}

// Lookup returns the span owning addr, or nil when addr was never handed out.
// Safe for concurrent use without the heap lock.
func (c *Cache) Lookup(addr uintptr) *span.Span {
	return c.tracker.Lookup(addr)
}

// Scavenge hands the memory of every free span back to the OS. Spans stay in
// the registry and remain usable. Returns the number of bytes released.
func (c *Cache) Scavenge() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()

	var released uintptr
	visit := func(s *span.Span) {
		if s.Scavenged {
			return
		}
		off := s.Base() - c.base
		start, _ := buf.AlignUp(off, c.gran)
		end := buf.AlignDown(off+s.Bytes(), c.gran)
		if end <= start {
			// Smaller than one commit unit; nothing can be handed back.
			return
		}
		if err := c.mem.Decommit(start, end-start); err != nil {
			c.log.Warn("pagecache: decommit failed", "off", start, "bytes", end-start, "error", err)
			return
		}
		released += end - start
		s.Scavenged = true
		c.scavengedPages += s.NPages
		c.scavenges++
	}

	for i := range c.free {
		for s := c.free[i].First(); s != nil; s = s.Next() {
			visit(s)
		}
	}
	for _, s := range c.large {
		visit(s)
	}

	if released > 0 {
		c.log.Debug("pagecache: scavenged", "bytes", released)
	}
	return released
}

// Stats returns a snapshot of the heap counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		CommittedBytes: c.committed,
		ReservedBytes:  c.mem.Size(),
		FreeBytes:      c.freePages << sizeclass.PageShift,
		ScavengedBytes: c.scavengedPages << sizeclass.PageShift,
		SpansInUse:     c.spansInUse,
		FreeSpans:      c.freeSpans,
		Grows:          c.grows,
		Splits:         c.splits,
		Coalesces:      c.coalesces,
		Scavenges:      c.scavenges,
	}
}

// findLocked returns the smallest free span of at least npages pages.
func (c *Cache) findLocked(npages uintptr) *span.Span {
	for n := npages; n < MaxPages; n++ {
		if s := c.free[n].First(); s != nil {
			return s
		}
	}
	i := sort.Search(len(c.large), func(i int) bool {
		return c.large[i].NPages >= npages
	})
	if i < len(c.large) {
		return c.large[i]
	}
	return nil
}

// growLocked commits fresh pages at the arena tail and frees them into the
// registry.
func (c *Cache) growLocked(npages uintptr) error {
	size := c.mem.Size()
	want, ok := buf.MulOverflowSafe(max(npages, c.growPages), sizeclass.PageSize)
	if ok {
		want, ok = buf.AlignUp(want, c.gran)
	}
	if !ok || want > size-c.committed {
		// Settle for exactly what the request needs.
		want, ok = buf.MulOverflowSafe(npages, sizeclass.PageSize)
		if ok {
			want, ok = buf.AlignUp(want, c.gran)
		}
		if !ok || want > size-c.committed {
			c.log.Warn("pagecache: out of memory",
				"pages", npages, "committed", c.committed, "reserved", size)
			return fmt.Errorf("%w: %d pages requested, %d of %d bytes committed",
				ErrOutOfMemory, npages, c.committed, size)
		}
	}

	if err := c.mem.Commit(c.committed, want); err != nil {
		c.log.Warn("pagecache: commit failed", "bytes", want, "error", err)
		return fmt.Errorf("%w: commit %d bytes: %w", ErrOutOfMemory, want, err)
	}

	s := &span.Span{
		Start:  span.PageOf(c.base + c.committed),
		NPages: want >> sizeclass.PageShift,
		Class:  span.NoClass,
	}
	c.committed += want
	c.grows++
	c.log.Debug("pagecache: grew heap", "bytes", want, "committed", c.committed)

	c.freeLocked(s)
	return nil
}

// freeLocked merges s with free neighbours until none is left, then inserts
// the result into the registry.
func (c *Cache) freeLocked(s *span.Span) {
	s.State = span.Free
	for {
		merged := false
		if prev := c.tracker.Get(s.Start - 1); prev != nil && prev.State == span.Free && prev.End() == s.Start {
			c.removeFreeLocked(prev)
			s.Start = prev.Start
			s.NPages += prev.NPages
			s.Scavenged = s.Scavenged && prev.Scavenged
			prev.State = span.Dead
			c.coalesces++
			merged = true
		}
		if next := c.tracker.Get(s.End()); next != nil && next.State == span.Free && next.Start == s.End() {
			c.removeFreeLocked(next)
			s.NPages += next.NPages
			s.Scavenged = s.Scavenged && next.Scavenged
			next.State = span.Dead
			c.coalesces++
			merged = true
		}
		if !merged {
			break
		}
	}
	c.insertFreeLocked(s)
}

func (c *Cache) insertFreeLocked(s *span.Span) {
	s.State = span.Free
	c.tracker.SetBounds(s)
	if s.NPages < MaxPages {
		c.free[s.NPages].PushFront(s)
	} else {
		i, _ := slices.BinarySearchFunc(c.large, s, compareSpans)
		c.large = slices.Insert(c.large, i, s)
	}
	c.freePages += s.NPages
	if s.Scavenged {
		c.scavengedPages += s.NPages
	}
	c.freeSpans++
}

func (c *Cache) removeFreeLocked(s *span.Span) {
	if s.NPages < MaxPages {
		c.free[s.NPages].Remove(s)
	} else {
		i, found := slices.BinarySearchFunc(c.large, s, compareSpans)
		if !found {
			panic(fmt.Errorf("%w: free span missing from registry: %s", ErrBadSpan, s))
		}
		c.large = slices.Delete(c.large, i, i+1)
	}
	c.freePages -= s.NPages
	if s.Scavenged {
		c.scavengedPages -= s.NPages
	}
	c.freeSpans--
}

func compareSpans(a, b *span.Span) int {
	if c := cmp.Compare(a.NPages, b.NPages); c != 0 {
		return c
	}
	return cmp.Compare(a.Start, b.Start)
}
