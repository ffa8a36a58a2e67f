// Package central implements the shared middle tier: one bucket of spans per
// size class, each behind its own lock, so threads contend only when they
// work on the same class at the same time.
//
// Buckets keep their spans in two lists. Partial spans still have blocks to
// hand out; full spans have every block out in some thread cache or in the
// application. A span moves between the lists as blocks leave and return, and
// goes back to the page heap the moment its last block comes home.
package central

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/allockit/internal/logger"
	"github.com/joshuapare/allockit/pool/block"
	"github.com/joshuapare/allockit/pool/sizeclass"
	"github.com/joshuapare/allockit/pool/span"
)

// ErrCorruption indicates a block whose owning span does not match the class
// or address it was returned under. Continuing would corrupt unrelated
// allocations, so it is raised as a panic.
var ErrCorruption = errors.New("central: heap corruption detected")

// PageSource is the page heap as seen by the central tier.
// *pagecache.Cache satisfies it.
type PageSource interface {
	AllocSpan(npages uintptr) (*span.Span, error)
	FreeSpan(s *span.Span)
	Lookup(addr uintptr) *span.Span
}

// cacheLine pads buckets apart so neighbouring class locks do not share a line.
const cacheLine = 64

type bucket struct {
	mu      sync.Mutex
	partial span.List
	full    span.List

	fetches  atomic.Uint64
	releases atomic.Uint64
	spans    atomic.Int64

	_ [cacheLine]byte
}

// Cache is the central free-list tier.
type Cache struct {
	pages   PageSource
	buckets [sizeclass.NumClasses]bucket
	log     *slog.Logger
}

// Stats is a snapshot of central cache counters.
type Stats struct {
	Fetches  uint64 // FetchBatch calls that returned blocks
	Releases uint64 // ReleaseBatch calls
	Spans    int64  // spans currently owned by buckets
}

// New creates a central cache drawing spans from pages.
// A nil log falls back to logger.L.
func New(pages PageSource, log *slog.Logger) *Cache {
	if log == nil {
		log = logger.L
	}
	return &Cache{pages: pages, log: log}
}

// FetchBatch detaches up to max blocks of class. All blocks come from a
// single span, so fewer than max may be returned when that span runs low.
// When no span has free blocks, a new one is taken from the page heap; if
// that fails the returned batch is empty and the error wraps the cause.
func (c *Cache) FetchBatch(class, max int) (block.Batch, error) {
	b := &c.buckets[class]
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.partial.First()
	if s == nil {
		var err error
		s, err = c.newSpanLocked(b, class)
		if err != nil {
			return block.Batch{}, err
		}
	}

	batch := s.TakeBlocks(max)
	if s.FreeCount() == 0 {
		b.partial.Remove(s)
		b.full.PushBack(s)
	}
	b.fetches.Add(1)
	return batch, nil
}

// ReleaseBatch hands a chain of class blocks back to their spans. Spans that
// get every block back are returned to the page heap.
func (c *Cache) ReleaseBatch(class int, batch block.Batch) {
	if batch.N == 0 {
		return
	}
	b := &c.buckets[class]
	b.mu.Lock()
	defer b.mu.Unlock()

	addr := batch.Head
	for range batch.N {
		next := block.Next(addr)
		s := c.pages.Lookup(addr)
		if s == nil || s.State != span.InUse || s.Class != class ||
			!s.IsBlock(addr) || s.Allocated == 0 {
			c.corrupt(class, addr, s)
		}

		wasFull := s.OnList(&b.full)
		s.PutBlock(addr)
		switch {
		case s.Allocated == 0:
			if wasFull {
				b.full.Remove(s)
			} else {
				b.partial.Remove(s)
			}
			b.spans.Add(-1)
			c.pages.FreeSpan(s)
		case wasFull:
			b.full.Remove(s)
			b.partial.PushFront(s)
		}
		addr = next
	}
	b.releases.Add(1)
}

// Stats sums the bucket counters.
func (c *Cache) Stats() Stats {
	var st Stats
	for i := range c.buckets {
		b := &c.buckets[i]
		st.Fetches += b.fetches.Load()
		st.Releases += b.releases.Load()
		st.Spans += b.spans.Load()
	}
	return st
}

// ClassSpans returns the partial and full span counts of one class.
func (c *Cache) ClassSpans(class int) (partial, full int) {
	b := &c.buckets[class]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.partial.Len(), b.full.Len()
}

func (c *Cache) newSpanLocked(b *bucket, class int) (*span.Span, error) {
	s, err := c.pages.AllocSpan(sizeclass.SpanPages(class))
	if err != nil {
		return nil, fmt.Errorf("central: class %d: %w", class, err)
	}
	s.InitBlocks(class, sizeclass.BlockSize(class))
	b.partial.PushFront(s)
	b.spans.Add(1)
	return s, nil
}

func (c *Cache) corrupt(class int, addr uintptr, s *span.Span) {
	owner := "no span"
	if s != nil {
		owner = s.String()
	}
	err := fmt.Errorf("%w: block %#x released as class %d, owner %s", ErrCorruption, addr, class, owner)
	c.log.Error("central: corruption", "error", err)
	panic(err)
}
