package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/allockit/internal/buf"
	"github.com/joshuapare/allockit/internal/logger"
	"github.com/joshuapare/allockit/internal/osmem"
	"github.com/joshuapare/allockit/pool/central"
	"github.com/joshuapare/allockit/pool/pagecache"
	"github.com/joshuapare/allockit/pool/sizeclass"
	"github.com/joshuapare/allockit/pool/span"
	"github.com/joshuapare/allockit/pool/threadcache"
)

// Allocator is a thread-caching allocator over one reserved arena.
//
// Alloc, Dealloc and the byte-slice helpers are safe for concurrent use.
// Flush, Trim and Close require that no other call is in flight.
type Allocator struct {
	region  *osmem.Region
	pages   *pagecache.Cache
	central *central.Cache
	slots   *slotTable
	log     *slog.Logger

	largeAllocs atomic.Uint64
	largeFrees  atomic.Uint64
	reclaims    atomic.Uint64

	localsMu sync.Mutex
	locals   map[*ThreadCache]struct{}
	retired  threadcache.Stats // counters of closed ThreadCaches

	closed atomic.Bool
}

// New reserves an arena and builds an allocator over it.
//
// If the default arena cannot be reserved, New retries with the smaller
// fallback reservation before giving up.
func New(opts Options) (*Allocator, error) {
	defaulted := opts.ArenaSize == 0
	opts = opts.withDefaults()

	log := opts.Logger
	if log == nil {
		log = logger.L
	}

	arena, ok := buf.AlignUp(opts.ArenaSize, sizeclass.PageSize)
	if !ok {
		return nil, fmt.Errorf("pool: arena size %d overflows", opts.ArenaSize)
	}
	region, err := osmem.Reserve(arena, sizeclass.PageSize)
	if err != nil && defaulted && arena > osmem.FallbackReserve {
		log.Warn("pool: default arena reservation failed, retrying smaller",
			"size", arena, "fallback", osmem.FallbackReserve, "error", err)
		region, err = osmem.Reserve(osmem.FallbackReserve, sizeclass.PageSize)
	}
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	if opts.HugePages {
		if herr := region.HugePages(); herr != nil {
			log.Debug("pool: huge page hint rejected", "error", herr)
		}
	}

	pages, err := pagecache.New(region, pagecache.Options{
		GrowPages:         opts.GrowPages,
		CommitGranularity: osmem.Granularity(),
		Logger:            log,
	})
	if err != nil {
		_ = region.Release()
		return nil, fmt.Errorf("pool: %w", err)
	}

	cc := central.New(pages, log)
	a := &Allocator{
		region:  region,
		pages:   pages,
		central: cc,
		slots:   newSlotTable(opts.CacheSlots, cc),
		log:     log,
		locals:  make(map[*ThreadCache]struct{}),
	}
	log.Debug("pool: allocator ready",
		"arena", region.Size(), "slots", opts.CacheSlots, "grow_pages", opts.GrowPages)
	return a, nil
}

// Alloc returns size bytes of uninitialised memory. Requests above 256KB get
// their own page-aligned span; smaller ones are rounded up to a size class.
//
// When the arena is exhausted, blocks idle in the shared slots are returned
// to the page heap and the request is retried once before ErrOutOfMemory.
func (a *Allocator) Alloc(size uintptr) (unsafe.Pointer, error) {
	return a.alloc(size, nil)
}

// Dealloc returns memory obtained from Alloc. A nil pointer is a no-op.
func (a *Allocator) Dealloc(p unsafe.Pointer) {
	a.dealloc(p, nil)
}

// AllocBytes returns an n-byte slice backed by allocator memory. Release it
// with FreeBytes, passing the slice as returned (not a reslice of it).
func (a *Allocator) AllocBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidSize
	}
	p, err := a.Alloc(uintptr(n))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(p), n), nil
}

// FreeBytes releases a slice obtained from AllocBytes. Empty slices are ignored.
func (a *Allocator) FreeBytes(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.Dealloc(unsafe.Pointer(unsafe.SliceData(b)))
}

// UsableSize returns the number of bytes actually backing p: the size class
// block size, or the span size for a large object. It returns 0 for nil and
// for pointers the allocator does not own.
func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	addr := uintptr(p)
	s := a.pages.Lookup(addr)
	if s == nil || s.State != span.InUse {
		return 0
	}
	if s.IsLarge() {
		if addr != s.Base() {
			return 0
		}
		return s.Bytes()
	}
	if !s.IsBlock(addr) {
		return 0
	}
	return s.ElemSize
}

// Flush returns every block cached in the shared slots to the central
// cache. ThreadCaches from NewThreadCache are flushed by their owners.
func (a *Allocator) Flush() {
	a.slots.flush()
}

// Trim flushes the shared slots and hands free pages back to the OS.
// It returns the number of bytes released.
func (a *Allocator) Trim() uintptr {
	a.Flush()
	n := a.pages.Scavenge()
	a.log.Debug("pool: trim", "released", n)
	return n
}

// Close releases the arena. Memory handed out by the allocator must not be
// touched afterwards.
func (a *Allocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := a.region.Release(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return nil
}

func (a *Allocator) alloc(size uintptr, tc *threadcache.Cache) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	class, ok := sizeclass.ClassOf(size)
	if !ok {
		return a.allocLarge(size, tc)
	}

	addr, err := a.allocSmall(class, tc)
	if errors.Is(err, ErrOutOfMemory) {
		a.reclaim(tc)
		addr, err = a.allocSmall(class, tc)
	}
	if err != nil {
		return nil, fmt.Errorf("pool: alloc %d bytes: %w", size, err)
	}
	return unsafe.Pointer(addr), nil
}

func (a *Allocator) allocSmall(class int, tc *threadcache.Cache) (uintptr, error) {
	if tc != nil {
		return tc.Alloc(class)
	}
	return a.slots.alloc(class)
}

func (a *Allocator) allocLarge(size uintptr, tc *threadcache.Cache) (unsafe.Pointer, error) {
	npages := buf.DivRoundUp(size, sizeclass.PageSize)
	s, err := a.pages.AllocSpan(npages)
	if errors.Is(err, ErrOutOfMemory) {
		a.reclaim(tc)
		s, err = a.pages.AllocSpan(npages)
	}
	if err != nil {
		return nil, fmt.Errorf("pool: alloc %d bytes: %w", size, err)
	}
	a.largeAllocs.Add(1)
	return unsafe.Pointer(s.Base()), nil
}

// reclaim returns idle cached blocks to the central cache, and through it any
// span left empty to the page heap. tc is the caller's own cache, if any.
func (a *Allocator) reclaim(tc *threadcache.Cache) {
	before := a.pages.Stats().FreeBytes
	if tc != nil {
		tc.Flush()
	}
	a.slots.reclaim()
	a.reclaims.Add(1)
	a.log.Debug("pool: reclaimed idle caches",
		"free_before", before, "free_after", a.pages.Stats().FreeBytes)
}

func (a *Allocator) dealloc(p unsafe.Pointer, tc *threadcache.Cache) {
	if p == nil {
		return
	}
	addr := uintptr(p)
	s := a.pages.Lookup(addr)
	if s == nil || s.State != span.InUse {
		a.corrupt(addr, s)
	}

	if s.IsLarge() {
		if addr != s.Base() {
			a.corrupt(addr, s)
		}
		a.pages.FreeSpan(s)
		a.largeFrees.Add(1)
		return
	}

	if !s.IsBlock(addr) {
		a.corrupt(addr, s)
	}
	if tc != nil {
		tc.Dealloc(s.Class, addr)
		return
	}
	a.slots.dealloc(s.Class, addr)
}

func (a *Allocator) corrupt(addr uintptr, s *span.Span) {
	owner := "no span"
	if s != nil {
		owner = s.String()
	}
	err := fmt.Errorf("%w: dealloc of %#x, owner %s", ErrCorruption, addr, owner)
	a.log.Error("pool: corruption", "error", err)
	panic(err)
}

// IsCorruption reports whether a recovered panic value is a corruption report.
func IsCorruption(r any) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, ErrCorruption)
}
